package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/snapwarden/types"
)

// DescribeVolumes lists the volumes attached to an instance, in provider order
func (p *Provider) DescribeVolumes(ctx context.Context, instanceID string) ([]types.Volume, error) {
	input := &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("attachment.instance-id"),
			Values: []string{instanceID},
		}},
	}

	var volumes []types.Volume
	paginator := ec2.NewDescribeVolumesPaginator(p.client, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeVolumes", instanceID, err)
		}
		for _, volume := range output.Volumes {
			volumes = append(volumes, toVolume(volume))
		}
	}
	return volumes, nil
}

func toVolume(volume ec2types.Volume) types.Volume {
	v := types.Volume{
		ID:        aws.ToString(volume.VolumeId),
		State:     string(volume.State),
		SizeGiB:   aws.ToInt32(volume.Size),
		Encrypted: aws.ToBool(volume.Encrypted),
	}
	for _, att := range volume.Attachments {
		v.Attachments = append(v.Attachments, types.Attachment{
			InstanceID: aws.ToString(att.InstanceId),
			Device:     aws.ToString(att.Device),
		})
	}
	return v
}

// DescribeSnapshots lists snapshots owned by this account for a volume, newest first
func (p *Provider) DescribeSnapshots(ctx context.Context, volumeID string) ([]types.Snapshot, error) {
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
		Filters: []ec2types.Filter{{
			Name:   aws.String("volume-id"),
			Values: []string{volumeID},
		}},
	}

	var snapshots []types.Snapshot
	paginator := ec2.NewDescribeSnapshotsPaginator(p.client, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeSnapshots", volumeID, err)
		}
		for _, snapshot := range output.Snapshots {
			snapshots = append(snapshots, toSnapshot(snapshot))
		}
	}
	types.SortSnapshots(snapshots)
	return snapshots, nil
}

func toSnapshot(snapshot ec2types.Snapshot) types.Snapshot {
	return types.Snapshot{
		ID:          aws.ToString(snapshot.SnapshotId),
		VolumeID:    aws.ToString(snapshot.VolumeId),
		State:       types.SnapshotState(snapshot.State),
		Progress:    aws.ToString(snapshot.Progress),
		StartTime:   aws.ToTime(snapshot.StartTime).UTC(),
		Description: aws.ToString(snapshot.Description),
	}
}

// CreateSnapshot starts a snapshot and returns its ID. The snapshot is
// returned while still pending.
func (p *Provider) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	output, err := p.client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(description),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSnapshot,
			Tags: []ec2types.Tag{{
				Key:   aws.String(CreatedByTag),
				Value: aws.String("snapwarden"),
			}},
		}},
	})
	if err != nil {
		return "", classify("CreateSnapshot", volumeID, err)
	}
	return aws.ToString(output.SnapshotId), nil
}

func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	_, err := p.client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: aws.String(snapshotID),
	})
	return classify("DeleteSnapshot", snapshotID, err)
}

func (p *Provider) DetachVolume(ctx context.Context, volumeID string) error {
	_, err := p.client.DetachVolume(ctx, &ec2.DetachVolumeInput{
		VolumeId: aws.String(volumeID),
	})
	return classify("DetachVolume", volumeID, err)
}

func (p *Provider) DeleteVolume(ctx context.Context, volumeID string) error {
	_, err := p.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
		VolumeId: aws.String(volumeID),
	})
	return classify("DeleteVolume", volumeID, err)
}

// WaitVolumeAvailable polls until the volume is detached and available
func (p *Provider) WaitVolumeAvailable(ctx context.Context, volumeID string, timeout time.Duration) error {
	waiter := ec2.NewVolumeAvailableWaiter(p.client, func(o *ec2.VolumeAvailableWaiterOptions) {
		o.MinDelay = p.pollMin
		o.MaxDelay = p.pollMax
	})
	err := waiter.Wait(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{volumeID}}, timeout)
	return classifyWait("WaitVolumeAvailable", volumeID, err)
}
