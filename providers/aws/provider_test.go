package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snapwarden/providers"
	"github.com/yairfalse/snapwarden/types"
)

// mockEC2Client implements EC2API for testing.
type mockEC2Client struct {
	describeInstancesFunc  func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	describeVolumesFunc    func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	describeSnapshotsFunc  func(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	stopInstancesFunc      func(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	startInstancesFunc     func(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	createSnapshotFunc     func(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	detachVolumeFunc       func(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error)
	terminateInstancesFunc func(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.describeInstancesFunc != nil {
		return m.describeInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeInstancesOutput{}, nil
}

func (m *mockEC2Client) DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	if m.describeVolumesFunc != nil {
		return m.describeVolumesFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeVolumesOutput{}, nil
}

func (m *mockEC2Client) DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
	if m.describeSnapshotsFunc != nil {
		return m.describeSnapshotsFunc(ctx, params, optFns...)
	}
	return &ec2.DescribeSnapshotsOutput{}, nil
}

func (m *mockEC2Client) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	if m.stopInstancesFunc != nil {
		return m.stopInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.StopInstancesOutput{}, nil
}

func (m *mockEC2Client) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	if m.startInstancesFunc != nil {
		return m.startInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.StartInstancesOutput{}, nil
}

func (m *mockEC2Client) RebootInstances(ctx context.Context, params *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error) {
	return &ec2.RebootInstancesOutput{}, nil
}

func (m *mockEC2Client) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	if m.terminateInstancesFunc != nil {
		return m.terminateInstancesFunc(ctx, params, optFns...)
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func (m *mockEC2Client) CreateSnapshot(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error) {
	if m.createSnapshotFunc != nil {
		return m.createSnapshotFunc(ctx, params, optFns...)
	}
	return &ec2.CreateSnapshotOutput{SnapshotId: aws.String("snap-new")}, nil
}

func (m *mockEC2Client) DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error) {
	return &ec2.DeleteSnapshotOutput{}, nil
}

func (m *mockEC2Client) DetachVolume(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error) {
	if m.detachVolumeFunc != nil {
		return m.detachVolumeFunc(ctx, params, optFns...)
	}
	return &ec2.DetachVolumeOutput{}, nil
}

func (m *mockEC2Client) DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	return &ec2.DeleteVolumeOutput{}, nil
}

func instanceOutput(id string, state ec2types.InstanceStateName) *ec2.DescribeInstancesOutput {
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				InstanceId:    aws.String(id),
				InstanceType:  ec2types.InstanceTypeT3Micro,
				State:         &ec2types.InstanceState{Name: state},
				Placement:     &ec2types.Placement{AvailabilityZone: aws.String("ap-southeast-2a")},
				PublicDnsName: aws.String("ec2-1-2-3-4.compute.amazonaws.com"),
				Tags: []ec2types.Tag{
					{Key: aws.String("Project"), Value: aws.String("web")},
				},
			}},
		}},
	}
}

func TestProvider_DescribeInstances_ByProject(t *testing.T) {
	var captured *ec2.DescribeInstancesInput
	mock := &mockEC2Client{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			captured = params
			return instanceOutput("i-1", ec2types.InstanceStateNameRunning), nil
		},
	}

	p := NewWithClient(mock, "ap-southeast-2")
	instances, err := p.DescribeInstances(context.Background(), providers.InstanceFilter{
		Tags: map[string]string{"Project": "web"},
	})

	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "i-1", instances[0].ID)
	assert.Equal(t, types.PowerRunning, instances[0].State)
	assert.Equal(t, "ap-southeast-2a", instances[0].AZ)
	assert.Equal(t, "t3.micro", instances[0].Type)
	assert.Equal(t, "web", instances[0].Project())

	require.NotNil(t, captured)
	assert.Empty(t, captured.InstanceIds)
	require.Len(t, captured.Filters, 1)
	assert.Equal(t, "tag:Project", aws.ToString(captured.Filters[0].Name))
	assert.Equal(t, []string{"web"}, captured.Filters[0].Values)
}

func TestProvider_DescribeInstances_ByID(t *testing.T) {
	mock := &mockEC2Client{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			assert.Equal(t, []string{"i-1"}, params.InstanceIds)
			assert.Empty(t, params.Filters)
			return instanceOutput("i-1", ec2types.InstanceStateNameStopped), nil
		},
	}

	p := NewWithClient(mock, "ap-southeast-2")
	instances, err := p.DescribeInstances(context.Background(), providers.InstanceFilter{IDs: []string{"i-1"}})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, types.PowerStopped, instances[0].State)
}

func TestProvider_DescribeVolumes(t *testing.T) {
	mock := &mockEC2Client{
		describeVolumesFunc: func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
			require.Len(t, params.Filters, 1)
			assert.Equal(t, "attachment.instance-id", aws.ToString(params.Filters[0].Name))
			return &ec2.DescribeVolumesOutput{
				Volumes: []ec2types.Volume{
					{
						VolumeId:  aws.String("vol-1"),
						Size:      aws.Int32(100),
						Encrypted: aws.Bool(true),
						State:     ec2types.VolumeStateInUse,
						Attachments: []ec2types.VolumeAttachment{
							{InstanceId: aws.String("i-1"), Device: aws.String("/dev/xvda")},
						},
					},
					{VolumeId: aws.String("vol-2"), Size: aws.Int32(8)},
				},
			}, nil
		},
	}

	p := NewWithClient(mock, "ap-southeast-2")
	volumes, err := p.DescribeVolumes(context.Background(), "i-1")
	require.NoError(t, err)
	require.Len(t, volumes, 2)

	assert.Equal(t, "vol-1", volumes[0].ID)
	assert.Equal(t, int32(100), volumes[0].SizeGiB)
	assert.True(t, volumes[0].Encrypted)
	dev, err := volumes[0].Device()
	require.NoError(t, err)
	assert.Equal(t, "/dev/xvda", dev)

	_, err = volumes[1].Device()
	assert.ErrorIs(t, err, types.ErrMissingAttachment)
}

func TestProvider_DescribeSnapshots_NewestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := &mockEC2Client{
		describeSnapshotsFunc: func(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error) {
			assert.Equal(t, []string{"self"}, params.OwnerIds)
			assert.Equal(t, []string{"vol-1"}, params.Filters[0].Values)
			return &ec2.DescribeSnapshotsOutput{
				Snapshots: []ec2types.Snapshot{
					{SnapshotId: aws.String("snap-old"), VolumeId: aws.String("vol-1"), State: ec2types.SnapshotStateCompleted, StartTime: aws.Time(base)},
					{SnapshotId: aws.String("snap-new"), VolumeId: aws.String("vol-1"), State: ec2types.SnapshotStatePending, Progress: aws.String("42%"), StartTime: aws.Time(base.Add(time.Hour))},
				},
			}, nil
		},
	}

	p := NewWithClient(mock, "ap-southeast-2")
	snaps, err := p.DescribeSnapshots(context.Background(), "vol-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "snap-new", snaps[0].ID)
	assert.Equal(t, types.SnapshotPending, snaps[0].State)
	assert.Equal(t, "42%", snaps[0].Progress)
	assert.Equal(t, "snap-old", snaps[1].ID)
}

func TestProvider_CreateSnapshot_Tags(t *testing.T) {
	mock := &mockEC2Client{
		createSnapshotFunc: func(ctx context.Context, params *ec2.CreateSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error) {
			assert.Equal(t, "vol-1", aws.ToString(params.VolumeId))
			assert.Equal(t, "Created by snapwarden", aws.ToString(params.Description))
			require.Len(t, params.TagSpecifications, 1)
			assert.Equal(t, ec2types.ResourceTypeSnapshot, params.TagSpecifications[0].ResourceType)
			assert.Equal(t, CreatedByTag, aws.ToString(params.TagSpecifications[0].Tags[0].Key))
			return &ec2.CreateSnapshotOutput{SnapshotId: aws.String("snap-123")}, nil
		},
	}

	p := NewWithClient(mock, "ap-southeast-2")
	id, err := p.CreateSnapshot(context.Background(), "vol-1", "Created by snapwarden")
	require.NoError(t, err)
	assert.Equal(t, "snap-123", id)
}

func TestProvider_ClassifiesAPIErrors(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"UnauthorizedOperation", providers.ErrPermissionDenied},
		{"IncorrectInstanceState", providers.ErrInvalidState},
		{"RequestLimitExceeded", providers.ErrThrottled},
		{"InvalidInstanceID.NotFound", providers.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			mock := &mockEC2Client{
				stopInstancesFunc: func(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
					return nil, &smithy.GenericAPIError{Code: tt.code, Message: "boom"}
				},
			}
			p := NewWithClient(mock, "ap-southeast-2")
			err := p.StopInstance(context.Background(), "i-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var perr *providers.Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "i-1", perr.ResourceID)
		})
	}
}

func TestProvider_UnclassifiedErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	mock := &mockEC2Client{
		detachVolumeFunc: func(ctx context.Context, params *ec2.DetachVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DetachVolumeOutput, error) {
			return nil, cause
		},
	}
	p := NewWithClient(mock, "ap-southeast-2")
	err := p.DetachVolume(context.Background(), "vol-1")
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, providers.ErrWaitTimeout)
}

func TestProvider_WaitStopped_Succeeds(t *testing.T) {
	mock := &mockEC2Client{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return instanceOutput("i-1", ec2types.InstanceStateNameStopped), nil
		},
	}
	p := NewWithClient(mock, "ap-southeast-2")
	p.SetPolling(time.Millisecond, 5*time.Millisecond)

	require.NoError(t, p.WaitStopped(context.Background(), "i-1", time.Second))
}

func TestProvider_WaitStopped_TimeoutIsDistinct(t *testing.T) {
	mock := &mockEC2Client{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return instanceOutput("i-1", ec2types.InstanceStateNameStopping), nil
		},
	}
	p := NewWithClient(mock, "ap-southeast-2")
	p.SetPolling(5*time.Millisecond, 10*time.Millisecond)

	err := p.WaitStopped(context.Background(), "i-1", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, providers.IsWaitTimeout(err))
}

func TestProvider_WaitRunning(t *testing.T) {
	mock := &mockEC2Client{
		describeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return instanceOutput("i-1", ec2types.InstanceStateNameRunning), nil
		},
	}
	p := NewWithClient(mock, "ap-southeast-2")
	p.SetPolling(time.Millisecond, 5*time.Millisecond)

	require.NoError(t, p.WaitRunning(context.Background(), "i-1", time.Second))
}

func TestProvider_WaitVolumeAvailable(t *testing.T) {
	mock := &mockEC2Client{
		describeVolumesFunc: func(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
			assert.Equal(t, []string{"vol-1"}, params.VolumeIds)
			return &ec2.DescribeVolumesOutput{
				Volumes: []ec2types.Volume{{VolumeId: aws.String("vol-1"), State: ec2types.VolumeStateAvailable}},
			}, nil
		},
	}
	p := NewWithClient(mock, "ap-southeast-2")
	p.SetPolling(time.Millisecond, 5*time.Millisecond)

	require.NoError(t, p.WaitVolumeAvailable(context.Background(), "vol-1", time.Second))
}

func TestProvider_SetPollingKeepsOrder(t *testing.T) {
	p := NewWithClient(&mockEC2Client{}, "us-east-1")
	p.SetPolling(time.Minute, time.Second)
	assert.Equal(t, time.Minute, p.pollMin)
	assert.Equal(t, time.Minute, p.pollMax)
	assert.Equal(t, "aws", p.Name())
	assert.Equal(t, "us-east-1", p.Region())
}
