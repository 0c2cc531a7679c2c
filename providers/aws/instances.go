package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/snapwarden/providers"
	"github.com/yairfalse/snapwarden/types"
)

// DescribeInstances lists instances matching the filter. Volumes are not loaded.
func (p *Provider) DescribeInstances(ctx context.Context, filter providers.InstanceFilter) ([]types.Instance, error) {
	input := &ec2.DescribeInstancesInput{}
	if len(filter.IDs) > 0 {
		input.InstanceIds = filter.IDs
	}
	input.Filters = tagFilters(filter.Tags)

	var instances []types.Instance
	paginator := ec2.NewDescribeInstancesPaginator(p.client, input)
	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("DescribeInstances", fmt.Sprint(filter.IDs), err)
		}
		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				instances = append(instances, toInstance(instance))
			}
		}
	}
	return instances, nil
}

func tagFilters(tags map[string]string) []ec2types.Filter {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	filters := make([]ec2types.Filter, 0, len(keys))
	for _, k := range keys {
		filters = append(filters, ec2types.Filter{
			Name:   aws.String("tag:" + k),
			Values: []string{tags[k]},
		})
	}
	return filters
}

func toInstance(instance ec2types.Instance) types.Instance {
	inst := types.Instance{
		ID:            aws.ToString(instance.InstanceId),
		Type:          string(instance.InstanceType),
		State:         types.PowerUnknown,
		PublicDNSName: aws.ToString(instance.PublicDnsName),
		Tags:          fromEC2Tags(instance.Tags),
	}
	if instance.State != nil {
		inst.State = types.ParsePowerState(string(instance.State.Name))
	}
	if instance.Placement != nil {
		inst.AZ = aws.ToString(instance.Placement.AvailabilityZone)
	}
	return inst
}

func fromEC2Tags(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		out[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}

func (p *Provider) StopInstance(ctx context.Context, instanceID string) error {
	_, err := p.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	})
	return classify("StopInstances", instanceID, err)
}

func (p *Provider) StartInstance(ctx context.Context, instanceID string) error {
	_, err := p.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	return classify("StartInstances", instanceID, err)
}

func (p *Provider) RebootInstance(ctx context.Context, instanceID string) error {
	_, err := p.client.RebootInstances(ctx, &ec2.RebootInstancesInput{
		InstanceIds: []string{instanceID},
	})
	return classify("RebootInstances", instanceID, err)
}

func (p *Provider) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	return classify("TerminateInstances", instanceID, err)
}

// WaitStopped polls until the instance reports stopped or timeout elapses
func (p *Provider) WaitStopped(ctx context.Context, instanceID string, timeout time.Duration) error {
	waiter := ec2.NewInstanceStoppedWaiter(p.client, func(o *ec2.InstanceStoppedWaiterOptions) {
		o.MinDelay = p.pollMin
		o.MaxDelay = p.pollMax
	})
	err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}, timeout)
	return classifyWait("WaitStopped", instanceID, err)
}

// WaitRunning polls until the instance reports running or timeout elapses
func (p *Provider) WaitRunning(ctx context.Context, instanceID string, timeout time.Duration) error {
	waiter := ec2.NewInstanceRunningWaiter(p.client, func(o *ec2.InstanceRunningWaiterOptions) {
		o.MinDelay = p.pollMin
		o.MaxDelay = p.pollMax
	})
	err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}, timeout)
	return classifyWait("WaitRunning", instanceID, err)
}
