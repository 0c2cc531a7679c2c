package providers

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/yairfalse/snapwarden/types"
)

// RateLimited paces every gateway call through a token bucket. Waits are
// charged once per call, not per poll.
type RateLimited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewRateLimited wraps a gateway. A non-positive rps disables limiting.
func NewRateLimited(next Gateway, rps float64, burst int) Gateway {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

func (r *RateLimited) DescribeInstances(ctx context.Context, filter InstanceFilter) ([]types.Instance, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.DescribeInstances(ctx, filter)
}

func (r *RateLimited) DescribeVolumes(ctx context.Context, instanceID string) ([]types.Volume, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.DescribeVolumes(ctx, instanceID)
}

func (r *RateLimited) DescribeSnapshots(ctx context.Context, volumeID string) ([]types.Snapshot, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.DescribeSnapshots(ctx, volumeID)
}

func (r *RateLimited) StopInstance(ctx context.Context, instanceID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.StopInstance(ctx, instanceID)
}

func (r *RateLimited) WaitStopped(ctx context.Context, instanceID string, timeout time.Duration) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.WaitStopped(ctx, instanceID, timeout)
}

func (r *RateLimited) StartInstance(ctx context.Context, instanceID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.StartInstance(ctx, instanceID)
}

func (r *RateLimited) WaitRunning(ctx context.Context, instanceID string, timeout time.Duration) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.WaitRunning(ctx, instanceID, timeout)
}

func (r *RateLimited) RebootInstance(ctx context.Context, instanceID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.RebootInstance(ctx, instanceID)
}

func (r *RateLimited) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.next.CreateSnapshot(ctx, volumeID, description)
}

func (r *RateLimited) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.DeleteSnapshot(ctx, snapshotID)
}

func (r *RateLimited) DetachVolume(ctx context.Context, volumeID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.DetachVolume(ctx, volumeID)
}

func (r *RateLimited) WaitVolumeAvailable(ctx context.Context, volumeID string, timeout time.Duration) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.WaitVolumeAvailable(ctx, volumeID, timeout)
}

func (r *RateLimited) DeleteVolume(ctx context.Context, volumeID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.DeleteVolume(ctx, volumeID)
}

func (r *RateLimited) TerminateInstance(ctx context.Context, instanceID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.TerminateInstance(ctx, instanceID)
}

func (r *RateLimited) Name() string   { return r.next.Name() }
func (r *RateLimited) Region() string { return r.next.Region() }
