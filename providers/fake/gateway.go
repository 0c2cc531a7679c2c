// Package fake provides an in-memory Gateway for tests.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yairfalse/snapwarden/providers"
	"github.com/yairfalse/snapwarden/types"
)

// Gateway keeps instances, volumes and snapshots in memory and records every call
type Gateway struct {
	ProviderName   string
	ProviderRegion string

	// Now stamps created snapshots
	Now func() time.Time

	// OnCall runs before each recorded call, after the lock is released
	OnCall func(op, id string)

	mu        sync.Mutex
	instances []types.Instance
	calls     []string
	failures  map[string]error
	seq       int
}

// New creates a fake gateway seeded with instances. Volumes and snapshots
// nested in the instances become the fake's cloud state.
func New(instances ...types.Instance) *Gateway {
	g := &Gateway{
		ProviderName:   "fake",
		ProviderRegion: "local-1",
		Now:            time.Now,
		failures:       make(map[string]error),
	}
	for _, inst := range instances {
		g.instances = append(g.instances, inst.Clone())
	}
	return g
}

// FailOn makes the call op on id return err. An empty id fails every call of op.
func (g *Gateway) FailOn(op, id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op+":"+id] = err
}

// Ops returns the recorded calls as "Op:id"
func (g *Gateway) Ops() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// Count returns how often op was called for id. An empty id counts every call of op.
func (g *Gateway) Count(op, id string) int {
	n := 0
	for _, c := range g.Ops() {
		callOp, callID, _ := strings.Cut(c, ":")
		if callOp == op && (id == "" || callID == id) {
			n++
		}
	}
	return n
}

// Index returns the position of the first "op:id" call, or -1
func (g *Gateway) Index(op, id string) int {
	for i, c := range g.Ops() {
		if c == op+":"+id {
			return i
		}
	}
	return -1
}

// Instance returns the current fake state of an instance
func (g *Gateway) Instance(id string) (types.Instance, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, inst := range g.instances {
		if inst.ID == id {
			return inst.Clone(), true
		}
	}
	return types.Instance{}, false
}

func (g *Gateway) record(op, id string) error {
	g.mu.Lock()
	g.calls = append(g.calls, op+":"+id)
	err, ok := g.failures[op+":"+id]
	if !ok {
		err = g.failures[op+":"]
	}
	hook := g.OnCall
	g.mu.Unlock()

	if hook != nil {
		hook(op, id)
	}
	return err
}

func (g *Gateway) Name() string   { return g.ProviderName }
func (g *Gateway) Region() string { return g.ProviderRegion }

func (g *Gateway) DescribeInstances(ctx context.Context, filter providers.InstanceFilter) ([]types.Instance, error) {
	if err := g.record("DescribeInstances", strings.Join(filter.IDs, ",")); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var out []types.Instance
	for _, inst := range g.instances {
		if !matches(inst, filter) {
			continue
		}
		c := inst.Clone()
		c.Volumes = nil
		out = append(out, c)
	}
	return out, nil
}

func matches(inst types.Instance, filter providers.InstanceFilter) bool {
	if len(filter.IDs) > 0 {
		found := false
		for _, id := range filter.IDs {
			if id == inst.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range filter.Tags {
		if inst.Tag(k) != v {
			return false
		}
	}
	return true
}

func (g *Gateway) DescribeVolumes(ctx context.Context, instanceID string) ([]types.Volume, error) {
	if err := g.record("DescribeVolumes", instanceID); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	inst := g.find(instanceID)
	if inst == nil {
		return nil, providers.NewError("DescribeVolumes", instanceID, providers.ErrNotFound, nil)
	}
	out := make([]types.Volume, 0, len(inst.Volumes))
	for _, v := range inst.Volumes {
		c := v.Clone()
		c.Snapshots = nil
		out = append(out, c)
	}
	return out, nil
}

func (g *Gateway) DescribeSnapshots(ctx context.Context, volumeID string) ([]types.Snapshot, error) {
	if err := g.record("DescribeSnapshots", volumeID); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	v := g.findVolume(volumeID)
	if v == nil {
		return nil, nil
	}
	return append([]types.Snapshot(nil), v.Snapshots...), nil
}

func (g *Gateway) StopInstance(ctx context.Context, instanceID string) error {
	return g.setState("StopInstance", instanceID, types.PowerStopped)
}

func (g *Gateway) WaitStopped(ctx context.Context, instanceID string, timeout time.Duration) error {
	return g.record("WaitStopped", instanceID)
}

func (g *Gateway) StartInstance(ctx context.Context, instanceID string) error {
	return g.setState("StartInstance", instanceID, types.PowerRunning)
}

func (g *Gateway) WaitRunning(ctx context.Context, instanceID string, timeout time.Duration) error {
	return g.record("WaitRunning", instanceID)
}

func (g *Gateway) RebootInstance(ctx context.Context, instanceID string) error {
	return g.record("RebootInstance", instanceID)
}

func (g *Gateway) TerminateInstance(ctx context.Context, instanceID string) error {
	return g.setState("TerminateInstance", instanceID, types.PowerTerminated)
}

func (g *Gateway) setState(op, instanceID string, state types.PowerState) error {
	if err := g.record(op, instanceID); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if inst := g.find(instanceID); inst != nil {
		inst.State = state
	}
	return nil
}

func (g *Gateway) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	if err := g.record("CreateSnapshot", volumeID); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := fmt.Sprintf("snap-%04d", g.seq)
	if v := g.findVolume(volumeID); v != nil {
		snap := types.Snapshot{
			ID:          id,
			VolumeID:    volumeID,
			State:       types.SnapshotPending,
			Progress:    "0%",
			StartTime:   g.Now().UTC(),
			Description: description,
		}
		v.Snapshots = append([]types.Snapshot{snap}, v.Snapshots...)
	}
	return id, nil
}

func (g *Gateway) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	if err := g.record("DeleteSnapshot", snapshotID); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.instances {
		for j := range g.instances[i].Volumes {
			v := &g.instances[i].Volumes[j]
			for k, s := range v.Snapshots {
				if s.ID == snapshotID {
					v.Snapshots = append(v.Snapshots[:k], v.Snapshots[k+1:]...)
					return nil
				}
			}
		}
	}
	return nil
}

func (g *Gateway) DetachVolume(ctx context.Context, volumeID string) error {
	if err := g.record("DetachVolume", volumeID); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if v := g.findVolume(volumeID); v != nil {
		v.State = "available"
	}
	return nil
}

func (g *Gateway) WaitVolumeAvailable(ctx context.Context, volumeID string, timeout time.Duration) error {
	return g.record("WaitVolumeAvailable", volumeID)
}

func (g *Gateway) DeleteVolume(ctx context.Context, volumeID string) error {
	if err := g.record("DeleteVolume", volumeID); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.instances {
		vols := g.instances[i].Volumes
		for j, v := range vols {
			if v.ID == volumeID {
				g.instances[i].Volumes = append(vols[:j], vols[j+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (g *Gateway) find(id string) *types.Instance {
	for i := range g.instances {
		if g.instances[i].ID == id {
			return &g.instances[i]
		}
	}
	return nil
}

func (g *Gateway) findVolume(id string) *types.Volume {
	for i := range g.instances {
		for j := range g.instances[i].Volumes {
			if g.instances[i].Volumes[j].ID == id {
				return &g.instances[i].Volumes[j]
			}
		}
	}
	return nil
}
