// Package inventory builds a frozen view of instances, their volumes and
// snapshot history. The view is a snapshot in time: cloud mutations made
// after Build are not reflected.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/snapwarden/providers"
	"github.com/yairfalse/snapwarden/types"
)

// Options control how deep Build loads
type Options struct {
	Volumes   bool
	Snapshots bool
}

// Full loads volumes and snapshots
var Full = Options{Volumes: true, Snapshots: true}

// Table is the frozen instance → volume → snapshot view
type Table struct {
	BuiltAt   time.Time
	instances []types.Instance
}

// Build loads volumes and snapshots for each instance. A failed describe
// call is recorded on the instance or volume row and never aborts the build.
func Build(ctx context.Context, gw providers.Gateway, instances []types.Instance, opts Options, logger zerolog.Logger) *Table {
	t := &Table{
		BuiltAt:   time.Now().UTC(),
		instances: make([]types.Instance, 0, len(instances)),
	}

	for _, inst := range instances {
		row := inst.Clone()
		row.Volumes = nil
		if opts.Volumes || opts.Snapshots {
			loadVolumes(ctx, gw, &row, opts, logger)
		}
		t.instances = append(t.instances, row)
	}
	return t
}

func loadVolumes(ctx context.Context, gw providers.Gateway, row *types.Instance, opts Options, logger zerolog.Logger) {
	volumes, err := gw.DescribeVolumes(ctx, row.ID)
	if err != nil {
		logger.Warn().Err(err).Str("instance_id", row.ID).Msg("failed to describe volumes")
		row.Err = fmt.Errorf("describe volumes: %w", err)
		return
	}

	for _, v := range volumes {
		if _, err := v.Device(); err != nil {
			v.Err = err
		}
		if opts.Snapshots {
			snaps, err := gw.DescribeSnapshots(ctx, v.ID)
			if err != nil {
				logger.Warn().Err(err).Str("volume_id", v.ID).Msg("failed to describe snapshots")
				v.Err = fmt.Errorf("describe snapshots: %w", err)
			} else {
				types.SortSnapshots(snaps)
				v.Snapshots = snaps
			}
		}
		row.Volumes = append(row.Volumes, v)
	}
}

// Instances returns a deep copy of every row in provider order
func (t *Table) Instances() []types.Instance {
	out := make([]types.Instance, len(t.instances))
	for i, inst := range t.instances {
		out[i] = inst.Clone()
	}
	return out
}

// Len returns the number of instance rows
func (t *Table) Len() int {
	return len(t.instances)
}

// VolumeCount returns the number of volume rows across all instances
func (t *Table) VolumeCount() int {
	n := 0
	for _, inst := range t.instances {
		n += len(inst.Volumes)
	}
	return n
}

// DisplaySnapshots returns the snapshots shown for a volume when listing.
// Without all, snapshots are listed newest first up to and including the
// first completed one.
func DisplaySnapshots(v types.Volume, all bool) []types.Snapshot {
	if all {
		return v.Snapshots
	}
	for i, s := range v.Snapshots {
		if s.State == types.SnapshotCompleted {
			return v.Snapshots[:i+1]
		}
	}
	return v.Snapshots
}
