package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snapwarden/providers"
	"github.com/yairfalse/snapwarden/providers/fake"
	"github.com/yairfalse/snapwarden/types"
)

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func seed() *fake.Gateway {
	return fake.New(
		types.Instance{
			ID:    "i-1",
			State: types.PowerRunning,
			Volumes: []types.Volume{
				{
					ID:          "vol-1",
					Attachments: []types.Attachment{{InstanceID: "i-1", Device: "/dev/xvda"}},
					Snapshots: []types.Snapshot{
						{ID: "snap-a", State: types.SnapshotCompleted, StartTime: base},
						{ID: "snap-b", State: types.SnapshotPending, StartTime: base.Add(time.Hour)},
					},
				},
				{ID: "vol-2"},
			},
		},
		types.Instance{ID: "i-2", State: types.PowerStopped},
	)
}

func describeAll(t *testing.T, gw providers.Gateway) []types.Instance {
	instances, err := gw.DescribeInstances(context.Background(), providers.InstanceFilter{})
	require.NoError(t, err)
	return instances
}

func TestBuild_LoadsVolumesAndSortedSnapshots(t *testing.T) {
	gw := seed()
	table := Build(context.Background(), gw, describeAll(t, gw), Full, zerolog.Nop())

	instances := table.Instances()
	require.Len(t, instances, 2)
	assert.Equal(t, 2, table.VolumeCount())
	assert.False(t, table.BuiltAt.IsZero())

	vol := instances[0].Volumes[0]
	require.NoError(t, vol.Err)
	require.Len(t, vol.Snapshots, 2)
	assert.Equal(t, "snap-b", vol.Snapshots[0].ID)
}

func TestBuild_MissingAttachmentIsolatedToVolume(t *testing.T) {
	gw := seed()
	table := Build(context.Background(), gw, describeAll(t, gw), Full, zerolog.Nop())

	inst := table.Instances()[0]
	assert.NoError(t, inst.Err)
	assert.NoError(t, inst.Volumes[0].Err)
	assert.ErrorIs(t, inst.Volumes[1].Err, types.ErrMissingAttachment)
}

func TestBuild_DescribeFailureIsolatedToInstance(t *testing.T) {
	gw := seed()
	gw.FailOn("DescribeVolumes", "i-1", errors.New("throttled"))

	table := Build(context.Background(), gw, describeAll(t, gw), Full, zerolog.Nop())
	instances := table.Instances()
	require.Len(t, instances, 2)
	assert.Error(t, instances[0].Err)
	assert.NoError(t, instances[1].Err)
}

func TestBuild_SnapshotFailureIsolatedToVolume(t *testing.T) {
	gw := seed()
	gw.FailOn("DescribeSnapshots", "vol-1", errors.New("denied"))

	table := Build(context.Background(), gw, describeAll(t, gw), Full, zerolog.Nop())
	inst := table.Instances()[0]
	assert.Error(t, inst.Volumes[0].Err)
	assert.Len(t, inst.Volumes, 2)
}

func TestBuild_VolumesOnlySkipsSnapshotCalls(t *testing.T) {
	gw := seed()
	Build(context.Background(), gw, describeAll(t, gw), Options{Volumes: true}, zerolog.Nop())
	assert.Equal(t, 0, gw.Count("DescribeSnapshots", ""))
	assert.Equal(t, 2, gw.Count("DescribeVolumes", ""))
}

func TestTable_IsFrozen(t *testing.T) {
	gw := seed()
	table := Build(context.Background(), gw, describeAll(t, gw), Full, zerolog.Nop())

	first := table.Instances()
	first[0].State = types.PowerStopped
	first[0].Volumes[0].Snapshots = nil

	// later cloud mutations are not visible either
	_, err := gw.CreateSnapshot(context.Background(), "vol-1", "x")
	require.NoError(t, err)

	again := table.Instances()
	assert.Equal(t, types.PowerRunning, again[0].State)
	assert.Len(t, again[0].Volumes[0].Snapshots, 2)
}

func TestDisplaySnapshots(t *testing.T) {
	v := types.Volume{Snapshots: []types.Snapshot{
		{ID: "s4", State: types.SnapshotPending},
		{ID: "s3", State: types.SnapshotCompleted},
		{ID: "s2", State: types.SnapshotCompleted},
		{ID: "s1", State: types.SnapshotCompleted},
	}}

	shown := DisplaySnapshots(v, false)
	require.Len(t, shown, 2)
	assert.Equal(t, "s3", shown[1].ID)

	assert.Len(t, DisplaySnapshots(v, true), 4)

	pendingOnly := types.Volume{Snapshots: []types.Snapshot{{ID: "p", State: types.SnapshotPending}}}
	assert.Len(t, DisplaySnapshots(pendingOnly, false), 1)
	assert.Empty(t, DisplaySnapshots(types.Volume{}, false))
}
