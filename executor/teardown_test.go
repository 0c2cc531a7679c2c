package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snapwarden/providers/fake"
	"github.com/yairfalse/snapwarden/types"
)

type staticConfirmer struct {
	approved bool
	err      error
	requests []ConfirmationRequest
}

func (c *staticConfirmer) RequestConfirmation(ctx context.Context, req ConfirmationRequest) (*ConfirmationResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return &ConfirmationResponse{Approved: c.approved}, nil
}

func teardownOptions() Options {
	opts := DefaultOptions()
	opts.SkipConfirmation = true
	return opts
}

func TestTeardown_Order(t *testing.T) {
	inst := instance("i-1", types.PowerRunning, volume("vol-1",
		snap("snap-a", types.SnapshotCompleted, time.Hour),
		snap("snap-b", types.SnapshotCompleted, 48*time.Hour),
	))
	gw := fake.New(inst)
	engine := newTestEngine(gw, teardownOptions())

	report, err := engine.Teardown(context.Background(), []types.Instance{inst})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"StopInstance:i-1",
		"WaitStopped:i-1",
		"DeleteSnapshot:snap-a",
		"DeleteSnapshot:snap-b",
		"DetachVolume:vol-1",
		"WaitVolumeAvailable:vol-1",
		"DeleteVolume:vol-1",
		"TerminateInstance:i-1",
	}, gw.Ops())

	res := report.Instances[0]
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, types.PowerTerminated, res.FinalState)
	assert.False(t, res.Restarted)
	assert.Equal(t, 0, gw.Count("StartInstance", ""))
}

func TestTeardown_DetachFailureKeepsVolume(t *testing.T) {
	inst := instance("i-1", types.PowerStopped, volume("vol-1"), volume("vol-2"))
	gw := fake.New(inst)
	gw.FailOn("DetachVolume", "vol-1", errors.New("IncorrectState"))
	engine := newTestEngine(gw, teardownOptions())

	report, err := engine.Teardown(context.Background(), []types.Instance{inst})
	require.NoError(t, err)

	assert.Equal(t, 0, gw.Count("WaitVolumeAvailable", "vol-1"))
	assert.Equal(t, 0, gw.Count("DeleteVolume", "vol-1"))
	assert.Equal(t, 1, gw.Count("DeleteVolume", "vol-2"))
	assert.Equal(t, 1, gw.Count("TerminateInstance", "i-1"))

	res := report.Instances[0]
	assert.Equal(t, OutcomeFailed, res.Volumes[0].Outcome)
	assert.Contains(t, res.Volumes[0].Error, "detach failed")
	assert.Equal(t, OutcomeSuccess, res.Volumes[1].Outcome)
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestTeardown_WaitAvailableFailureKeepsVolume(t *testing.T) {
	inst := instance("i-1", types.PowerStopped, volume("vol-1"))
	gw := fake.New(inst)
	gw.FailOn("WaitVolumeAvailable", "vol-1", errors.New("exceeded max wait time"))
	engine := newTestEngine(gw, teardownOptions())

	_, err := engine.Teardown(context.Background(), []types.Instance{inst})
	require.NoError(t, err)

	assert.Equal(t, 0, gw.Count("DeleteVolume", ""))
}

func TestTeardown_SnapshotDeleteFailureContinues(t *testing.T) {
	inst := instance("i-1", types.PowerStopped, volume("vol-1",
		snap("snap-a", types.SnapshotCompleted, time.Hour),
		snap("snap-b", types.SnapshotCompleted, 2*time.Hour),
	))
	gw := fake.New(inst)
	gw.FailOn("DeleteSnapshot", "snap-a", errors.New("InvalidSnapshot.InUse"))
	engine := newTestEngine(gw, teardownOptions())

	report, err := engine.Teardown(context.Background(), []types.Instance{inst})
	require.NoError(t, err)

	assert.Equal(t, 1, gw.Count("DeleteSnapshot", "snap-b"))
	assert.Equal(t, 1, gw.Count("DeleteVolume", "vol-1"))
	vol := report.Instances[0].Volumes[0]
	assert.Equal(t, OutcomeFailed, vol.Outcome)
	assert.Contains(t, vol.Error, "InvalidSnapshot.InUse")
}

func TestTeardown_StopFailureAbandonsInstance(t *testing.T) {
	inst := instance("i-1", types.PowerRunning, volume("vol-1", snap("snap-a", types.SnapshotCompleted, time.Hour)))
	gw := fake.New(inst)
	gw.FailOn("StopInstance", "i-1", errors.New("UnauthorizedOperation"))
	engine := newTestEngine(gw, teardownOptions())

	report, err := engine.Teardown(context.Background(), []types.Instance{inst})
	require.NoError(t, err)

	assert.Equal(t, []string{"StopInstance:i-1"}, gw.Ops())
	res := report.Instances[0]
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, OutcomeSkipped, res.Volumes[0].Outcome)
}

func TestTeardown_StoppingInstanceWaitsFirst(t *testing.T) {
	inst := instance("i-1", types.PowerStopping, volume("vol-1"))
	gw := fake.New(inst)
	engine := newTestEngine(gw, teardownOptions())

	report, err := engine.Teardown(context.Background(), []types.Instance{inst})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"WaitStopped:i-1",
		"DetachVolume:vol-1",
		"WaitVolumeAvailable:vol-1",
		"DeleteVolume:vol-1",
		"TerminateInstance:i-1",
	}, gw.Ops())

	res := report.Instances[0]
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.False(t, res.StoppedByRun)
	assert.Equal(t, types.PowerTerminated, res.FinalState)
}

func TestTeardown_StoppingInstanceWaitFailureAbandons(t *testing.T) {
	inst := instance("i-1", types.PowerStopping, volume("vol-1"))
	gw := fake.New(inst)
	gw.FailOn("WaitStopped", "i-1", errors.New("timed out"))
	engine := newTestEngine(gw, teardownOptions())

	report, err := engine.Teardown(context.Background(), []types.Instance{inst})
	require.NoError(t, err)

	assert.Equal(t, []string{"WaitStopped:i-1"}, gw.Ops())
	res := report.Instances[0]
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Error, "instance did not stop")
	assert.Equal(t, "instance not stopped", res.Volumes[0].SkipReason)
}

func TestTeardown_PendingInstanceSkipped(t *testing.T) {
	inst := instance("i-1", types.PowerPending, volume("vol-1", snap("snap-a", types.SnapshotCompleted, time.Hour)))
	gw := fake.New(inst)
	engine := newTestEngine(gw, teardownOptions())

	report, err := engine.Teardown(context.Background(), []types.Instance{inst})
	require.NoError(t, err)

	assert.Empty(t, gw.Ops())
	res := report.Instances[0]
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "instance is pending", res.SkipReason)
	assert.Equal(t, 1, report.SkippedCount)
}

func TestTeardown_Confirmation(t *testing.T) {
	inst := instance("i-1", types.PowerStopped, volume("vol-1"))

	t.Run("declined", func(t *testing.T) {
		gw := fake.New(inst)
		confirmer := &staticConfirmer{approved: false}
		engine := newTestEngine(gw, DefaultOptions(), WithConfirmer(confirmer))

		report, err := engine.Teardown(context.Background(), []types.Instance{inst})
		require.NoError(t, err)

		assert.Empty(t, gw.Ops())
		assert.Equal(t, "teardown not confirmed", report.Instances[0].SkipReason)
		require.Len(t, confirmer.requests, 1)
		assert.Equal(t, []string{"i-1"}, confirmer.requests[0].InstanceIDs)
		assert.Equal(t, SeverityCritical, confirmer.requests[0].Severity)
	})

	t.Run("approved", func(t *testing.T) {
		gw := fake.New(inst)
		engine := newTestEngine(gw, DefaultOptions(), WithConfirmer(&staticConfirmer{approved: true}))

		_, err := engine.Teardown(context.Background(), []types.Instance{inst})
		require.NoError(t, err)
		assert.Equal(t, 1, gw.Count("TerminateInstance", "i-1"))
	})

	t.Run("no confirmer", func(t *testing.T) {
		gw := fake.New(inst)
		engine := newTestEngine(gw, DefaultOptions())

		_, err := engine.Teardown(context.Background(), []types.Instance{inst})
		require.ErrorIs(t, err, ErrNoConfirmer)
		assert.Empty(t, gw.Ops())
	})

	t.Run("confirmer error", func(t *testing.T) {
		gw := fake.New(inst)
		engine := newTestEngine(gw, DefaultOptions(), WithConfirmer(&staticConfirmer{err: errors.New("stdin closed")}))

		_, err := engine.Teardown(context.Background(), []types.Instance{inst})
		require.Error(t, err)
		assert.Empty(t, gw.Ops())
	})
}

func TestTeardown_UnknownVolumesNeverTerminates(t *testing.T) {
	inst := instance("i-1", types.PowerStopped)
	inst.Err = errors.New("describe volumes: throttled")
	gw := fake.New(inst)
	engine := newTestEngine(gw, teardownOptions())

	report, err := engine.Teardown(context.Background(), []types.Instance{inst})
	require.NoError(t, err)

	assert.Empty(t, gw.Ops())
	res := report.Instances[0]
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Error, "volumes unknown")
	assert.True(t, report.HasFailures())
}
