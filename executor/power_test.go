package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snapwarden/providers/fake"
	"github.com/yairfalse/snapwarden/types"
)

func TestStart_OnlyStoppedInstances(t *testing.T) {
	instances := []types.Instance{
		instance("i-1", types.PowerStopped),
		instance("i-2", types.PowerRunning),
	}
	gw := fake.New(instances...)
	opts := DefaultOptions()
	opts.Wait = true
	engine := newTestEngine(gw, opts)

	report, err := engine.Start(context.Background(), instances)
	require.NoError(t, err)

	assert.Equal(t, []string{"StartInstance:i-1", "WaitRunning:i-1"}, gw.Ops())

	started, _ := report.Instance("i-1")
	assert.Equal(t, OutcomeSuccess, started.Outcome)
	assert.Equal(t, types.PowerRunning, started.FinalState)

	skipped, _ := report.Instance("i-2")
	assert.Equal(t, OutcomeSkipped, skipped.Outcome)
	assert.Equal(t, "instance is running", skipped.SkipReason)
}

func TestStop_WithoutWait(t *testing.T) {
	instances := []types.Instance{
		instance("i-1", types.PowerRunning),
		instance("i-2", types.PowerPending),
	}
	gw := fake.New(instances...)
	engine := newTestEngine(gw, DefaultOptions())

	report, err := engine.Stop(context.Background(), instances)
	require.NoError(t, err)

	assert.Equal(t, []string{"StopInstance:i-1"}, gw.Ops())
	assert.Equal(t, 1, report.SuccessfulCount)
	assert.Equal(t, 1, report.SkippedCount)

	res, _ := report.Instance("i-1")
	assert.Equal(t, types.PowerRunning, res.FinalState)
}

func TestReboot_FailureIsLocal(t *testing.T) {
	instances := []types.Instance{
		instance("i-1", types.PowerRunning),
		instance("i-2", types.PowerRunning),
		instance("i-3", types.PowerStopped),
	}
	gw := fake.New(instances...)
	gw.FailOn("RebootInstance", "i-1", errors.New("throttled"))
	opts := DefaultOptions()
	opts.Wait = true
	engine := newTestEngine(gw, opts)

	report, err := engine.Reboot(context.Background(), instances)
	require.NoError(t, err)

	assert.Equal(t, []string{"RebootInstance:i-1", "RebootInstance:i-2"}, gw.Ops())
	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, 1, report.SuccessfulCount)
	assert.Equal(t, 1, report.SkippedCount)

	failed, _ := report.Instance("i-1")
	assert.Equal(t, "reboot failed: throttled", failed.Error)
}
