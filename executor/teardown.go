package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/snapwarden/types"
)

// ErrNoConfirmer is returned when a teardown needs confirmation and nobody can give it
var ErrNoConfirmer = errors.New("confirmation required but no confirmer configured")

// Teardown destroys instances with their volumes and snapshots. Every
// instance is stopped first (a pending one is skipped), every snapshot of every volume is deleted,
// each volume is detached and deleted, and finally the instance is
// terminated. A volume is only deleted after it was detached and reported
// available.
func (e *Engine) Teardown(ctx context.Context, instances []types.Instance) (*Report, error) {
	if len(instances) > 0 && !e.options.SkipConfirmation {
		approved, err := e.confirmTeardown(ctx, instances)
		if err != nil {
			return nil, err
		}
		if !approved {
			return e.run(ctx, OpTeardown, instances, func(ctx context.Context, b *bracket) {
				e.skipInstance(ctx, b, "teardown not confirmed")
			})
		}
	}
	return e.run(ctx, OpTeardown, instances, e.teardownInstance)
}

func (e *Engine) confirmTeardown(ctx context.Context, instances []types.Instance) (bool, error) {
	if e.confirmer == nil {
		return false, ErrNoConfirmer
	}

	ids := make([]string, len(instances))
	volumes := 0
	for i, inst := range instances {
		ids[i] = inst.ID
		volumes += len(inst.Volumes)
	}

	response, err := e.confirmer.RequestConfirmation(ctx, ConfirmationRequest{
		Operation:   OpTeardown,
		InstanceIDs: ids,
		Message: fmt.Sprintf("Terminate %d instance(s) and delete %d volume(s) with all their snapshots?",
			len(instances), volumes),
		Severity: SeverityCritical,
	})
	if err != nil {
		return false, fmt.Errorf("confirmation failed: %w", err)
	}
	return response != nil && response.Approved, nil
}

func (e *Engine) teardownInstance(ctx context.Context, b *bracket) {
	inst := b.inst
	b.phase(PhaseInitial)

	switch inst.State {
	case types.PowerPending:
		e.skipInstance(ctx, b, fmt.Sprintf("instance is %s", inst.State))
		return
	case types.PowerRunning, types.PowerStopping:
		b.phase(PhaseStopping)
		if inst.IsRunning() {
			if err := e.instanceStep(ctx, b, ActionStop); err != nil {
				e.abandon(ctx, b, fmt.Sprintf("stop failed: %v", err))
				return
			}
			b.res.StoppedByRun = true
		}
		if err := e.instanceStep(ctx, b, ActionWaitStopped); err != nil {
			e.abandon(ctx, b, fmt.Sprintf("instance did not stop: %v", err))
			return
		}
		b.res.FinalState = types.PowerStopped
		b.phase(PhaseStopped)
	}

	for _, v := range inst.Volumes {
		if ctx.Err() != nil {
			b.res.Volumes = append(b.res.Volumes, e.skipVolume(ctx, b, v, "run cancelled"))
			continue
		}
		b.res.Volumes = append(b.res.Volumes, e.teardownVolume(ctx, b, v))
	}

	if ctx.Err() != nil {
		b.res.Error = "terminate skipped: run cancelled"
		e.skipped(ctx, b, inst.ID, "run cancelled")
		b.phase(PhaseTerminal)
		return
	}

	if err := e.instanceStep(ctx, b, ActionTerminate); err != nil {
		b.res.Error = fmt.Sprintf("terminate failed: %v", err)
	} else {
		b.res.FinalState = types.PowerTerminated
	}
	b.phase(PhaseTerminal)
}

// abandon gives up on an instance that could not be stopped. Nothing else
// is touched.
func (e *Engine) abandon(ctx context.Context, b *bracket, msg string) {
	b.res.Error = msg
	e.skipVolumes(ctx, b, "instance not stopped")
	b.phase(PhaseTerminal)
}

func (e *Engine) teardownVolume(ctx context.Context, b *bracket, v types.Volume) VolumeResult {
	vr := VolumeResult{VolumeID: v.ID}
	if v.Err != nil {
		return e.failVolume(ctx, b, vr, v.Err)
	}
	vr.Device, _ = v.Device()

	// a snapshot that cannot be deleted does not stop the others
	for _, snap := range v.Snapshots {
		step, _ := e.step(ctx, b, ActionDeleteSnapshot, snap.ID)
		vr.Steps = append(vr.Steps, step)
	}

	step, err := e.step(ctx, b, ActionDetachVolume, v.ID)
	vr.Steps = append(vr.Steps, step)
	if err != nil {
		vr.Outcome = OutcomeFailed
		vr.Error = fmt.Sprintf("detach failed: %v", err)
		return vr
	}

	step, err = e.step(ctx, b, ActionWaitAvailable, v.ID)
	vr.Steps = append(vr.Steps, step)
	if err != nil {
		vr.Outcome = OutcomeFailed
		vr.Error = fmt.Sprintf("volume did not become available: %v", err)
		return vr
	}

	step, _ = e.step(ctx, b, ActionDeleteVolume, v.ID)
	vr.Steps = append(vr.Steps, step)
	vr.settle()
	return vr
}
