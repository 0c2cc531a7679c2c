package executor

import (
	"context"
	"fmt"

	"github.com/yairfalse/snapwarden/eligibility"
	"github.com/yairfalse/snapwarden/types"
)

// Snapshot creates a snapshot of every eligible volume. Running instances
// with at least one eligible volume are stopped first and started again
// afterwards, unless the engine runs in live mode.
func (e *Engine) Snapshot(ctx context.Context, instances []types.Instance) (*Report, error) {
	return e.run(ctx, OpSnapshot, instances, e.snapshotInstance)
}

func (e *Engine) snapshotInstance(ctx context.Context, b *bracket) {
	inst := b.inst
	b.phase(PhaseInitial)

	if !e.options.Live && inst.IsRunning() && eligibility.AnyProceeds(inst, e.options.MinAge, e.now()) {
		b.phase(PhaseStopping)
		if err := e.instanceStep(ctx, b, ActionStop); err != nil {
			b.res.Error = fmt.Sprintf("stop failed: %v", err)
			e.skipVolumes(ctx, b, "instance stop failed")
			b.phase(PhaseTerminal)
			return
		}
		b.res.StoppedByRun = true

		if err := e.instanceStep(ctx, b, ActionWaitStopped); err != nil {
			b.res.Error = fmt.Sprintf("instance did not stop: %v", err)
			e.skipVolumes(ctx, b, "instance did not reach stopped")
			e.restart(ctx, b)
			return
		}
		b.res.FinalState = types.PowerStopped
		b.phase(PhaseStopped)
	}

	b.phase(PhaseSnapshotting)
	for _, v := range inst.Volumes {
		if ctx.Err() != nil {
			b.res.Volumes = append(b.res.Volumes, e.skipVolume(ctx, b, v, "run cancelled"))
			continue
		}
		b.res.Volumes = append(b.res.Volumes, e.snapshotVolume(ctx, b, v))
	}

	if b.res.StoppedByRun {
		e.restart(ctx, b)
		return
	}
	b.phase(PhaseTerminal)
}

func (e *Engine) snapshotVolume(ctx context.Context, b *bracket, v types.Volume) VolumeResult {
	vr := VolumeResult{VolumeID: v.ID}
	if v.Err != nil {
		return e.failVolume(ctx, b, vr, v.Err)
	}
	vr.Device, _ = v.Device()

	// re-evaluated with a fresh clock; the stop may have taken minutes
	vr.Verdict = eligibility.Evaluate(v, e.options.MinAge, e.now())
	if vr.Verdict != eligibility.Proceed {
		vr.Outcome = OutcomeSkipped
		vr.SkipReason = eligibility.Reason(v, vr.Verdict, e.options.MinAge)
		e.skipped(ctx, b, v.ID, vr.SkipReason)
		return vr
	}

	step, err := e.step(ctx, b, ActionCreateSnapshot, v.ID)
	vr.Steps = append(vr.Steps, step)
	if err != nil {
		vr.Outcome = OutcomeFailed
		vr.Error = err.Error()
		return vr
	}
	vr.Outcome = OutcomeSuccess
	vr.SnapshotID = step.Output
	return vr
}

// restart starts an instance this run stopped. It is not cancellable so
// an interrupted run still gives the instance back.
func (e *Engine) restart(ctx context.Context, b *bracket) {
	ctx = context.WithoutCancel(ctx)

	b.phase(PhaseStarting)
	if err := e.instanceStep(ctx, b, ActionStart); err != nil {
		b.res.Error = joinError(b.res.Error, fmt.Sprintf("restart failed: %v", err))
		b.phase(PhaseTerminal)
		return
	}
	if err := e.instanceStep(ctx, b, ActionWaitRunning); err != nil {
		b.res.Error = joinError(b.res.Error, fmt.Sprintf("instance did not return to running: %v", err))
		b.phase(PhaseTerminal)
		return
	}

	b.res.Restarted = true
	b.res.FinalState = types.PowerRunning
	b.phase(PhaseRunning)
}

func (e *Engine) skipVolumes(ctx context.Context, b *bracket, reason string) {
	for _, v := range b.inst.Volumes {
		b.res.Volumes = append(b.res.Volumes, e.skipVolume(ctx, b, v, reason))
	}
}

func (e *Engine) skipVolume(ctx context.Context, b *bracket, v types.Volume, reason string) VolumeResult {
	vr := VolumeResult{VolumeID: v.ID, Outcome: OutcomeSkipped, SkipReason: reason}
	vr.Device, _ = v.Device()
	e.skipped(ctx, b, v.ID, reason)
	return vr
}

func (e *Engine) failVolume(ctx context.Context, b *bracket, vr VolumeResult, err error) VolumeResult {
	vr.Outcome = OutcomeFailed
	vr.Error = err.Error()
	e.logger.WithContext(ctx).Error().Err(err).Str("volume_id", vr.VolumeID).Msg("volume not usable")
	e.emit(Event{
		Kind:       EventFailure,
		Operation:  b.op,
		InstanceID: b.inst.ID,
		ResourceID: vr.VolumeID,
		Message:    vr.Error,
		Err:        err,
	})
	return vr
}

func joinError(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + "; " + next
}
