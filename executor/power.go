package executor

import (
	"context"
	"fmt"

	"github.com/yairfalse/snapwarden/types"
)

// Start starts stopped instances
func (e *Engine) Start(ctx context.Context, instances []types.Instance) (*Report, error) {
	return e.run(ctx, OpStart, instances, e.powerFunc(types.PowerStopped, ActionStart, ActionWaitRunning, types.PowerRunning))
}

// Stop stops running instances
func (e *Engine) Stop(ctx context.Context, instances []types.Instance) (*Report, error) {
	return e.run(ctx, OpStop, instances, e.powerFunc(types.PowerRunning, ActionStop, ActionWaitStopped, types.PowerStopped))
}

// Reboot reboots running instances. There is nothing to wait for.
func (e *Engine) Reboot(ctx context.Context, instances []types.Instance) (*Report, error) {
	return e.run(ctx, OpReboot, instances, e.powerFunc(types.PowerRunning, ActionReboot, "", types.PowerRunning))
}

// powerFunc acts on instances in the required state and skips the rest
// with their current state as the reason
func (e *Engine) powerFunc(required types.PowerState, action, wait Action, final types.PowerState) instanceFunc {
	return func(ctx context.Context, b *bracket) {
		if b.inst.State != required {
			e.skipInstance(ctx, b, fmt.Sprintf("instance is %s", b.inst.State))
			return
		}

		if err := e.instanceStep(ctx, b, action); err != nil {
			b.res.Error = fmt.Sprintf("%s failed: %v", action, err)
			return
		}
		if wait == "" || !e.options.Wait {
			return
		}
		if err := e.instanceStep(ctx, b, wait); err != nil {
			b.res.Error = fmt.Sprintf("%s failed: %v", wait, err)
			return
		}
		b.res.FinalState = final
	}
}
