package executor

import (
	"context"
	"fmt"
)

// executeAction dispatches one action to the gateway. The returned output
// is the ID of anything the call created.
func (e *Engine) executeAction(ctx context.Context, action Action, resourceID string) (string, error) {
	switch action {
	case ActionStop:
		return "", e.gw.StopInstance(ctx, resourceID)
	case ActionWaitStopped:
		return "", e.gw.WaitStopped(ctx, resourceID, e.options.StopTimeout)
	case ActionStart:
		return "", e.gw.StartInstance(ctx, resourceID)
	case ActionWaitRunning:
		return "", e.gw.WaitRunning(ctx, resourceID, e.options.StartTimeout)
	case ActionReboot:
		return "", e.gw.RebootInstance(ctx, resourceID)
	case ActionCreateSnapshot:
		return e.gw.CreateSnapshot(ctx, resourceID, e.options.Description)
	case ActionDeleteSnapshot:
		return "", e.gw.DeleteSnapshot(ctx, resourceID)
	case ActionDetachVolume:
		return "", e.gw.DetachVolume(ctx, resourceID)
	case ActionWaitAvailable:
		return "", e.gw.WaitVolumeAvailable(ctx, resourceID, e.options.DetachTimeout)
	case ActionDeleteVolume:
		return "", e.gw.DeleteVolume(ctx, resourceID)
	case ActionTerminate:
		return "", e.gw.TerminateInstance(ctx, resourceID)
	default:
		return "", fmt.Errorf("unsupported action: %s", action)
	}
}
