package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/snapwarden/eligibility"
	"github.com/yairfalse/snapwarden/types"
)

// DefaultSafetyChecker runs a list of checks before an instance is touched
type DefaultSafetyChecker struct {
	checks []SafetyCheckFunc
}

// SafetyCheckFunc represents a single safety check function
type SafetyCheckFunc func(ctx context.Context, op Operation, instance types.Instance) SafetyCheck

// NewDefaultSafetyChecker creates a safety checker with standard checks
// followed by extra. now is the clock snapshot eligibility is judged by.
func NewDefaultSafetyChecker(opts Options, now func() time.Time, extra ...SafetyCheckFunc) *DefaultSafetyChecker {
	if now == nil {
		now = time.Now
	}
	checks := []SafetyCheckFunc{
		checkInstanceState,
		checkAutoScaling(opts, now),
	}
	return &DefaultSafetyChecker{checks: append(checks, extra...)}
}

// CheckSafety runs all safety checks on an instance
func (sc *DefaultSafetyChecker) CheckSafety(ctx context.Context, op Operation, instance types.Instance) ([]SafetyCheck, error) {
	results := make([]SafetyCheck, 0, len(sc.checks))
	for _, checkFunc := range sc.checks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, checkFunc(ctx, op, instance))
	}
	return results, nil
}

func checkInstanceState(ctx context.Context, op Operation, instance types.Instance) SafetyCheck {
	check := SafetyCheck{
		Name:        "instance_state_check",
		Description: "Verify the instance still exists",
		Passed:      true,
		Severity:    SeverityCritical,
	}

	if instance.State.IsGone() {
		check.Passed = false
		check.Message = fmt.Sprintf("instance %s is %s", instance.ID, instance.State)
	}

	return check
}

// checkAutoScaling blocks stopping members of an Auto Scaling group, which
// would have the group replace them. A snapshot run only stops an instance
// when one of its volumes is eligible.
func checkAutoScaling(opts Options, now func() time.Time) SafetyCheckFunc {
	return func(ctx context.Context, op Operation, instance types.Instance) SafetyCheck {
		check := SafetyCheck{
			Name:        "autoscaling_member_check",
			Description: "Avoid stopping instances owned by an Auto Scaling group",
			Passed:      true,
			Severity:    SeverityWarning,
		}

		group := instance.Tag(types.AutoScalingGroupTagKey)
		if group == "" {
			return check
		}

		var stops bool
		switch op {
		case OpStop, OpTeardown:
			stops = true
		case OpSnapshot:
			stops = !opts.Live && instance.IsRunning() &&
				eligibility.AnyProceeds(instance, opts.MinAge, now())
		case OpReboot:
		default:
			return check
		}

		check.Passed = false
		if stops && !opts.AllowAutoScaling {
			check.Severity = SeverityCritical
			check.Message = fmt.Sprintf("instance %s belongs to Auto Scaling group %s", instance.ID, group)
			return check
		}
		check.Message = fmt.Sprintf("instance %s belongs to Auto Scaling group %s; health checks may replace it", instance.ID, group)
		return check
	}
}
