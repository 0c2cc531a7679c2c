package policy

import (
	"context"
	"fmt"

	"github.com/yairfalse/snapwarden/executor"
	"github.com/yairfalse/snapwarden/types"
)

// SafetyCheck turns the policy engine into an executor safety check.
// Deny and evaluation errors block the instance. A flag is only logged.
func (pe *PolicyEngine) SafetyCheck() executor.SafetyCheckFunc {
	return func(ctx context.Context, op executor.Operation, inst types.Instance) executor.SafetyCheck {
		check := executor.SafetyCheck{
			Name:        "policy_check",
			Description: "Evaluate instance exclusion policies",
			Passed:      true,
			Severity:    executor.SeverityWarning,
		}

		result, err := pe.Evaluate(ctx, pe.BuildInput(string(op), inst))
		if err != nil {
			check.Passed = false
			check.Severity = executor.SeverityError
			check.Message = err.Error()
			return check
		}

		switch result.Decision {
		case DecisionDeny:
			check.Passed = false
			check.Severity = executor.SeverityCritical
			check.Message = fmt.Sprintf("excluded by policy: %s", reasonOr(result.Reason, "denied"))
		case DecisionFlag:
			check.Passed = false
			check.Message = fmt.Sprintf("flagged by policy: %s", reasonOr(result.Reason, "flagged"))
		}
		return check
	}
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
