// Package policy evaluates Rego policies that can exclude instances from
// snapshot, power and teardown runs.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/snapwarden/telemetry"
	"github.com/yairfalse/snapwarden/types"
)

// Query is evaluated against every loaded module. Policies set decision,
// reason and risk in package snapwarden.
const Query = "data.snapwarden"

// PolicyEngine evaluates Rego policies against instances
type PolicyEngine struct {
	mu      sync.RWMutex
	queries map[string]rego.PreparedEvalQuery
	region  string
	logger  *telemetry.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewPolicyEngine creates an engine with no policies loaded
func NewPolicyEngine(region string, logger *telemetry.Logger) *PolicyEngine {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &PolicyEngine{
		queries: make(map[string]rego.PreparedEvalQuery),
		region:  region,
		logger:  logger,
		tracer:  otel.Tracer("snapwarden/policy"),
		now:     time.Now,
	}
}

// LoadPolicy compiles a Rego module and keeps it under name
func (pe *PolicyEngine) LoadPolicy(ctx context.Context, name, regoCode string) error {
	ctx, span := pe.tracer.Start(ctx, "policy.load",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	prepared, err := rego.New(
		rego.Query(Query),
		rego.Module(name+".rego", regoCode),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	pe.mu.Lock()
	pe.queries[name] = prepared
	pe.mu.Unlock()

	pe.logger.WithContext(ctx).Debug().
		Str("policy_name", name).
		Msg("policy loaded")
	return nil
}

// Policies returns the names of the loaded policies
func (pe *PolicyEngine) Policies() []string {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	names := make([]string, 0, len(pe.queries))
	for name := range pe.queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildInput creates the policy input for an instance
func (pe *PolicyEngine) BuildInput(operation string, inst types.Instance) PolicyInput {
	tags := inst.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return PolicyInput{
		Operation: operation,
		Region:    pe.region,
		Timestamp: pe.now().UTC(),
		Instance: InstanceInput{
			ID:          inst.ID,
			Type:        inst.Type,
			State:       string(inst.State),
			Project:     inst.Project(),
			Tags:        tags,
			VolumeCount: len(inst.Volumes),
		},
	}
}

// Evaluate runs every loaded policy and combines the results. The most
// restrictive decision wins. With no match the instance is allowed.
func (pe *PolicyEngine) Evaluate(ctx context.Context, input PolicyInput) (PolicyResult, error) {
	ctx, span := pe.tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("instance.id", input.Instance.ID),
			attribute.String("operation", input.Operation)))
	defer span.End()

	final := PolicyResult{
		Decision: DecisionAllow,
		Policies: []string{},
	}
	var reasons []string

	for _, name := range pe.Policies() {
		pe.mu.RLock()
		query := pe.queries[name]
		pe.mu.RUnlock()

		result, err := evaluatePolicy(ctx, name, query, input)
		if err != nil {
			return PolicyResult{}, err
		}
		if result.Decision == "" {
			continue
		}

		final.Policies = append(final.Policies, name)
		if result.Decision.priority() > final.Decision.priority() {
			final.Decision = result.Decision
			final.Risk = result.Risk
		}
		if result.Reason != "" && result.Decision != DecisionAllow {
			reasons = append(reasons, result.Reason)
		}
	}
	final.Reason = strings.Join(reasons, "; ")

	span.SetAttributes(attribute.String("policy.decision", string(final.Decision)))
	pe.logger.WithContext(ctx).Debug().
		Str("instance_id", input.Instance.ID).
		Str("decision", string(final.Decision)).
		Strs("matched_policies", final.Policies).
		Msg("policy evaluation complete")

	return final, nil
}

// evaluatePolicy evaluates a single policy
func evaluatePolicy(ctx context.Context, name string, query rego.PreparedEvalQuery, input PolicyInput) (PolicyResult, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return PolicyResult{}, fmt.Errorf("policy %s evaluation failed: %w", name, err)
	}

	result := PolicyResult{Metadata: make(map[string]any)}
	for _, res := range results {
		if len(res.Expressions) == 0 {
			continue
		}
		values, ok := res.Expressions[0].Value.(map[string]interface{})
		if !ok {
			continue
		}
		for key, value := range values {
			bindPolicyValue(key, value, &result)
		}
	}
	return result, nil
}

func bindPolicyValue(key string, value interface{}, result *PolicyResult) {
	str, ok := value.(string)
	if !ok {
		result.Metadata[key] = value
		return
	}

	switch key {
	case "decision":
		result.Decision = Decision(str)
	case "reason":
		result.Reason = str
	case "risk":
		result.Risk = str
	default:
		result.Metadata[key] = value
	}
}
