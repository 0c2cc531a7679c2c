// Package selector resolves a Selector into the instances a command acts on.
package selector

import (
	"context"
	"fmt"

	"github.com/yairfalse/snapwarden/providers"
	"github.com/yairfalse/snapwarden/types"
)

// Mode tells Resolve whether the caller will mutate what it gets back
type Mode int

const (
	// List never needs --force
	List Mode = iota
	// Mutate requires an instance, a project, or --force
	Mutate
)

// Resolve validates the selector and describes the matching instances.
// Precondition errors are returned before any provider call.
func Resolve(ctx context.Context, gw providers.Gateway, sel types.Selector, mode Mode) ([]types.Instance, error) {
	if err := sel.Validate(mode == Mutate); err != nil {
		return nil, err
	}

	instances, err := gw.DescribeInstances(ctx, Filter(sel))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", sel, err)
	}
	return instances, nil
}

// Filter converts a selector into a provider filter. A single instance ID
// is looked up directly instead of describing every instance.
func Filter(sel types.Selector) providers.InstanceFilter {
	switch {
	case sel.InstanceID != "":
		return providers.InstanceFilter{IDs: []string{sel.InstanceID}}
	case sel.Project != "":
		return providers.InstanceFilter{Tags: map[string]string{types.ProjectTagKey: sel.Project}}
	default:
		return providers.InstanceFilter{}
	}
}
