package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTarget is returned when a mutating command has no target and --force was not given
	ErrNoTarget = errors.New("no instance or project given; use --force to act on every instance")

	// ErrConflictingSelector is returned when both an instance and a project are given
	ErrConflictingSelector = errors.New("give either an instance or a project, not both")
)

// Selector narrows the set of instances a command acts on
type Selector struct {
	InstanceID string `json:"instance_id,omitempty"`
	Project    string `json:"project,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// Validate enforces the selector rules. Mutating commands need a target
// unless Force is set.
func (s Selector) Validate(mutating bool) error {
	if s.InstanceID != "" && s.Project != "" {
		return ErrConflictingSelector
	}
	if mutating && s.IsEmpty() && !s.Force {
		return ErrNoTarget
	}
	return nil
}

// IsEmpty reports whether neither an instance nor a project was given
func (s Selector) IsEmpty() bool {
	return s.InstanceID == "" && s.Project == ""
}

func (s Selector) String() string {
	switch {
	case s.InstanceID != "":
		return fmt.Sprintf("instance %s", s.InstanceID)
	case s.Project != "":
		return fmt.Sprintf("project %s", s.Project)
	default:
		return "all instances"
	}
}
