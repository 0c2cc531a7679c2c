package policy

import "time"

// Decision is what a policy says about touching an instance
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionFlag  Decision = "flag"
	DecisionDeny  Decision = "deny"
)

// priority orders decisions when several policies match
func (d Decision) priority() int {
	switch d {
	case DecisionDeny:
		return 3
	case DecisionFlag:
		return 2
	case DecisionAllow:
		return 1
	default:
		return 0
	}
}

// PolicyInput is the document policies see as input
type PolicyInput struct {
	Operation string        `json:"operation"`
	Region    string        `json:"region"`
	Instance  InstanceInput `json:"instance"`
	Timestamp time.Time     `json:"timestamp"`
}

// InstanceInput is the instance as seen by a policy
type InstanceInput struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	State       string            `json:"state"`
	Project     string            `json:"project"`
	Tags        map[string]string `json:"tags"`
	VolumeCount int               `json:"volume_count"`
}

// PolicyResult contains the result of policy evaluation
type PolicyResult struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
	Risk     string   `json:"risk"`
	Policies []string `json:"policies"`

	// Metadata keeps any other values a policy sets
	Metadata map[string]any `json:"metadata,omitempty"`
}
