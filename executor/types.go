package executor

import (
	"context"
	"time"

	"github.com/yairfalse/snapwarden/eligibility"
	"github.com/yairfalse/snapwarden/types"
	"github.com/yairfalse/snapwarden/wal"
)

// Operation is the kind of run
type Operation string

const (
	OpSnapshot Operation = "snapshot"
	OpStart    Operation = "start"
	OpStop     Operation = "stop"
	OpReboot   Operation = "reboot"
	OpTeardown Operation = "teardown"
)

// Action is a single cloud call made during a run
type Action string

const (
	ActionStop           Action = "stop"
	ActionWaitStopped    Action = "wait_stopped"
	ActionStart          Action = "start"
	ActionWaitRunning    Action = "wait_running"
	ActionReboot         Action = "reboot"
	ActionCreateSnapshot Action = "create_snapshot"
	ActionDeleteSnapshot Action = "delete_snapshot"
	ActionDetachVolume   Action = "detach_volume"
	ActionWaitAvailable  Action = "wait_volume_available"
	ActionDeleteVolume   Action = "delete_volume"
	ActionTerminate      Action = "terminate"
)

// Outcome is the result of an action, a volume or an instance
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Phase is a step of the per-instance stop/snapshot/restart bracket
type Phase string

const (
	PhaseInitial      Phase = "initial"
	PhaseStopping     Phase = "stopping"
	PhaseStopped      Phase = "stopped"
	PhaseSnapshotting Phase = "snapshotting"
	PhaseStarting     Phase = "starting"
	PhaseRunning      Phase = "running"
	PhaseTerminal     Phase = "terminal"
)

// Report is the outcome of one run
type Report struct {
	RunID           string           `json:"run_id" yaml:"run_id"`
	Operation       Operation        `json:"operation" yaml:"operation"`
	Provider        string           `json:"provider" yaml:"provider"`
	Region          string           `json:"region" yaml:"region"`
	StartTime       time.Time        `json:"start_time" yaml:"start_time"`
	EndTime         time.Time        `json:"end_time" yaml:"end_time"`
	Duration        time.Duration    `json:"duration" yaml:"duration"`
	Instances       []InstanceResult `json:"instances" yaml:"instances"`
	SuccessfulCount int              `json:"successful_count" yaml:"successful_count"`
	FailedCount     int              `json:"failed_count" yaml:"failed_count"`
	SkippedCount    int              `json:"skipped_count" yaml:"skipped_count"`
	PartialFailure  bool             `json:"partial_failure" yaml:"partial_failure"`
	Cancelled       bool             `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// InstanceResult is everything that happened to one instance
type InstanceResult struct {
	InstanceID   string           `json:"instance_id" yaml:"instance_id"`
	InitialState types.PowerState `json:"initial_state" yaml:"initial_state"`
	FinalState   types.PowerState `json:"final_state" yaml:"final_state"`
	StoppedByRun bool             `json:"stopped_by_run,omitempty" yaml:"stopped_by_run,omitempty"`
	Restarted    bool             `json:"restarted,omitempty" yaml:"restarted,omitempty"`
	Phases       []Phase          `json:"phases,omitempty" yaml:"phases,omitempty"`
	Steps        []StepResult     `json:"steps,omitempty" yaml:"steps,omitempty"`
	Volumes      []VolumeResult   `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Outcome      Outcome          `json:"outcome" yaml:"outcome"`
	SkipReason   string           `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`
	Error        string           `json:"error,omitempty" yaml:"error,omitempty"`
	StartTime    time.Time        `json:"start_time" yaml:"start_time"`
	EndTime      time.Time        `json:"end_time" yaml:"end_time"`
}

// VolumeResult is everything that happened to one volume
type VolumeResult struct {
	VolumeID   string              `json:"volume_id" yaml:"volume_id"`
	Device     string              `json:"device,omitempty" yaml:"device,omitempty"`
	Verdict    eligibility.Verdict `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	SnapshotID string              `json:"snapshot_id,omitempty" yaml:"snapshot_id,omitempty"`
	Steps      []StepResult        `json:"steps,omitempty" yaml:"steps,omitempty"`
	Outcome    Outcome             `json:"outcome" yaml:"outcome"`
	SkipReason string              `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`
	Error      string              `json:"error,omitempty" yaml:"error,omitempty"`
}

// StepResult is one cloud call
type StepResult struct {
	Action     Action        `json:"action" yaml:"action"`
	ResourceID string        `json:"resource_id" yaml:"resource_id"`
	Outcome    Outcome       `json:"outcome" yaml:"outcome"`
	Output     string        `json:"output,omitempty" yaml:"output,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartTime  time.Time     `json:"start_time" yaml:"start_time"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Failed reports whether the step failed
func (s StepResult) Failed() bool {
	return s.Outcome == OutcomeFailed
}

// Options configure engine behavior
type Options struct {
	// MinAge skips volumes whose latest completed snapshot is younger
	MinAge time.Duration `json:"min_age"`

	// Description is set on every created snapshot
	Description string `json:"description"`

	// Live snapshots running instances without stopping them
	Live bool `json:"live"`

	// Wait makes start and stop commands wait for the target state
	Wait bool `json:"wait"`

	StopTimeout   time.Duration `json:"stop_timeout"`
	StartTimeout  time.Duration `json:"start_timeout"`
	DetachTimeout time.Duration `json:"detach_timeout"`

	// Parallelism is the number of instances handled at once
	Parallelism int `json:"parallelism"`

	SkipConfirmation bool `json:"skip_confirmation"`
	AllowAutoScaling bool `json:"allow_autoscaling"`
}

// DefaultDescription is the snapshot description when none is configured
const DefaultDescription = "Created by snapwarden"

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{
		Description:   DefaultDescription,
		StopTimeout:   10 * time.Minute,
		StartTimeout:  10 * time.Minute,
		DetachTimeout: 5 * time.Minute,
		Parallelism:   1,
	}
}

// BlockSeverity indicates how critical a block is
type BlockSeverity string

const (
	SeverityWarning  BlockSeverity = "warning"
	SeverityError    BlockSeverity = "error"
	SeverityCritical BlockSeverity = "critical"
)

// SafetyCheck represents a pre-execution safety validation
type SafetyCheck struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Severity    BlockSeverity `json:"severity"`
	Passed      bool          `json:"passed"`
	Message     string        `json:"message,omitempty"`
}

// SafetyChecker validates an instance before any mutating call
type SafetyChecker interface {
	CheckSafety(ctx context.Context, op Operation, instance types.Instance) ([]SafetyCheck, error)
}

// ConfirmationRequest asks a human before a destructive run
type ConfirmationRequest struct {
	Operation   Operation     `json:"operation"`
	InstanceIDs []string      `json:"instance_ids"`
	Message     string        `json:"message"`
	Severity    BlockSeverity `json:"severity"`
}

// ConfirmationResponse represents user's response to confirmation
type ConfirmationResponse struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

// Confirmer handles user confirmation for dangerous operations
type Confirmer interface {
	RequestConfirmation(ctx context.Context, req ConfirmationRequest) (*ConfirmationResponse, error)
}

// Journal records intent before and outcome after every cloud call. *wal.WAL satisfies it.
type Journal interface {
	Append(entryType wal.EntryType, resourceID string, data interface{}) error
	AppendError(entryType wal.EntryType, resourceID string, data interface{}, errToLog error) error
}

// Recorder receives run metrics
type Recorder interface {
	RecordAction(ctx context.Context, operation, action, outcome string, d time.Duration)
	RecordRun(ctx context.Context, operation string, succeeded, failed, skipped int, d time.Duration)
}

// EventKind classifies progress events
type EventKind string

const (
	EventAction   EventKind = "action"
	EventSkip     EventKind = "skip"
	EventFailure  EventKind = "failure"
	EventFinished EventKind = "finished"
)

// Event is a user-facing progress notice
type Event struct {
	Kind       EventKind
	Operation  Operation
	InstanceID string
	ResourceID string
	Action     Action
	Message    string
	Err        error
}

// Progress receives events as the run advances. Implementations must be
// safe for concurrent use when Parallelism > 1.
type Progress interface {
	Emit(Event)
}

// ProgressFunc adapts a function to Progress
type ProgressFunc func(Event)

func (f ProgressFunc) Emit(e Event) { f(e) }
