package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/snapwarden/providers"
	"github.com/yairfalse/snapwarden/telemetry"
	"github.com/yairfalse/snapwarden/types"
	"github.com/yairfalse/snapwarden/wal"
)

// Engine runs snapshot, power and teardown operations against one gateway
type Engine struct {
	gw            providers.Gateway
	options       Options
	journal       Journal
	logger        *telemetry.Logger
	progress      Progress
	recorder      Recorder
	confirmer     Confirmer
	safetyChecker SafetyChecker
	extraChecks   []SafetyCheckFunc
	tracer        trace.Tracer
	now           func() time.Time
	newRunID      func() string
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithJournal records every cloud call before and after it is made
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) { e.journal = j }
}

// WithLogger sets the structured logger
func WithLogger(l *telemetry.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithProgress sets the receiver of user-facing events
func WithProgress(p Progress) EngineOption {
	return func(e *Engine) { e.progress = p }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithConfirmer sets who is asked before a teardown
func WithConfirmer(c Confirmer) EngineOption {
	return func(e *Engine) { e.confirmer = c }
}

// WithSafetyChecker replaces the default safety checker
func WithSafetyChecker(sc SafetyChecker) EngineOption {
	return func(e *Engine) { e.safetyChecker = sc }
}

// WithSafetyCheck adds a check to the default safety checker
func WithSafetyCheck(fn SafetyCheckFunc) EngineOption {
	return func(e *Engine) { e.extraChecks = append(e.extraChecks, fn) }
}

// WithClock overrides the time source used for eligibility and timings
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithTracer sets the tracer for run and instance spans
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithRunID fixes how run IDs are generated
func WithRunID(fn func() string) EngineOption {
	return func(e *Engine) { e.newRunID = fn }
}

// NewEngine creates an engine for gw
func NewEngine(gw providers.Gateway, options Options, opts ...EngineOption) *Engine {
	if options.Description == "" {
		options.Description = DefaultDescription
	}
	if options.Parallelism < 1 {
		options.Parallelism = 1
	}

	engine := &Engine{
		gw:       gw,
		options:  options,
		logger:   telemetry.NopLogger(),
		tracer:   otel.Tracer("snapwarden/executor"),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(engine)
	}

	if engine.safetyChecker == nil {
		engine.safetyChecker = NewDefaultSafetyChecker(options, engine.now, engine.extraChecks...)
	}

	return engine
}

// bracket carries the per-instance state of one run
type bracket struct {
	runID string
	op    Operation
	inst  types.Instance
	res   *InstanceResult
	span  trace.Span
}

func (b *bracket) phase(p Phase) {
	b.res.Phases = append(b.res.Phases, p)
}

type instanceFunc func(ctx context.Context, b *bracket)

// runStart is journaled when a run begins
type runStart struct {
	RunID       string    `json:"run_id"`
	Operation   Operation `json:"operation"`
	InstanceIDs []string  `json:"instance_ids"`
	Options     Options   `json:"options"`
}

// runSummary is journaled when a run ends
type runSummary struct {
	RunID     string    `json:"run_id"`
	Operation Operation `json:"operation"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Cancelled bool      `json:"cancelled,omitempty"`
}

// run drives fn over every instance and assembles the report
func (e *Engine) run(ctx context.Context, op Operation, instances []types.Instance, fn instanceFunc) (*Report, error) {
	runID := e.newRunID()
	ctx, span := e.tracer.Start(ctx, "snapwarden."+string(op), trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("operation", string(op)),
		attribute.Int("instances", len(instances)),
	))
	defer span.End()

	report := &Report{
		RunID:     runID,
		Operation: op,
		Provider:  e.gw.Name(),
		Region:    e.gw.Region(),
		StartTime: e.now(),
		Instances: make([]InstanceResult, len(instances)),
	}

	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}
	e.journalAppend(wal.EntryRunStarted, "", runStart{RunID: runID, Operation: op, InstanceIDs: ids, Options: e.options}, nil)

	g := new(errgroup.Group)
	g.SetLimit(e.options.Parallelism)
	for i, inst := range instances {
		res := &report.Instances[i]
		if ctx.Err() != nil {
			e.cancelled(ctx, op, inst, res)
			continue
		}
		g.Go(func() error {
			e.runInstance(ctx, runID, op, inst, res, fn)
			return nil
		})
	}
	_ = g.Wait()

	report.EndTime = e.now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	report.tally()
	report.Cancelled = ctx.Err() != nil

	e.journalAppend(wal.EntryRunFinished, "", runSummary{
		RunID:     runID,
		Operation: op,
		Succeeded: report.SuccessfulCount,
		Failed:    report.FailedCount,
		Skipped:   report.SkippedCount,
		Cancelled: report.Cancelled,
	}, nil)

	e.logger.LogRunComplete(ctx, runID, string(op), report.SuccessfulCount, report.FailedCount, report.SkippedCount, report.Duration)
	if e.recorder != nil {
		e.recorder.RecordRun(ctx, string(op), report.SuccessfulCount, report.FailedCount, report.SkippedCount, report.Duration)
	}
	e.emit(Event{
		Kind:      EventFinished,
		Operation: op,
		Message: fmt.Sprintf("%d succeeded, %d failed, %d skipped",
			report.SuccessfulCount, report.FailedCount, report.SkippedCount),
	})

	span.SetAttributes(
		attribute.Int("succeeded", report.SuccessfulCount),
		attribute.Int("failed", report.FailedCount),
		attribute.Int("skipped", report.SkippedCount),
	)
	if report.FailedCount > 0 {
		span.SetStatus(codes.Error, "run had failures")
	}

	if report.Cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

func (e *Engine) runInstance(ctx context.Context, runID string, op Operation, inst types.Instance, res *InstanceResult, fn instanceFunc) {
	res.InstanceID = inst.ID
	res.InitialState = inst.State
	res.FinalState = inst.State
	res.StartTime = e.now()

	if ctx.Err() != nil {
		e.cancelled(ctx, op, inst, res)
		return
	}

	ctx, span := e.tracer.Start(ctx, "snapwarden.instance", trace.WithAttributes(
		attribute.String("instance.id", inst.ID),
		attribute.String("instance.state", string(inst.State)),
		attribute.String("operation", string(op)),
	))
	defer span.End()

	b := &bracket{runID: runID, op: op, inst: inst, res: res, span: span}

	switch blocked, reason := e.checkSafety(ctx, b); {
	case blocked:
		e.skipInstance(ctx, b, reason)
	case inst.Err != nil && (op == OpSnapshot || op == OpTeardown):
		e.incomplete(ctx, b)
	default:
		fn(ctx, b)
	}

	res.EndTime = e.now()
	res.settle()
	if res.Outcome == OutcomeFailed {
		span.SetStatus(codes.Error, res.Error)
	}
}

// incomplete fails an instance whose volume list could not be loaded
func (e *Engine) incomplete(ctx context.Context, b *bracket) {
	b.res.Error = fmt.Sprintf("volumes unknown: %v", b.inst.Err)
	e.logger.WithContext(ctx).Error().Err(b.inst.Err).Str("instance_id", b.inst.ID).Msg("instance not loaded")
	e.emit(Event{
		Kind:       EventFailure,
		Operation:  b.op,
		InstanceID: b.inst.ID,
		ResourceID: b.inst.ID,
		Message:    b.res.Error,
		Err:        b.inst.Err,
	})
}

func (e *Engine) cancelled(ctx context.Context, op Operation, inst types.Instance, res *InstanceResult) {
	res.InstanceID = inst.ID
	res.InitialState = inst.State
	res.FinalState = inst.State
	res.Outcome = OutcomeSkipped
	res.SkipReason = "run cancelled"
	e.logger.LogSkip(ctx, inst.ID, res.SkipReason)
	e.emit(Event{Kind: EventSkip, Operation: op, InstanceID: inst.ID, ResourceID: inst.ID, Message: res.SkipReason})
}

func (e *Engine) checkSafety(ctx context.Context, b *bracket) (bool, string) {
	checks, err := e.safetyChecker.CheckSafety(ctx, b.op, b.inst)
	if err != nil {
		return true, fmt.Sprintf("safety check error: %v", err)
	}

	for _, check := range checks {
		if check.Passed {
			continue
		}
		switch check.Severity {
		case SeverityCritical, SeverityError:
			return true, check.Message
		default:
			e.logger.WithContext(ctx).Warn().
				Str("instance_id", b.inst.ID).
				Str("check", check.Name).
				Msg(check.Message)
		}
	}
	return false, ""
}

// skipInstance leaves the whole instance untouched
func (e *Engine) skipInstance(ctx context.Context, b *bracket, reason string) {
	b.res.Outcome = OutcomeSkipped
	b.res.SkipReason = reason
	e.skipped(ctx, b, b.inst.ID, reason)
}

// skipped logs, journals and reports a resource that was left alone
func (e *Engine) skipped(ctx context.Context, b *bracket, resourceID, reason string) {
	e.journalAppend(wal.EntrySkipped, resourceID, skipRecord{
		RunID:      b.runID,
		Operation:  b.op,
		InstanceID: b.inst.ID,
		ResourceID: resourceID,
		Reason:     reason,
	}, nil)
	e.logger.LogSkip(ctx, resourceID, reason)
	telemetry.RecordSkipEvent(b.span, resourceID, reason)
	e.emit(Event{
		Kind:       EventSkip,
		Operation:  b.op,
		InstanceID: b.inst.ID,
		ResourceID: resourceID,
		Message:    reason,
	})
}

type skipRecord struct {
	RunID      string    `json:"run_id"`
	Operation  Operation `json:"operation"`
	InstanceID string    `json:"instance_id"`
	ResourceID string    `json:"resource_id"`
	Reason     string    `json:"reason"`
}

// journalRecord is written unchanged before and after a call so the
// executing entry can be paired with its resolution on replay
type journalRecord struct {
	RunID      string    `json:"run_id"`
	Operation  Operation `json:"operation"`
	Action     Action    `json:"action"`
	InstanceID string    `json:"instance_id"`
	ResourceID string    `json:"resource_id"`
}

// step performs one journaled cloud call and records its result. Once
// issued the call runs to completion; cancellation is only observed
// between steps.
func (e *Engine) step(ctx context.Context, b *bracket, action Action, resourceID string) (StepResult, error) {
	record := journalRecord{
		RunID:      b.runID,
		Operation:  b.op,
		Action:     action,
		InstanceID: b.inst.ID,
		ResourceID: resourceID,
	}
	e.journalAppend(wal.EntryExecuting, resourceID, record, nil)

	start := e.now()
	output, err := e.executeAction(context.WithoutCancel(ctx), action, resourceID)
	duration := e.now().Sub(start)

	result := StepResult{
		Action:     action,
		ResourceID: resourceID,
		Outcome:    OutcomeSuccess,
		Output:     output,
		StartTime:  start,
		Duration:   duration,
	}
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		e.journalAppend(wal.EntryFailed, resourceID, record, err)
	} else {
		e.journalAppend(wal.EntryExecuted, resourceID, record, nil)
	}

	e.logger.LogAction(ctx, string(action), resourceID, duration, err)
	telemetry.RecordActionEvent(b.span, string(action), resourceID, string(result.Outcome), result.Error)
	if e.recorder != nil {
		e.recorder.RecordAction(ctx, string(b.op), string(action), string(result.Outcome), duration)
	}

	event := Event{
		Kind:       EventAction,
		Operation:  b.op,
		InstanceID: b.inst.ID,
		ResourceID: resourceID,
		Action:     action,
		Message:    output,
	}
	if err != nil {
		event.Kind = EventFailure
		event.Err = err
	}
	e.emit(event)

	return result, err
}

// instanceStep runs an instance level call and records it on the instance result
func (e *Engine) instanceStep(ctx context.Context, b *bracket, action Action) error {
	result, err := e.step(ctx, b, action, b.inst.ID)
	b.res.Steps = append(b.res.Steps, result)
	return err
}

func (e *Engine) journalAppend(entryType wal.EntryType, resourceID string, data interface{}, errToLog error) {
	if e.journal == nil {
		return
	}

	var err error
	if errToLog != nil {
		err = e.journal.AppendError(entryType, resourceID, data, errToLog)
	} else {
		err = e.journal.Append(entryType, resourceID, data)
	}
	if err != nil {
		e.logger.Error().Err(err).
			Str("entry_type", string(entryType)).
			Str("resource_id", resourceID).
			Msg("journal write failed")
	}
}

func (e *Engine) emit(ev Event) {
	if e.progress != nil {
		e.progress.Emit(ev)
	}
}

// settle derives the instance outcome from its steps and volumes unless
// it was already decided
func (r *InstanceResult) settle() {
	if r.Outcome != "" {
		return
	}

	failed := r.Error != ""
	acted := false
	for _, s := range r.Steps {
		acted = true
		if s.Failed() {
			failed = true
		}
	}
	for _, v := range r.Volumes {
		switch v.Outcome {
		case OutcomeFailed:
			failed = true
		case OutcomeSuccess:
			acted = true
		}
	}

	switch {
	case failed:
		r.Outcome = OutcomeFailed
		if r.Error == "" {
			r.Error = "one or more actions failed"
		}
	case acted:
		r.Outcome = OutcomeSuccess
	default:
		r.Outcome = OutcomeSkipped
		if r.SkipReason == "" {
			r.SkipReason = "nothing to do"
		}
	}
}

// settle derives the volume outcome from its steps
func (v *VolumeResult) settle() {
	if v.Outcome != "" {
		return
	}
	v.Outcome = OutcomeSuccess
	for _, s := range v.Steps {
		if s.Failed() {
			v.Outcome = OutcomeFailed
			if v.Error == "" {
				v.Error = s.Error
			}
			return
		}
	}
}

func (r *Report) tally() {
	r.SuccessfulCount, r.FailedCount, r.SkippedCount = 0, 0, 0
	for _, inst := range r.Instances {
		switch inst.Outcome {
		case OutcomeSuccess:
			r.SuccessfulCount++
		case OutcomeFailed:
			r.FailedCount++
		case OutcomeSkipped:
			r.SkippedCount++
		}
	}
	r.PartialFailure = r.FailedCount > 0
}

// HasFailures reports whether any instance failed
func (r *Report) HasFailures() bool {
	return r.FailedCount > 0
}

// Instance returns the result for an instance ID
func (r *Report) Instance(id string) (InstanceResult, bool) {
	for _, inst := range r.Instances {
		if inst.InstanceID == id {
			return inst, true
		}
	}
	return InstanceResult{}, false
}
