// Package daemon runs snapshot passes on a fixed interval.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yairfalse/snapwarden/executor"
	"github.com/yairfalse/snapwarden/telemetry"
)

// RunFunc performs one pass. It returns the report of the run, which may be
// non-nil alongside an error.
type RunFunc func(ctx context.Context) (*executor.Report, error)

// Config holds daemon configuration
type Config struct {
	Interval   time.Duration
	RunOnStart bool
	Region     string
}

// RunStatus describes the most recent pass
type RunStatus struct {
	RunID     string    `json:"run_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Error     string    `json:"error,omitempty"`
}

// Daemon manages the scheduled snapshot loop
type Daemon struct {
	interval   time.Duration
	runOnStart bool
	region     string
	run        RunFunc
	metrics    *DaemonMetrics
	logger     *telemetry.Logger
	now        func() time.Time

	startTime time.Time
	runCount  atomic.Int64
	failCount atomic.Int64
	ready     atomic.Bool

	mu      sync.RWMutex
	lastRun *RunStatus
}

// Option configures a Daemon
type Option func(*Daemon)

// WithMetrics records every pass
func WithMetrics(m *DaemonMetrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithLogger sets the daemon logger
func WithLogger(l *telemetry.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// NewDaemon creates a new daemon instance
func NewDaemon(config Config, run RunFunc, opts ...Option) (*Daemon, error) {
	if run == nil {
		return nil, errors.New("daemon: run function required")
	}
	if config.Interval <= 0 {
		return nil, errors.New("daemon: interval must be positive")
	}

	d := &Daemon{
		interval:   config.Interval,
		runOnStart: config.RunOnStart,
		region:     config.Region,
		run:        run,
		logger:     telemetry.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.startTime = d.now()
	return d, nil
}

// Start runs passes until ctx is cancelled. Passes never overlap.
func (d *Daemon) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.ready.Store(true)
	defer d.ready.Store(false)

	log := d.logger.WithContext(ctx)
	log.Info().
		Dur("interval", d.interval).
		Bool("run_on_start", d.runOnStart).
		Msg("snapshot daemon started")

	if d.runOnStart {
		d.runOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Int64("runs", d.runCount.Load()).Msg("snapshot daemon stopped")
			return nil
		case <-ticker.C:
			d.runOnce(ctx)
		}
	}
}

func (d *Daemon) runOnce(ctx context.Context) {
	started := d.now()
	report, err := d.run(ctx)
	elapsed := d.now().Sub(started)

	status := &RunStatus{StartedAt: started, Duration: elapsed.String()}
	if report != nil {
		status.RunID = report.RunID
		status.Succeeded = report.SuccessfulCount
		status.Failed = report.FailedCount
		status.Skipped = report.SkippedCount
	}

	outcome := "success"
	switch {
	case err != nil:
		status.Error = err.Error()
		outcome = "error"
	case report != nil && report.HasFailures():
		outcome = "partial_failure"
	}
	if outcome != "success" {
		d.failCount.Add(1)
	}

	d.mu.Lock()
	d.lastRun = status
	d.mu.Unlock()
	d.runCount.Add(1)

	if d.metrics != nil {
		d.metrics.RecordPass(ctx, outcome, d.region, elapsed)
		if report != nil {
			d.metrics.RecordSnapshots(ctx, report, d.region)
		}
	}

	event := d.logger.WithContext(ctx).Info()
	if outcome != "success" {
		event = d.logger.WithContext(ctx).Warn().Err(err)
	}
	event.
		Str("run_id", status.RunID).
		Str("outcome", outcome).
		Dur("duration", elapsed).
		Msg("snapshot pass finished")
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status   string     `json:"status"`
	Uptime   int64      `json:"uptime_seconds"`
	Runs     int64      `json:"runs"`
	Failures int64      `json:"failures"`
	LastRun  *RunStatus `json:"last_run,omitempty"`
	Interval string     `json:"interval"`
	Region   string     `json:"region,omitempty"`
}

// Health returns daemon health status. The daemon is degraded while the
// latest pass had errors or failures.
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	last := d.lastRun
	d.mu.RUnlock()

	status := "healthy"
	if last != nil && (last.Error != "" || last.Failed > 0) {
		status = "degraded"
	}
	return HealthStatus{
		Status:   status,
		Uptime:   int64(d.now().Sub(d.startTime).Seconds()),
		Runs:     d.runCount.Load(),
		Failures: d.failCount.Load(),
		LastRun:  last,
		Interval: d.interval.String(),
		Region:   d.region,
	}
}

// Ready reports whether the loop is running
func (d *Daemon) Ready() bool {
	return d.ready.Load()
}

// RunCount returns total passes run
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}

// HealthHandler serves Health as JSON, always with status 200.
func (d *Daemon) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Health())
	})
}

// ReadyHandler answers 200 once the loop is running and 503 before.
func (d *Daemon) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !d.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
