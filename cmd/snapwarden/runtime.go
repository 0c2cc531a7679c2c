package main

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/snapwarden/eligibility"
	"github.com/yairfalse/snapwarden/executor"
	"github.com/yairfalse/snapwarden/internal/telemetry"
	"github.com/yairfalse/snapwarden/internal/ui"
	"github.com/yairfalse/snapwarden/policy"
	"github.com/yairfalse/snapwarden/providers"
	"github.com/yairfalse/snapwarden/storage"
	"github.com/yairfalse/snapwarden/wal"
)

// runtime is everything a mutating command needs
type runtime struct {
	gw        providers.Gateway
	engine    *executor.Engine
	journal   *wal.WAL
	history   *storage.RunStore
	telemetry *telemetry.Provider
}

// engineOptions maps the loaded config onto engine options
func (c *cli) engineOptions() executor.Options {
	opts := executor.DefaultOptions()
	opts.MinAge = eligibility.MinAgeFromDays(c.cfg.Snapshot.MinAgeDays)
	if c.cfg.Snapshot.Description != "" {
		opts.Description = c.cfg.Snapshot.Description
	}
	opts.Live = c.cfg.Snapshot.Live
	opts.Parallelism = c.cfg.Snapshot.Parallelism
	opts.AllowAutoScaling = c.cfg.Snapshot.AllowAutoScaling
	opts.StopTimeout = c.cfg.Snapshot.StopTimeout
	opts.StartTimeout = c.cfg.Snapshot.StartTimeout
	opts.DetachTimeout = c.cfg.Teardown.DetachTimeout
	return opts
}

// newRuntime opens the journal, the run history and telemetry, loads
// policies and builds the engine. progress may be nil.
func (c *cli) newRuntime(ctx context.Context, gw providers.Gateway, opts executor.Options, progress executor.Progress) (_ *runtime, err error) {
	rt := &runtime{gw: gw}
	defer func() {
		if err != nil {
			rt.close(ctx, c)
		}
	}()

	rt.telemetry, err = telemetry.NewProvider(ctx, c.cfg.OTEL)
	if err != nil {
		return nil, &exitError{code: exitSetup, err: fmt.Errorf("init telemetry: %w", err)}
	}

	journalCfg := wal.DefaultConfig()
	journalCfg.RetentionDays = c.cfg.Journal.RetentionDays
	if stats, cerr := wal.CleanupWithStats(c.cfg.Journal.Dir, journalCfg); cerr != nil {
		c.logger.Warn().Err(cerr).Msg("journal cleanup failed")
	} else if stats.FilesRemoved > 0 {
		c.logger.Debug().Int("files", stats.FilesRemoved).Int64("bytes", stats.BytesFreed).Msg("journal cleaned up")
	}
	rt.journal, err = wal.OpenWithConfig(c.cfg.Journal.Dir, journalCfg)
	if err != nil {
		return nil, &exitError{code: exitSetup, err: fmt.Errorf("open journal: %w", err)}
	}

	rt.history, err = storage.Open(c.cfg.History.Path)
	if err != nil {
		return nil, &exitError{code: exitSetup, err: fmt.Errorf("open run history: %w", err)}
	}

	engineOpts := []executor.EngineOption{
		executor.WithJournal(rt.journal),
		executor.WithLogger(c.logger),
		executor.WithRecorder(rt.telemetry),
		executor.WithTracer(rt.telemetry.Tracer()),
		executor.WithConfirmer(newPromptConfirmer(c.stdin, c.stdout)),
	}
	if progress != nil {
		engineOpts = append(engineOpts, executor.WithProgress(progress))
	}

	if c.cfg.Policy.Path != "" {
		pe := policy.NewPolicyEngine(c.cfg.AWS.Region, c.logger)
		if err := pe.LoadFile(ctx, c.cfg.Policy.Path); err != nil {
			return nil, &exitError{code: exitSetup, err: err}
		}
		c.logger.Debug().Strs("policies", pe.Policies()).Msg("policies loaded")
		engineOpts = append(engineOpts, executor.WithSafetyCheck(pe.SafetyCheck()))
	}

	rt.engine = executor.NewEngine(gw, opts, engineOpts...)
	return rt, nil
}

func (rt *runtime) close(ctx context.Context, c *cli) {
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close journal")
		}
	}
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close run history")
		}
	}
	if rt.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := rt.telemetry.Shutdown(shutdownCtx); err != nil {
			c.logger.Debug().Err(err).Msg("telemetry shutdown failed")
		}
	}
}

// finish stores, exports and prints a report, then maps it onto an exit code
func (c *cli) finish(rt *runtime, report *executor.Report, runErr error) error {
	if report == nil {
		if runErr == nil {
			return nil
		}
		return &exitError{code: exitSetup, err: runErr}
	}

	if _, err := rt.history.SaveReport(report); err != nil {
		c.logger.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to save run")
	} else if removed, err := rt.history.Compact(c.cfg.History.Keep); err != nil {
		c.logger.Warn().Err(err).Msg("failed to compact run history")
	} else if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("run history compacted")
	}

	if c.reportFile != "" {
		if err := writeReport(c.reportFile, report); err != nil {
			return &exitError{code: exitSetup, err: err}
		}
	}

	if err := ui.PrintReport(c.stdout, report); err != nil {
		return err
	}

	switch {
	case report.Cancelled:
		return &exitError{code: exitPartial, err: fmt.Errorf("run cancelled: %w", runErr)}
	case runErr != nil:
		return &exitError{code: exitSetup, err: runErr}
	case report.HasFailures():
		return &exitError{code: exitPartial, err: errPartialFailure}
	}
	return nil
}
