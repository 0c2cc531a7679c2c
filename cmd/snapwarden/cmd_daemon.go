package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/snapwarden/executor"
	"github.com/yairfalse/snapwarden/internal/daemon"
	"github.com/yairfalse/snapwarden/inventory"
	"github.com/yairfalse/snapwarden/selector"
	"github.com/yairfalse/snapwarden/telemetry"
	"github.com/yairfalse/snapwarden/types"
)

func newDaemonCmd(c *cli) *cobra.Command {
	var (
		interval    time.Duration
		project     string
		age         int
		metricsAddr string
		runOnStart  bool
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Snapshot instances on a fixed interval",
		Long: `Run snapshot passes on a fixed interval until interrupted.

Each pass snapshots the volumes of every instance in --project, or of every
instance when no project is given, with the same rules as
"instances snapshot". Prometheus metrics are served on /metrics, health on
/healthz and readiness on /readyz.`,
		Example: `  snapwarden daemon --project web --age 1
  snapwarden daemon --interval 6h --metrics :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("interval") {
				c.cfg.Daemon.Interval = interval
			}
			if flags.Changed("project") {
				c.cfg.Daemon.Project = project
			}
			if flags.Changed("metrics") {
				c.cfg.Daemon.MetricsAddr = metricsAddr
			}
			if flags.Changed("run-on-start") {
				c.cfg.Daemon.RunOnStart = runOnStart
			}
			if flags.Changed("age") {
				if age < 0 {
					return &exitError{code: exitSetup, err: fmt.Errorf("--age must not be negative")}
				}
				c.cfg.Snapshot.MinAgeDays = age
			}
			if err := c.cfg.Validate(); err != nil {
				return &exitError{code: exitSetup, err: fmt.Errorf("invalid config: %w", err)}
			}
			return c.runDaemon(cmd.Context(), c.engineOptions())
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 24*time.Hour, "Time between snapshot passes")
	cmd.Flags().StringVar(&project, "project", "", "Only instances of this project (tag Project:<name>)")
	cmd.Flags().IntVar(&age, "age", 0, "Skip volumes whose latest completed snapshot is younger than this many days")
	cmd.Flags().StringVar(&metricsAddr, "metrics", ":9090", "Metrics and health HTTP listen address")
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "Run a pass immediately instead of waiting one interval")
	return cmd
}

func (c *cli) runDaemon(ctx context.Context, opts executor.Options) error {
	// JSON logs in daemon mode
	level, err := zerolog.ParseLevel(c.cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	c.logger = telemetry.NewLoggerWithWriter(c.cfg.OTEL.ServiceName, c.stderr)
	c.logger.Logger = c.logger.Level(level)

	gw, err := c.gateway(ctx)
	if err != nil {
		return err
	}

	rt, err := c.newRuntime(ctx, gw, opts, nil)
	if err != nil {
		return err
	}
	defer rt.close(ctx, c)

	metrics, err := daemon.NewDaemonMetrics(rt.telemetry.MeterProvider())
	if err != nil {
		return &exitError{code: exitSetup, err: fmt.Errorf("init daemon metrics: %w", err)}
	}

	d, err := daemon.NewDaemon(daemon.Config{
		Interval:   c.cfg.Daemon.Interval,
		RunOnStart: c.cfg.Daemon.RunOnStart,
		Region:     c.cfg.AWS.Region,
	}, c.snapshotPass(rt), daemon.WithMetrics(metrics), daemon.WithLogger(c.logger))
	if err != nil {
		return &exitError{code: exitSetup, err: err}
	}

	ln, err := net.Listen("tcp", c.cfg.Daemon.MetricsAddr)
	if err != nil {
		return &exitError{code: exitSetup, err: fmt.Errorf("listen on %s: %w", c.cfg.Daemon.MetricsAddr, err)}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.telemetry.MetricsHandler())
	mux.Handle("/healthz", d.HealthHandler())
	mux.Handle("/readyz", d.ReadyHandler())

	c.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("project", c.cfg.Daemon.Project).
		Str("region", c.cfg.AWS.Region).
		Msg("serving metrics and health")

	var g run.Group
	{
		daemonCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Start(daemonCtx)
		}, func(error) {
			cancel()
		})
	}
	{
		execute, interrupt := serveActor(ln, mux)
		g.Add(execute, interrupt)
	}
	return g.Run()
}

// snapshotPass resolves the daemon's instances and snapshots them once
func (c *cli) snapshotPass(rt *runtime) daemon.RunFunc {
	sel := types.Selector{Project: c.cfg.Daemon.Project, Force: true}
	return func(ctx context.Context) (*executor.Report, error) {
		instances, err := selector.Resolve(ctx, rt.gw, sel, selector.Mutate)
		if err != nil {
			return nil, err
		}
		instances = inventory.Build(ctx, rt.gw, instances, inventory.Full, c.logger.Logger).Instances()

		report, err := rt.engine.Snapshot(ctx, instances)
		if report != nil {
			if _, serr := rt.history.SaveReport(report); serr != nil {
				c.logger.Warn().Err(serr).Str("run_id", report.RunID).Msg("failed to save run")
			} else if _, cerr := rt.history.Compact(c.cfg.History.Keep); cerr != nil {
				c.logger.Warn().Err(cerr).Msg("failed to compact run history")
			}
		}
		return report, err
	}
}

// serveActor returns the execute and interrupt pair for an HTTP server
func serveActor(ln net.Listener, handler http.Handler) (func() error, func(error)) {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	execute := func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
	interrupt := func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return execute, interrupt
}
