package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yairfalse/snapwarden/internal/config"
	"github.com/yairfalse/snapwarden/providers"
	"github.com/yairfalse/snapwarden/providers/aws"
	"github.com/yairfalse/snapwarden/telemetry"
)

var version = "0.1.0"

// Exit codes
const (
	exitOK      = 0
	exitSetup   = 1
	exitPartial = 2
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// errPartialFailure is returned when a run finished with failed sub-actions
var errPartialFailure = errors.New("one or more actions failed")

// GatewayFactory builds the cloud gateway for a loaded configuration
type GatewayFactory func(ctx context.Context, cfg *config.Config) (providers.Gateway, error)

func awsGateway(ctx context.Context, cfg *config.Config) (providers.Gateway, error) {
	return providers.GetProvider(ctx, aws.ProviderName, providers.ProviderConfig{
		Profile:          cfg.AWS.Profile,
		Region:           cfg.AWS.Region,
		RetryMaxAttempts: cfg.AWS.RetryMaxAttempts,
	})
}

// cli holds global flags and everything resolved from them
type cli struct {
	configPath string
	profile    string
	region     string
	reportFile string
	debug      bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	newGateway GatewayFactory

	cfg    *config.Config
	logger *telemetry.Logger
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer, factory GatewayFactory) *cli {
	return &cli{
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		newGateway: factory,
		logger:     telemetry.NopLogger(),
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "snapwarden",
		Short: "Snapshot, power and teardown tool for EC2 instances",
		Long: `snapwarden manages EC2 instances grouped by their Project tag.

It lists instances, volumes and snapshots, snapshots every attached volume
whose latest snapshot is old enough, stopping and restarting running
instances around the snapshot, and tears instances down together with
their volumes and snapshots.

Every mutating call is journaled before it is made, and every run is kept
in a local history.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}
	root.SetVersionTemplate("snapwarden {{.Version}}\n")
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "Config file path (TOML)")
	flags.StringVar(&c.profile, "profile", "", "AWS profile to use (default: SDK credential chain)")
	flags.StringVar(&c.region, "region", "", "AWS region (default "+config.DefaultRegion+")")
	flags.BoolVar(&c.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&c.reportFile, "report-file", "", "Write the run report to this file (.json, .yaml or .yml)")

	root.AddCommand(
		newSnapshotsCmd(c),
		newVolumesCmd(c),
		newInstancesCmd(c),
		newRunsCmd(c),
		newDaemonCmd(c),
	)
	return root
}

// init overlays SNAPWARDEN_* env vars and flags on the config file and
// sets up logging.
func (c *cli) init(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("SNAPWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := cmd.Root().PersistentFlags()
	for _, name := range []string{"config", "profile", "region", "debug", "report-file"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	_ = v.BindEnv("log_level")

	cfg, err := config.LoadOrDefault(v.GetString("config"))
	if err != nil {
		return &exitError{code: exitSetup, err: err}
	}
	if p := v.GetString("profile"); p != "" {
		cfg.AWS.Profile = p
	}
	if r := v.GetString("region"); r != "" {
		cfg.AWS.Region = r
	}
	if l := v.GetString("log_level"); l != "" {
		cfg.Log.Level = l
	}
	if v.GetBool("debug") {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: exitSetup, err: fmt.Errorf("invalid config: %w", err)}
	}

	c.reportFile = v.GetString("report-file")
	c.cfg = cfg
	c.logger = consoleLogger(c.stderr, cfg.Log.Level)
	return nil
}

func consoleLogger(w io.Writer, level string) *telemetry.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return telemetry.FromZerolog(logger)
}

// gateway builds the rate limited cloud gateway
func (c *cli) gateway(ctx context.Context) (providers.Gateway, error) {
	gw, err := c.newGateway(ctx, c.cfg)
	if err != nil {
		return nil, &exitError{code: exitSetup, err: fmt.Errorf("connect to provider: %w", err)}
	}
	return providers.NewRateLimited(gw, c.cfg.RateLimit.RPS, c.cfg.RateLimit.Burst), nil
}

// execute runs the command tree and maps the result onto an exit code
func execute(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code != exitPartial {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitSetup
}
