package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snapwarden/eligibility"
	"github.com/yairfalse/snapwarden/executor"
	"github.com/yairfalse/snapwarden/internal/ui"
	"github.com/yairfalse/snapwarden/inventory"
	"github.com/yairfalse/snapwarden/selector"
	"github.com/yairfalse/snapwarden/types"
)

// runFunc is one of the engine operations
type runFunc func(e *executor.Engine, ctx context.Context, instances []types.Instance) (*executor.Report, error)

func newInstancesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Commands for instances",
	}
	cmd.AddCommand(
		newInstancesListCmd(c),
		newInstancesSnapshotCmd(c),
		newPowerCmd(c, "start", "Start stopped EC2 instances", (*executor.Engine).Start),
		newPowerCmd(c, "stop", "Stop running EC2 instances", (*executor.Engine).Stop),
		newPowerCmd(c, "reboot", "Reboot running EC2 instances", (*executor.Engine).Reboot),
		newTeardownCmd(c),
	)
	return cmd
}

func newInstancesSnapshotCmd(c *cli) *cobra.Command {
	var (
		sel              selectorFlags
		age              int
		live             bool
		parallel         int
		allowAutoScaling bool
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create snapshots of EC2 instance volumes",
		Long: `Snapshot every attached volume of the selected instances.

A volume is skipped while its latest snapshot is still pending, or when
its latest completed snapshot is younger than --age days. Running
instances are stopped before their volumes are snapshotted and started
again afterwards, unless --live is given. Instances that were already
stopped stay stopped.`,
		Example: `  snapwarden instances snapshot --project web --age 7
  snapwarden instances snapshot --instance i-0abc123 --live
  snapwarden instances snapshot --force --parallel 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := c.engineOptions()
			flags := cmd.Flags()
			if flags.Changed("age") {
				if age < 0 {
					return &exitError{code: exitSetup, err: fmt.Errorf("--age must not be negative")}
				}
				opts.MinAge = eligibility.MinAgeFromDays(age)
			}
			if flags.Changed("live") {
				opts.Live = live
			}
			if flags.Changed("parallel") {
				if parallel < 1 {
					return &exitError{code: exitSetup, err: fmt.Errorf("--parallel must be at least 1")}
				}
				opts.Parallelism = parallel
			}
			if flags.Changed("allow-autoscaling") {
				opts.AllowAutoScaling = allowAutoScaling
			}
			return c.mutate(cmd.Context(), sel.selector(), inventory.Full, opts, (*executor.Engine).Snapshot)
		},
	}
	sel.bind(cmd, true, true)
	cmd.Flags().IntVar(&age, "age", 0, "Skip volumes whose latest completed snapshot is younger than this many days")
	cmd.Flags().BoolVar(&live, "live", false, "Snapshot running instances without stopping them")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "Number of instances handled at once")
	cmd.Flags().BoolVar(&allowAutoScaling, "allow-autoscaling", false, "Allow stopping instances that belong to an Auto Scaling group")
	return cmd
}

func newPowerCmd(c *cli, use, short string, fn runFunc) *cobra.Command {
	var (
		sel  selectorFlags
		wait bool
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := c.engineOptions()
			opts.Wait = wait
			return c.mutate(cmd.Context(), sel.selector(), inventory.Options{}, opts, fn)
		},
	}
	sel.bind(cmd, true, true)
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until each instance reaches the target state")
	return cmd
}

func newTeardownCmd(c *cli) *cobra.Command {
	var (
		sel selectorFlags
		yes bool
	)
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Terminate instances and delete their volumes and snapshots",
		Long: `Tear the selected instances down completely.

Each instance is stopped, every snapshot of every attached volume is
deleted, each volume is detached and deleted, and finally the instance is
terminated. This cannot be undone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := c.engineOptions()
			opts.SkipConfirmation = yes
			return c.mutate(cmd.Context(), sel.selector(), inventory.Full, opts, (*executor.Engine).Teardown)
		},
	}
	sel.bind(cmd, true, true)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

// mutate runs one engine operation on the selected instances. Selector
// errors are reported before the provider is contacted.
func (c *cli) mutate(ctx context.Context, sel types.Selector, load inventory.Options, opts executor.Options, fn runFunc) error {
	if err := sel.Validate(true); err != nil {
		return &exitError{code: exitSetup, err: err}
	}

	gw, err := c.gateway(ctx)
	if err != nil {
		return err
	}

	instances, err := selector.Resolve(ctx, gw, sel, selector.Mutate)
	if err != nil {
		return &exitError{code: exitSetup, err: err}
	}
	if len(instances) == 0 {
		_, err := fmt.Fprintf(c.stdout, "No instances match %s\n", sel)
		return err
	}
	if load.Volumes || load.Snapshots {
		instances = inventory.Build(ctx, gw, instances, load, c.logger.Logger).Instances()
	}

	rt, err := c.newRuntime(ctx, gw, opts, ui.NewProgress(c.stdout))
	if err != nil {
		return err
	}
	defer rt.close(ctx, c)

	report, runErr := fn(rt.engine, ctx, instances)
	return c.finish(rt, report, runErr)
}
