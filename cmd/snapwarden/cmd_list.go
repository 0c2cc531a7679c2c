package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snapwarden/internal/ui"
	"github.com/yairfalse/snapwarden/inventory"
	"github.com/yairfalse/snapwarden/selector"
	"github.com/yairfalse/snapwarden/types"
)

// selectorFlags are the --instance/--project/--force flags shared by commands
type selectorFlags struct {
	instance string
	project  string
	force    bool
}

func (s *selectorFlags) bind(cmd *cobra.Command, withInstance, withForce bool) {
	if withInstance {
		cmd.Flags().StringVar(&s.instance, "instance", "", "Only this instance ID")
	}
	cmd.Flags().StringVar(&s.project, "project", "", "Only instances of this project (tag Project:<name>)")
	if withForce {
		cmd.Flags().BoolVar(&s.force, "force", false, "Act on every instance when no instance or project is given")
	}
}

func (s selectorFlags) selector() types.Selector {
	return types.Selector{InstanceID: s.instance, Project: s.project, Force: s.force}
}

// list resolves the selector and loads the inventory to the given depth
func (c *cli) list(ctx context.Context, sel types.Selector, opts inventory.Options) ([]types.Instance, error) {
	if err := sel.Validate(false); err != nil {
		return nil, &exitError{code: exitSetup, err: err}
	}
	gw, err := c.gateway(ctx)
	if err != nil {
		return nil, err
	}
	instances, err := selector.Resolve(ctx, gw, sel, selector.List)
	if err != nil {
		return nil, &exitError{code: exitSetup, err: err}
	}
	if !opts.Volumes && !opts.Snapshots {
		return instances, nil
	}
	return inventory.Build(ctx, gw, instances, opts, c.logger.Logger).Instances(), nil
}

func newSnapshotsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Commands for snapshots",
	}

	var (
		sel     selectorFlags
		listAll bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List EBS snapshots",
		Long: `List snapshots of every volume attached to the selected instances.

By default each volume shows its snapshots newest first down to the most
recent completed one. Use --all to list the full history.`,
		Example: `  snapwarden snapshots list --project web
  snapwarden snapshots list --instance i-0abc123 --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instances, err := c.list(cmd.Context(), sel.selector(), inventory.Full)
			if err != nil {
				return err
			}
			return ui.PrintSnapshots(c.stdout, instances, listAll)
		},
	}
	sel.bind(list, true, false)
	list.Flags().BoolVar(&listAll, "all", false, "List all snapshots for each volume, not just the most recent")

	cmd.AddCommand(list)
	return cmd
}

func newVolumesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volumes",
		Short: "Commands for volumes",
	}

	var sel selectorFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List EBS volumes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instances, err := c.list(cmd.Context(), sel.selector(), inventory.Options{Volumes: true})
			if err != nil {
				return err
			}
			return ui.PrintVolumes(c.stdout, instances)
		},
	}
	sel.bind(list, true, false)

	cmd.AddCommand(list)
	return cmd
}

func newInstancesListCmd(c *cli) *cobra.Command {
	var sel selectorFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List EC2 instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instances, err := c.list(cmd.Context(), sel.selector(), inventory.Options{})
			if err != nil {
				return err
			}
			if len(instances) == 0 {
				_, err := fmt.Fprintln(c.stdout, "No matching instances")
				return err
			}
			return ui.PrintInstances(c.stdout, instances)
		},
	}
	sel.bind(cmd, false, false)
	return cmd
}
