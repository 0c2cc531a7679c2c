package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snapwarden/internal/ui"
	"github.com/yairfalse/snapwarden/storage"
	"github.com/yairfalse/snapwarden/wal"
)

func newRunsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect run history and the action journal",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return ui.PrintRuns(c.stdout, store.ListRuns(limit))
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 for all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the report of a run; a unique prefix of the ID is enough",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openHistory()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			report, err := store.GetRun(args[0])
			if err != nil {
				if errors.Is(err, storage.ErrRunNotFound) || errors.Is(err, storage.ErrAmbiguousRun) {
					return &exitError{code: exitSetup, err: err}
				}
				return err
			}
			if c.reportFile != "" {
				if err := writeReport(c.reportFile, report); err != nil {
					return err
				}
			}
			return ui.PrintReport(c.stdout, report)
		},
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List journaled actions that never recorded an outcome",
		Long: `List actions that were journaled as executing but never recorded as
executed or failed. These calls may or may not have reached the provider
before the process stopped, and the affected resources should be checked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := wal.Pending(c.cfg.Journal.Dir)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			return ui.PrintPending(c.stdout, entries)
		},
	}

	cmd.AddCommand(list, show, pending)
	return cmd
}

func (c *cli) openHistory() (*storage.RunStore, error) {
	store, err := storage.Open(c.cfg.History.Path)
	if err != nil {
		return nil, &exitError{code: exitSetup, err: fmt.Errorf("open run history: %w", err)}
	}
	return store, nil
}
