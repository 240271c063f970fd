package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/forum-harvester/internal/app"
	"github.com/JakeFAU/forum-harvester/internal/partition"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Worker().RunOnce(ctx)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(report); encErr != nil {
					return fmt.Errorf("write report: %w", encErr)
				}
				return err
			})
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the Postgres tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("ensure schema: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			})
		},
	}
}

func newOwnsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "owns THREAD_ID...",
		Short: "Show which worker owns each thread",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			owner, err := partition.New(e.cfg.Worker.Index, e.cfg.Worker.Count)
			if err != nil {
				return err
			}
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("thread id %q: %w", arg, err)
				}
				mark := ""
				if owner.Owns(id) {
					mark = " (this worker)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d/%d%s\n", id, partition.Slot(id, owner.Count()), owner.Count(), mark)
			}
			return nil
		},
	}
}
