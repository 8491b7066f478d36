package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect and manage workspace snapshots",
		Long: `Inspect and manage the workspace snapshot history.

Examples:
  wavequorum snapshots list --limit 5
  wavequorum snapshots create -m "before manual edit"
  wavequorum snapshots revert 3f2a9c1
  wavequorum snapshots squash <from-id> <to-id> -m "feature work"`,
	}
	cmd.AddCommand(newSnapshotsListCmd())
	cmd.AddCommand(newSnapshotsCreateCmd())
	cmd.AddCommand(newSnapshotsRevertCmd())
	cmd.AddCommand(newSnapshotsSquashCmd())
	return cmd
}

func newSnapshotsListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			snaps, err := a.snapshots.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snaps)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tMESSAGE")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID[:12], s.CreatedAt.Format(time.RFC3339), s.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of snapshots (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newSnapshotsCreateCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Checkpoint the current workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.snapshots.Create(cmd.Context(), message)
			if err != nil {
				return err
			}
			if err := a.journal.Audit(cmd.Context(), "", "snapshot", "cli", "create", "info",
				map[string]string{"id": id, "message": message}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "manual checkpoint", "snapshot message")
	return cmd
}

func newSnapshotsRevertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert [snapshot-id]",
		Short: "Restore the workspace to a snapshot (latest when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			target := "latest"
			if len(args) == 1 {
				target = args[0]
				err = a.snapshots.RevertTo(ctx, target)
			} else {
				err = a.snapshots.RevertToLatest(ctx)
			}
			if err != nil {
				return err
			}
			if err := a.journal.Audit(ctx, "", "snapshot", "cli", "revert", "warn",
				map[string]string{"target": target}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "workspace restored to %s\n", target)
			return nil
		},
	}
}

func newSnapshotsSquashCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "squash <from-id> <to-id>",
		Short: "Collapse an inclusive snapshot range into one snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id, err := a.snapshots.Squash(ctx, args[0], args[1], message)
			if err != nil {
				return err
			}
			if err := a.journal.Audit(ctx, "", "snapshot", "cli", "squash", "info",
				map[string]string{"from": args[0], "to": args[1], "id": id}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "squashed", "message for the squashed snapshot")
	return cmd
}
