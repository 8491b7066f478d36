package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Rogers-F/wavequorum/internal/domain"
	"github.com/Rogers-F/wavequorum/internal/wave"
)

func newRunCmd() *cobra.Command {
	var (
		tasksPath string
		runID     string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a task file in the foreground",
		Long: `Execute every task in a task file and print each task's outcome.

SIGINT or SIGTERM cancels the run; the in-flight wave is rolled back.
The exit status is 1 when any task failed.

Examples:
  wavequorum run --tasks tasks.yaml
  wavequorum run --tasks tasks.yaml --json --config ./config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := loadTasks(tasksPath, a.cfg.Consensus.ConsensusConfig)
			if err != nil {
				return err
			}
			sched, err := a.scheduler()
			if err != nil {
				return err
			}

			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			var opts []wave.RunOption
			if runID != "" {
				opts = append(opts, wave.WithRunID(runID))
			}
			report, runErr := sched.Execute(ctx, tasks, opts...)
			if report == nil {
				return runErr
			}

			if asJSON {
				err = printReportJSON(cmd.OutOrStdout(), report)
			} else {
				err = printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			if len(report.Failed()) > 0 {
				return errTasksFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tasksPath, "tasks", "", "path to the task file (YAML or JSON)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (generated when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run report as JSON")
	_ = cmd.MarkFlagRequired("tasks")
	return cmd
}

func printReportJSON(w io.Writer, report *domain.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printReport(w io.Writer, report *domain.RunReport) error {
	fmt.Fprintf(w, "run %s: %s (%d waves committed)\n", report.RunID, domain.StatusOf(report), report.WavesCompleted)
	if report.StoppedEarly && report.StopReason != "" {
		fmt.Fprintf(w, "stopped: %s\n", report.StopReason)
	}

	ids := make([]string, 0, len(report.PerTask))
	for id := range report.PerTask {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSTATE\tREASON\tWAVE\tVOTES")
	for _, id := range ids {
		o := report.PerTask[id]
		votes := "-"
		if o.Consensus != nil {
			votes = fmt.Sprintf("%d/%d", topVotes(o.Consensus), o.Consensus.ConsideredCount)
		}
		reason := string(o.Reason)
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", id, o.State, reason, o.Wave, votes)
	}
	return tw.Flush()
}

func topVotes(res *domain.ConsensusResult) int {
	top := 0
	for _, n := range res.Votes {
		top = max(top, n)
	}
	return top
}
