package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pipettor/internal/runstore"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run history",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *runstore.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					if runs == nil {
						runs = []*runstore.Run{}
					}
					return writeJSON(cmd, runs)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				now := time.Now()
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						shortID(r.ID),
						r.Protocol,
						runStatus(r),
						fmt.Sprintf("%d/%d", r.StepsDone, r.StepsTotal),
						formatTime(r.CreatedAt),
						formatDuration(r.Duration(now)),
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"ID", "Protocol", "Status", "Steps", "Started", "Duration"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

type runDetail struct {
	*runstore.Run
	Ledger []runstore.VesselEntry `json:"ledger"`
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its source-vessel ledger",
		Long:  "Show a run by its id or a unique prefix of it, with the volume drawn from each source vessel.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *runstore.Store) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				ledger, err := store.Ledger(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					if ledger == nil {
						ledger = []runstore.VesselEntry{}
					}
					return writeJSON(cmd, runDetail{Run: run, Ledger: ledger})
				}

				out := cmd.OutOrStdout()
				writeLines(out,
					fmt.Sprintf("Run: %s", run.ID),
					fmt.Sprintf("Protocol: %s", run.Protocol),
					fmt.Sprintf("Status: %s", runStatus(run)),
					fmt.Sprintf("Steps: %d/%d", run.StepsDone, run.StepsTotal),
					fmt.Sprintf("Commands: %d", run.CommandCount),
					fmt.Sprintf("Started: %s", formatTime(run.CreatedAt)),
					fmt.Sprintf("Duration: %s", formatDuration(run.Duration(time.Now()))),
				)
				if run.ProtocolPath != "" {
					fmt.Fprintf(out, "File: %s\n", run.ProtocolPath)
				}
				if run.Rotation != nil {
					fmt.Fprintf(out, "Primer rotation: %d\n", *run.Rotation)
				}
				if run.ErrorMessage != "" {
					fmt.Fprintf(out, "Error: %s\n", run.ErrorMessage)
				}
				if len(ledger) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(ledger))
				for _, e := range ledger {
					rows = append(rows, []string{
						fmt.Sprintf("%d", e.Step),
						displayName(e.Reagent),
						e.Vessel,
						formatVolume(e.Drawn),
						formatVolume(e.Remaining),
						yesNo(e.Depleted),
					})
				}
				fmt.Fprintln(out, renderTable(out,
					[]string{"Step", "Reagent", "Vessel", "Drawn (µL)", "Left (µL)", "Depleted"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runStatus(r *runstore.Run) string {
	if r.DryRun {
		return string(r.Status) + " (dry run)"
	}
	return string(r.Status)
}
