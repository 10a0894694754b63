package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"pipettor/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var runID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log entries",
		Long:  "Show the most recent entries of pipettor.log, optionally only those of one run, and keep following the file with --follow.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "pipettor.log")
			query := logs.Query{RunID: runID, Limit: lines}

			page, err := logs.Tail(path, query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, entry := range page.Entries {
				fmt.Fprintln(out, entry)
			}
			if !follow {
				if len(page.Entries) == 0 {
					fmt.Fprintf(out, "No log entries in %s\n", path)
				}
				return nil
			}
			query.Limit = 0
			return logs.Follow(cmd.Context(), path, page.Offset, query, 500*time.Millisecond, func(entry string) error {
				_, err := fmt.Fprintln(out, entry)
				return err
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "Number of entries to show (0 for all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().StringVar(&runID, "run", "", "Only show entries of this run id")
	return cmd
}
