package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pipettor/internal/config"
	"pipettor/internal/labware"
	"pipettor/internal/rotation"
	"pipettor/internal/runstore"
)

func newRotationCommand(ctx *commandContext) *cobra.Command {
	rotationCmd := &cobra.Command{
		Use:   "rotation",
		Short: "Inspect or update the primer rotation record",
	}
	rotationCmd.AddCommand(newRotationShowCommand(ctx))
	rotationCmd.AddCommand(newRotationNextCommand(ctx))
	rotationCmd.AddCommand(newRotationRecordCommand(ctx))
	return rotationCmd
}

type rotationView struct {
	Backend string            `json:"backend"`
	Next    int               `json:"next_index"`
	Columns []string          `json:"primer_columns"`
	History []rotation.Record `json:"history"`
}

func newRotationShowCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show recent rotation records and the next primer order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			return ctx.withStore(func(store *runstore.Store) error {
				rs := ctx.rotationStore(store)
				idx, cols, err := nextRotation(cmd, cfg, rs)
				if err != nil {
					return err
				}
				history, err := rotationHistory(cmd, rs, limit)
				if err != nil {
					return err
				}
				view := rotationView{Backend: cfg.Rotation.Backend, Next: idx, Columns: cols, History: history}
				if jsonOutput {
					return writeJSON(cmd, view)
				}

				out := cmd.OutOrStdout()
				writeLines(out,
					fmt.Sprintf("Backend: %s", rotationSource(cfg)),
					fmt.Sprintf("Next index: %d", idx),
					fmt.Sprintf("Primer columns: %s", strings.Join(cols, " ")),
				)
				if len(history) == 0 {
					fmt.Fprintln(out, "No rotation records")
					return nil
				}
				rows := make([][]string, 0, len(history))
				for _, rec := range history {
					rows = append(rows, []string{formatTime(rec.Timestamp), strconv.Itoa(rec.Index)})
				}
				fmt.Fprintln(out, renderTable(out, []string{"Recorded", "Index"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of records to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRotationNextCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Print the rotation index the next run will use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			return ctx.withStore(func(store *runstore.Store) error {
				idx, cols, err := nextRotation(cmd, cfg, ctx.rotationStore(store))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d (first primer column %s)\n", idx, cols[0])
				return nil
			})
		},
	}
}

func newRotationRecordCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "record <index>",
		Short: "Append a manual rotation record",
		Long:  "Append a rotation record for a primer plate used outside pipettor, so the next run continues after it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			idx, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("%w: %q", rotation.ErrInvalidIndex, args[0])
			}
			if idx < 0 || idx >= cfg.Rotation.Positions {
				return fmt.Errorf("%w: %d not in 0-%d", rotation.ErrInvalidIndex, idx, cfg.Rotation.Positions-1)
			}
			return ctx.withStore(func(store *runstore.Store) error {
				rec := rotation.Record{Timestamp: time.Now(), Index: idx}
				if err := ctx.rotationStore(store).Append(cmd.Context(), rec); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded rotation index %d; next run uses %d\n", idx, rotation.Next(&rec, cfg.Rotation.Positions))
				return nil
			})
		},
	}
}

func nextRotation(cmd *cobra.Command, cfg *config.Config, rs rotation.Store) (int, []string, error) {
	idx, _, err := rotation.Peek(cmd.Context(), rs, cfg.Rotation.Positions)
	if err != nil {
		return 0, nil, err
	}
	cols, err := rotation.Apply(labware.ColumnHeads(cfg.Rotation.Positions), idx)
	if err != nil {
		return 0, nil, err
	}
	return idx, cols, nil
}

// rotationHistory returns records newest first from either backend.
func rotationHistory(cmd *cobra.Command, rs rotation.Store, limit int) ([]rotation.Record, error) {
	switch s := rs.(type) {
	case *runstore.Store:
		return s.Rotations(cmd.Context(), limit)
	case *rotation.FileStore:
		records, err := s.Records(cmd.Context())
		if err != nil {
			return nil, err
		}
		out := make([]rotation.Record, 0, len(records))
		for i := len(records) - 1; i >= 0; i-- {
			if limit > 0 && len(out) == limit {
				break
			}
			out = append(out, records[i])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported rotation store %T", rs)
	}
}

func rotationSource(cfg *config.Config) string {
	if cfg.Rotation.Backend == config.RotationBackendFile {
		return fmt.Sprintf("file (%s)", cfg.Rotation.RecordPath)
	}
	return fmt.Sprintf("sqlite (%s)", cfg.DatabasePath())
}
