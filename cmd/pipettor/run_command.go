package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"pipettor/internal/config"
	"pipettor/internal/preflight"
	"pipettor/internal/protocol"
	"pipettor/internal/runstore"
	"pipettor/internal/simulator"
)

const defaultRackColumns = 12

type runOutput struct {
	*protocol.Result
	Preflight []preflight.Result `json:"preflight"`
	Commands  map[string]int     `json:"commands"`
	Elapsed   string             `json:"simulated_elapsed"`
	Error     string             `json:"error,omitempty"`
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run <protocol-file>",
		Short: "Run a protocol on the simulated deck",
		Long: `Load a protocol file (TOML or YAML), check it, and execute every step
against the simulated deck. The run and its vessel usage are recorded in the
run history. --dry-run executes the protocol without advancing the primer
rotation record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			def, err := protocol.Load(args[0])
			if err != nil {
				return err
			}

			capacity := pipetteCapacity(cfg, def)
			checks := preflight.RunAll(cmd.Context(), cfg, def, capacity)
			if failed := preflight.Failed(checks); len(failed) > 0 {
				if jsonOutput {
					if err := writeJSON(cmd, runOutput{Preflight: checks, Error: "preflight failed"}); err != nil {
						return err
					}
				} else {
					printPreflight(cmd.OutOrStdout(), checks)
				}
				return fmt.Errorf("preflight failed: %d of %d checks", len(failed), len(checks))
			}

			deck := simulator.NewDeck(simulator.WithPauseHandler(pauseHandler(cmd, jsonOutput)))
			devices := deckDevices(deck, def, capacity)

			return ctx.withStore(func(store *runstore.Store) error {
				runner, err := protocol.NewRunner(cfg, devices,
					protocol.WithStore(store),
					protocol.WithRotationStore(ctx.rotationStore(store)),
					protocol.WithLogger(logger),
				)
				if err != nil {
					return err
				}
				res, runErr := runner.Run(cmd.Context(), def, protocol.RunOptions{DryRun: dryRun})
				if res == nil {
					return runErr
				}

				out := runOutput{
					Result:    res,
					Preflight: checks,
					Commands:  commandCounts(deck),
					Elapsed:   formatDuration(deck.Elapsed()),
				}
				if runErr != nil {
					out.Error = runErr.Error()
				}
				if jsonOutput {
					if err := writeJSON(cmd, out); err != nil {
						return err
					}
				} else {
					printRunSummary(cmd.OutOrStdout(), def, out)
				}
				return runErr
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Do not advance the primer rotation record")
	return cmd
}

func pipetteCapacity(cfg *config.Config, def *protocol.Definition) float64 {
	if def.Pipette.Capacity > 0 {
		return def.Pipette.Capacity
	}
	return cfg.Pipette.Capacity
}

func deckDevices(deck *simulator.Deck, def *protocol.Definition, capacity float64) protocol.Devices {
	racks := make([]simulator.TipRack, 0, len(def.Pipette.TipRacks))
	for _, name := range def.Pipette.TipRacks {
		racks = append(racks, simulator.Rack(name, defaultRackColumns))
	}
	name := def.Pipette.Name
	if name == "" {
		name = "pipette"
	}
	return protocol.Devices{
		Pipette:    deck.Pipette(name, capacity, racks...),
		Magnet:     deck.Magnet(),
		Controller: deck,
	}
}

// pauseHandler waits for Enter when stdin is a terminal. Non-interactive
// runs print the pause and carry on.
func pauseHandler(cmd *cobra.Command, quiet bool) func(string) error {
	in := cmd.InOrStdin()
	interactive := isTerminal(in)
	reader := bufio.NewReader(in)
	return func(message string) error {
		if quiet && !interactive {
			return nil
		}
		out := cmd.ErrOrStderr()
		if !interactive {
			fmt.Fprintf(out, "PAUSE: %s\n", message)
			return nil
		}
		fmt.Fprintf(out, "PAUSE: %s\nPress Enter to resume... ", message)
		if _, err := reader.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read operator input: %w", err)
		}
		return cmd.Context().Err()
	}
}

func commandCounts(deck *simulator.Deck) map[string]int {
	counts := simulator.Counts(deck.Commands())
	out := make(map[string]int, len(counts))
	for op, n := range counts {
		out[string(op)] = n
	}
	return out
}

func printPreflight(w io.Writer, checks []preflight.Result) {
	rows := make([][]string, 0, len(checks))
	for _, c := range checks {
		status := "ok"
		if !c.Passed {
			status = "FAIL"
		}
		rows = append(rows, []string{c.Name, status, c.Detail})
	}
	fmt.Fprintln(w, renderTable(w, []string{"Check", "Status", "Detail"}, rows, nil))
}

func printRunSummary(w io.Writer, def *protocol.Definition, out runOutput) {
	res := out.Result
	mode := ""
	if res.DryRun {
		mode = " (dry run)"
	}
	writeLines(w,
		fmt.Sprintf("Run %s%s", res.RunID, mode),
		fmt.Sprintf("Protocol: %s", displayName(res.Protocol)),
		fmt.Sprintf("Steps: %d/%d", res.StepsDone, len(def.Steps)),
		fmt.Sprintf("Commands: %d (simulated time %s)", res.CommandCount, out.Elapsed),
	)
	if res.Rotation != nil {
		fmt.Fprintf(w, "Primer rotation: %d\n", *res.Rotation)
	}

	if len(res.Steps) > 0 {
		rows := make([][]string, 0, len(res.Steps))
		for _, s := range res.Steps {
			rows = append(rows, []string{
				fmt.Sprintf("%d", s.Index),
				string(s.Kind),
				s.Title,
				s.Reagent,
				fmt.Sprintf("%d", s.Transfers),
				fmt.Sprintf("%d", s.Rotations),
			})
		}
		fmt.Fprintln(w, renderTable(w,
			[]string{"#", "Kind", "Step", "Reagent", "Transfers", "Rotations"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
		))
	}

	if len(res.Reagents) > 0 {
		rows := make([][]string, 0, len(res.Reagents))
		for _, r := range res.Reagents {
			rows = append(rows, []string{
				displayName(r.Name),
				r.Vessel,
				formatVolume(r.Remaining),
				fmt.Sprintf("%d", r.VesselsLeft),
			})
		}
		fmt.Fprintln(w, renderTable(w,
			[]string{"Reagent", "Vessel", "Remaining (µL)", "Vessels Left"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
		))
	}

	ops := make([]string, 0, len(out.Commands))
	for op := range out.Commands {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		parts = append(parts, fmt.Sprintf("%s=%d", op, out.Commands[op]))
	}
	if len(parts) > 0 {
		fmt.Fprintf(w, "Command mix: %s\n", strings.Join(parts, " "))
	}
	if out.Error != "" {
		fmt.Fprintf(w, "Run failed: %s\n", out.Error)
	}
}

