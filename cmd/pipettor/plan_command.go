package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pipettor/internal/allocator"
	"pipettor/internal/labware"
	"pipettor/internal/logging"
	"pipettor/internal/protocol"
)

type planFlags struct {
	destinations  int
	volume        float64
	vessels       int
	nominal       float64
	remaining     float64
	capacity      float64
	headroom      float64
	deadVolume    float64
	deadFraction  float64
	plate         string
	sourceLabware string
	jsonOutput    bool
}

type planTransfer struct {
	Destination int     `json:"destination"`
	SubTransfer int     `json:"sub_transfer"`
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Volume      float64 `json:"volume"`
	Rotated     bool    `json:"rotated,omitempty"`
	Remaining   float64 `json:"remaining"`
}

type planSummary struct {
	Step        int            `json:"step,omitempty"`
	Reagent     string         `json:"reagent,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	ChunkVolume float64        `json:"chunk_volume"`
	Margin      float64        `json:"margin"`
	Rotations   int            `json:"rotations"`
	Vessel      string         `json:"final_vessel"`
	Remaining   float64        `json:"final_remaining"`
	VesselsLeft int            `json:"vessels_left"`
	Transfers   []planTransfer `json:"transfers"`
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var flags planFlags

	cmd := &cobra.Command{
		Use:   "plan [protocol-file]",
		Short: "Show how buffer volumes are split across tips and source vessels",
		Long: `Without arguments, plan a single buffer distribution described by flags.
With a protocol file, plan every add_buffer and bead_wash step in order,
carrying each reagent's vessel state from one step to the next. Nothing is
executed; a plan that would exhaust its source vessels fails.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := protocol.AllocatorOptions(cfg, logging.NewNop())
			capacity := cfg.Pipette.Capacity

			var summaries []planSummary
			if len(args) == 1 {
				def, err := protocol.Load(args[0])
				if err != nil {
					return err
				}
				capacity = pipetteCapacity(cfg, def)
				usage, err := protocol.PlanReagents(def, allocator.New(opts), capacity)
				for _, u := range usage {
					summaries = append(summaries, summarizePlan(u.Step, u.Reagent, u.Plan))
				}
				if err != nil {
					if len(summaries) > 0 {
						_ = emitPlans(cmd, summaries, flags.jsonOutput)
					}
					return err
				}
			} else {
				if cmd.Flags().Changed("capacity") {
					capacity = flags.capacity
				}
				if cmd.Flags().Changed("headroom") {
					opts.Headroom = flags.headroom
				}
				if cmd.Flags().Changed("dead-volume") {
					opts.Margin.Volume = flags.deadVolume
				}
				if cmd.Flags().Changed("dead-fraction") {
					opts.Margin.Fraction = flags.deadFraction
				}
				req, err := flags.request(cmd)
				if err != nil {
					return err
				}
				plan, err := allocator.New(opts).Plan(req, capacity)
				if err != nil {
					return err
				}
				summaries = append(summaries, summarizePlan(0, "", plan))
			}
			return emitPlans(cmd, summaries, flags.jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&flags.destinations, "destinations", "n", 12, "Number of destination columns")
	cmd.Flags().Float64VarP(&flags.volume, "volume", "v", 0, "Volume per destination in µL")
	cmd.Flags().IntVar(&flags.vessels, "vessels", 1, "Number of source vessels")
	cmd.Flags().Float64Var(&flags.nominal, "nominal", 0, "Nominal volume of each source vessel in µL")
	cmd.Flags().Float64Var(&flags.remaining, "remaining", 0, "Volume left in the first vessel (defaults to nominal)")
	cmd.Flags().Float64Var(&flags.capacity, "capacity", 0, "Tip capacity in µL (defaults to config)")
	cmd.Flags().Float64Var(&flags.headroom, "headroom", 0, "Tip headroom in µL (defaults to config)")
	cmd.Flags().Float64Var(&flags.deadVolume, "dead-volume", 0, "Absolute dead volume per vessel in µL")
	cmd.Flags().Float64Var(&flags.deadFraction, "dead-fraction", 0, "Dead volume as a fraction of nominal")
	cmd.Flags().StringVar(&flags.plate, "plate", "plate", "Destination labware name")
	cmd.Flags().StringVar(&flags.sourceLabware, "source", "reservoir", "Source labware name")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (f planFlags) request(cmd *cobra.Command) (allocator.Request, error) {
	if f.volume <= 0 {
		return allocator.Request{}, errors.New("--volume is required and must be positive")
	}
	if f.nominal <= 0 {
		return allocator.Request{}, errors.New("--nominal is required and must be positive")
	}
	if f.destinations < 1 || f.destinations > 12 {
		return allocator.Request{}, fmt.Errorf("--destinations must be between 1 and 12, got %d", f.destinations)
	}
	if f.vessels < 1 || f.vessels > 12 {
		return allocator.Request{}, fmt.Errorf("--vessels must be between 1 and 12, got %d", f.vessels)
	}
	req := allocator.Request{
		Destinations:  labware.Wells(f.plate, labware.ColumnHeads(f.destinations)),
		Volume:        f.volume,
		Sources:       labware.Wells(f.sourceLabware, labware.ColumnHeads(f.vessels)),
		NominalVolume: f.nominal,
	}
	if cmd.Flags().Changed("remaining") {
		remaining := f.remaining
		req.Remaining = &remaining
	}
	return req, nil
}

func summarizePlan(step int, reagent string, plan allocator.Plan) planSummary {
	head, _ := plan.Final.Head()
	out := planSummary{
		Step:        step,
		Reagent:     reagent,
		ChunkCount:  plan.ChunkCount,
		ChunkVolume: plan.ChunkVolume,
		Margin:      plan.Margin,
		Rotations:   plan.Rotations,
		Vessel:      head.Key(),
		Remaining:   plan.Final.Remaining,
		VesselsLeft: len(plan.Final.Sources),
		Transfers:   make([]planTransfer, 0, len(plan.Transfers)),
	}
	for _, tr := range plan.Transfers {
		out.Transfers = append(out.Transfers, planTransfer{
			Destination: tr.Destination + 1,
			SubTransfer: tr.SubTransfer + 1,
			Source:      tr.Source.Key(),
			Target:      tr.Target.Key(),
			Volume:      tr.Volume,
			Rotated:     tr.Rotated,
			Remaining:   tr.Remaining,
		})
	}
	return out
}

func emitPlans(cmd *cobra.Command, plans []planSummary, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(cmd, plans)
	}
	w := cmd.OutOrStdout()
	for i, p := range plans {
		if i > 0 {
			fmt.Fprintln(w)
		}
		printPlan(w, p)
	}
	return nil
}

func printPlan(w io.Writer, p planSummary) {
	if p.Reagent != "" {
		fmt.Fprintf(w, "Step %d: %s\n", p.Step, displayName(p.Reagent))
	}
	fmt.Fprintf(w, "Chunks: %d x %s µL, dead volume %s µL, rotations %d\n",
		p.ChunkCount, formatVolume(p.ChunkVolume), formatVolume(p.Margin), p.Rotations)

	rows := make([][]string, 0, len(p.Transfers))
	for _, tr := range p.Transfers {
		rows = append(rows, []string{
			fmt.Sprintf("%d.%d", tr.Destination, tr.SubTransfer),
			tr.Target,
			tr.Source,
			formatVolume(tr.Volume),
			formatVolume(tr.Remaining),
			yesNo(tr.Rotated),
		})
	}
	fmt.Fprintln(w, renderTable(w,
		[]string{"Transfer", "Target", "Source", "Volume (µL)", "Left (µL)", "Rotated"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
	fmt.Fprintf(w, "Ends at %s with %s µL (%d vessels left)\n", p.Vessel, formatVolume(p.Remaining), p.VesselsLeft)
}
