package protocol

import (
	"sort"

	"pipettor/internal/allocator"
)

// Result summarizes a protocol run.
type Result struct {
	RunID        string         `json:"run_id"`
	Protocol     string         `json:"protocol"`
	DryRun       bool           `json:"dry_run"`
	StepsDone    int            `json:"steps_done"`
	Steps        []StepResult   `json:"steps"`
	Reagents     []ReagentState `json:"reagents,omitempty"`
	Rotation     *int           `json:"rotation_index,omitempty"`
	CommandCount int            `json:"command_count"`
}

// StepResult describes one completed step.
type StepResult struct {
	Index     int      `json:"index"`
	Kind      StepKind `json:"kind"`
	Title     string   `json:"title"`
	Reagent   string   `json:"reagent,omitempty"`
	Transfers int      `json:"transfers,omitempty"`
	Rotations int      `json:"rotations,omitempty"`
}

// ReagentState is where a reagent's source queue stands after the run.
type ReagentState struct {
	Name        string  `json:"name"`
	Vessel      string  `json:"vessel"`
	Remaining   float64 `json:"remaining"`
	VesselsLeft int     `json:"vessels_left"`
}

func reagentSummary(states reagentStates) []ReagentState {
	out := make([]ReagentState, 0, len(states))
	for name, st := range states {
		head, _ := st.Head()
		out = append(out, ReagentState{
			Name:        name,
			Vessel:      head.Key(),
			Remaining:   st.Remaining,
			VesselsLeft: len(st.Sources),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ledgerRow is one vessel's share of a reagent step.
type ledgerRow struct {
	Vessel    string
	Drawn     float64
	Remaining float64
	Depleted  bool
}

// vesselLedger attributes a plan's transfers to the vessels that supplied
// them. Vessels rotated out during the plan are marked depleted.
func vesselLedger(plan allocator.Plan) []ledgerRow {
	rotated := len(plan.Initial.Sources) - len(plan.Final.Sources)
	rows := make([]ledgerRow, 0, rotated+1)
	index := make(map[string]int, rotated+1)
	for i, v := range plan.Initial.Sources[:rotated+1] {
		index[v.Key()] = i
		rows = append(rows, ledgerRow{Vessel: v.Key(), Depleted: i < rotated})
	}
	rows[0].Remaining = plan.Initial.Remaining
	if rotated > 0 {
		rows[rotated].Remaining = plan.Final.Remaining
	}
	for _, tr := range plan.Transfers {
		row := &rows[index[tr.Source.Key()]]
		row.Drawn += tr.Volume
		row.Remaining = tr.Remaining
	}
	return rows
}

func (r StepResult) withPlan(plan allocator.Plan) StepResult {
	r.Transfers = len(plan.Transfers)
	r.Rotations = plan.Rotations
	return r
}
