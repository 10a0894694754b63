package protocol

import (
	"fmt"

	"pipettor/internal/allocator"
	"pipettor/internal/labware"
)

// ReagentUsage is the allocation plan of one reagent step.
type ReagentUsage struct {
	Step    int
	Kind    StepKind
	Reagent string
	Plan    allocator.Plan
}

// reagentStates carries each reagent's allocator state between steps.
type reagentStates map[string]allocator.State

// bufferRequest builds the allocator request for a reagent step, resuming
// from the reagent's previous state when there is one.
func (d *Definition) bufferRequest(s Step, states reagentStates) (allocator.Request, error) {
	reagent, ok := d.Reagent(s.Reagent)
	if !ok {
		return allocator.Request{}, fmt.Errorf("unknown reagent %q", s.Reagent)
	}
	req := allocator.Request{
		Destinations:  labware.Wells(d.plateFor(s), d.columnsFor(s)),
		Volume:        s.Volume,
		Sources:       reagent.Vessels(),
		NominalVolume: reagent.NominalVolume,
	}
	if st, ok := states[reagent.Name]; ok {
		req.Sources = st.Sources
		req.Remaining = st.Resume()
	}
	return req, nil
}

// PlanReagents walks every reagent step in order without touching hardware
// and returns the allocation plans. It fails at the first step whose reagent
// would run out of vessels.
func PlanReagents(def *Definition, alloc *allocator.Allocator, capacity float64) ([]ReagentUsage, error) {
	states := make(reagentStates)
	var usage []ReagentUsage
	for i, s := range def.Steps {
		if !s.Kind.UsesReagent() {
			continue
		}
		req, err := def.bufferRequest(s, states)
		if err != nil {
			return usage, fmt.Errorf("step %d (%s): %w", i+1, s.Kind, err)
		}
		plan, err := alloc.Plan(req, capacity)
		if err != nil {
			return usage, fmt.Errorf("step %d (%s): reagent %s: %w", i+1, s.Kind, s.Reagent, err)
		}
		states[s.Reagent] = plan.Final
		usage = append(usage, ReagentUsage{Step: i + 1, Kind: s.Kind, Reagent: s.Reagent, Plan: plan})
	}
	return usage, nil
}
