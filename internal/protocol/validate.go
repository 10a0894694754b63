package protocol

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"pipettor/internal/labware"
)

// ErrInvalidProtocol wraps every structural problem found in a definition.
var ErrInvalidProtocol = errors.New("invalid protocol")

// Validate checks the definition's structure. Volume feasibility is checked
// separately by PlanReagents.
func (d *Definition) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidProtocol}, args...)...))
	}

	if d.Name == "" {
		add("name is required")
	}
	if d.Plate == "" {
		add("plate is required")
	}
	if len(d.Columns) == 0 {
		add("columns must list at least one column")
	}
	checkWells := func(where string, wells []string) {
		for _, w := range wells {
			if _, err := labware.ParseWell(w); err != nil {
				add("%s: %v", where, err)
			}
		}
	}
	checkWells("columns", d.Columns)
	if !finite(d.Pipette.Capacity) || d.Pipette.Capacity < 0 {
		add("pipette.capacity must be a non-negative number")
	}

	seen := make(map[string]bool, len(d.Reagents))
	for i, r := range d.Reagents {
		where := fmt.Sprintf("reagents[%d]", i)
		switch {
		case r.Name == "":
			add("%s: name is required", where)
		case seen[r.Name]:
			add("%s: duplicate reagent %q", where, r.Name)
		}
		seen[r.Name] = true
		if r.Labware == "" {
			add("%s: labware is required", where)
		}
		if len(r.Wells) == 0 {
			add("%s: wells must list at least one vessel", where)
		}
		checkWells(where, r.Wells)
		vessels := make(map[string]bool, len(r.Wells))
		for _, w := range r.Wells {
			if vessels[w] {
				add("%s: vessel %s listed twice", where, w)
			}
			vessels[w] = true
		}
		if !finite(r.NominalVolume) || r.NominalVolume <= 0 {
			add("%s: nominal_volume must be positive", where)
		}
	}

	if len(d.Steps) == 0 {
		add("steps must list at least one step")
	}
	for i, s := range d.Steps {
		for _, err := range d.validateStep(s) {
			errs = append(errs, fmt.Errorf("%w: step %d (%s): %v", ErrInvalidProtocol, i+1, s.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Definition) validateStep(s Step) []error {
	var errs []error
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	if !slices.Contains(Kinds(), s.Kind) {
		return []error{fmt.Errorf("unknown step kind %q", s.Kind)}
	}
	if !finite(s.Volume, s.SupernatantVolume, s.MixVolume, s.Height, s.Seconds) {
		return []error{errors.New("numeric settings must be finite")}
	}
	for _, w := range s.Columns {
		if _, err := labware.ParseWell(w); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Kind.UsesReagent() {
		_, ok := d.Reagent(s.Reagent)
		require(ok, fmt.Sprintf("unknown reagent %q", s.Reagent))
		require(s.Volume > 0, "volume must be positive")
	}

	switch s.Kind {
	case KindRemoveSupernatant:
		require(s.Tips != "", "tips is required")
		require(d.Waste != "", "protocol waste labware is required")
		require(s.Volume >= 0, "volume must not be negative")
	case KindBeadMix:
		require(s.Tips != "", "tips is required")
		require(s.Repetitions >= 0 && s.MixVolume >= 0, "mix settings must not be negative")
	case KindBeadWash:
		require(s.Tips != "", "tips is required")
		require(s.MixTips != "", "mix_tips is required")
		require(d.Waste != "", "protocol waste labware is required")
		require(s.SupernatantVolume >= 0, "supernatant_volume must not be negative")
		require(s.Seconds >= 0, "seconds must not be negative")
	case KindTransferElute:
		require(s.Tips != "", "tips is required")
		require(s.Destination != "", "destination is required")
		require(s.Volume >= 0, "volume must not be negative")
	case KindRotatedTransfer:
		require(s.Source != "", "source primer plate is required")
		require(s.Tips != "", "tips is required")
		require(s.Volume > 0, "volume must be positive")
		require(len(d.columnsFor(s)) <= 12, "rotated_transfer supports at most 12 columns")
	case KindEngage:
		require(s.Height >= 0, "height must not be negative")
	case KindDelay:
		require(s.Seconds > 0, "seconds must be positive")
	case KindPause, KindComment:
		require(s.Message != "", "message is required")
	}
	return errs
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
