package allocator

import (
	"fmt"
	"math"

	"pipettor/internal/labware"
)

// tolerance absorbs floating-point noise in volume comparisons.
const tolerance = 1e-9

// Margin is the dead volume below which a vessel counts as depleted. Volume
// is absolute; Fraction is relative to the nominal vessel volume. A positive
// Volume wins over Fraction.
type Margin struct {
	Volume   float64
	Fraction float64
}

// Resolve returns the margin in µL for a vessel of the given nominal volume.
func (m Margin) Resolve(nominal float64) float64 {
	if m.Volume > 0 {
		return m.Volume
	}
	return m.Fraction * nominal
}

// Request describes one distribution of a reagent.
type Request struct {
	Destinations []labware.Location
	// Volume is delivered to every destination.
	Volume  float64
	Sources []labware.Location
	// NominalVolume is assumed present in a freshly rotated-in vessel.
	NominalVolume float64
	// Remaining overrides the volume left in the head vessel, for chained calls.
	Remaining *float64
	// Tip is the slot to pick up from; nil takes the next tip in the rack.
	Tip *labware.Location
}

// State is the bookkeeping carried between chained calls.
type State struct {
	Remaining float64
	Sources   []labware.Location
}

// Head returns the vessel currently being drawn from.
func (s State) Head() (labware.Location, bool) {
	if len(s.Sources) == 0 {
		return labware.Location{}, false
	}
	return s.Sources[0], true
}

// Resume returns a pointer suitable for Request.Remaining.
func (s State) Resume() *float64 {
	v := s.Remaining
	return &v
}

// Transfer is one planned aspirate/dispense cycle.
type Transfer struct {
	Destination int
	SubTransfer int
	Source      labware.Location
	Target      labware.Location
	Volume      float64
	// Rotated is set when the source vessel was rotated in just before this transfer.
	Rotated bool
	// Remaining is the head-vessel volume after this transfer.
	Remaining float64
}

// Plan is the full sequence of transfers for a request.
type Plan struct {
	Transfers   []Transfer
	ChunkCount  int
	ChunkVolume float64
	Margin      float64
	Rotations   int
	Initial     State
	Final       State
}

// Drawn returns the total volume taken from each vessel, keyed by location.
func (p Plan) Drawn() map[string]float64 {
	out := make(map[string]float64)
	for _, tr := range p.Transfers {
		out[tr.Source.Key()] += tr.Volume
	}
	return out
}

// Through returns the prefix of p whose aspirations left the source queue
// in state, with Final set to state. Distribute hands back such a state
// when a device fault stops it part way.
func (p Plan) Through(state State) Plan {
	rotated := max(len(p.Initial.Sources)-len(state.Sources), 0)
	done, seen := 0, 0
	for _, tr := range p.Transfers {
		if tr.Rotated {
			seen++
		}
		if seen > rotated || (seen == rotated && tr.Remaining < state.Remaining-tolerance) {
			break
		}
		done++
	}
	out := p
	out.Transfers = p.Transfers[:done:done]
	out.Rotations = rotated
	out.Final = state
	return out
}

// Chunks splits volume into the fewest equal sub-transfers that each fit
// within capacity - headroom.
func Chunks(volume, capacity, headroom float64) (int, float64, error) {
	if volume <= 0 || math.IsNaN(volume) || math.IsInf(volume, 0) {
		return 0, 0, fmt.Errorf("%w: volume %v must be positive", ErrInvalidRequest, volume)
	}
	if !finite(capacity, headroom) {
		return 0, 0, fmt.Errorf("%w: capacity %v and headroom %v must be finite", ErrInvalidRequest, capacity, headroom)
	}
	limit := capacity - headroom
	if limit <= 0 {
		return 0, 0, fmt.Errorf("%w: capacity %v leaves no room after %v headroom", ErrVolumeUnderflow, capacity, headroom)
	}
	n := int(math.Ceil(volume/limit - tolerance))
	if n < 1 {
		n = 1
	}
	return n, volume / float64(n), nil
}

// NewPlan walks the request without touching hardware. It fails with a
// TransferError wrapping ErrVesselExhausted at the first sub-transfer that
// no vessel can supply.
func NewPlan(req Request, capacity float64, opts Options) (Plan, error) {
	if err := validate(req, opts); err != nil {
		return Plan{}, err
	}
	n, chunk, err := Chunks(req.Volume, capacity, opts.Headroom)
	if err != nil {
		return Plan{}, err
	}

	margin := opts.Margin.Resolve(req.NominalVolume)
	state := State{Remaining: req.NominalVolume, Sources: req.Sources[:len(req.Sources):len(req.Sources)]}
	if req.Remaining != nil {
		state.Remaining = *req.Remaining
	}

	plan := Plan{
		Transfers:   make([]Transfer, 0, n*len(req.Destinations)),
		ChunkCount:  n,
		ChunkVolume: chunk,
		Margin:      margin,
		Initial:     state,
	}

	for d, target := range req.Destinations {
		for s := 0; s < n; s++ {
			rotated := false
			if depleted(state.Remaining, chunk, margin) {
				if len(state.Sources) < 2 {
					return Plan{}, &TransferError{Destination: d, Target: target, SubTransfer: s, Vessel: state.Sources[0], Err: ErrVesselExhausted}
				}
				state.Sources = state.Sources[1:]
				state.Remaining = req.NominalVolume
				rotated = true
				plan.Rotations++
				if depleted(state.Remaining, chunk, margin) {
					return Plan{}, &TransferError{
						Destination: d, Target: target, SubTransfer: s, Vessel: state.Sources[0],
						Err: fmt.Errorf("%w: nominal %.2f µL cannot supply %.2f µL above %.2f µL dead volume", ErrVesselExhausted, req.NominalVolume, chunk, margin),
					}
				}
			}
			state.Remaining -= chunk
			plan.Transfers = append(plan.Transfers, Transfer{
				Destination: d,
				SubTransfer: s,
				Source:      state.Sources[0],
				Target:      target,
				Volume:      chunk,
				Rotated:     rotated,
				Remaining:   state.Remaining,
			})
		}
	}

	plan.Final = state
	return plan, nil
}

// depleted reports whether drawing chunk would leave the vessel at or below margin.
func depleted(remaining, chunk, margin float64) bool {
	return remaining-chunk-margin <= tolerance
}

func validate(req Request, opts Options) error {
	switch {
	case len(req.Destinations) == 0:
		return fmt.Errorf("%w: no destinations", ErrInvalidRequest)
	case len(req.Sources) == 0:
		return fmt.Errorf("%w: no source vessels", ErrInvalidRequest)
	case !finite(req.NominalVolume) || req.NominalVolume <= 0:
		return fmt.Errorf("%w: nominal vessel volume must be positive", ErrInvalidRequest)
	case req.Remaining != nil && (!finite(*req.Remaining) || *req.Remaining < 0):
		return fmt.Errorf("%w: remaining volume must not be negative", ErrInvalidRequest)
	case !finite(opts.Headroom, opts.AirGap, opts.Margin.Volume, opts.Margin.Fraction):
		return fmt.Errorf("%w: headroom, air gap and dead volume must be finite", ErrInvalidRequest)
	case opts.AirGap < 0 || opts.AirGap > opts.Headroom:
		return fmt.Errorf("%w: air gap %v must fit within %v headroom", ErrInvalidRequest, opts.AirGap, opts.Headroom)
	case opts.Margin.Volume < 0 || opts.Margin.Fraction < 0 || opts.Margin.Fraction >= 1:
		return fmt.Errorf("%w: dead volume margin out of range", ErrInvalidRequest)
	}
	return nil
}

// finite reports whether every value is a real number. NaN fails every
// ordered comparison, so it must be rejected before range checks.
func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
