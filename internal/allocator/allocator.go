package allocator

import (
	"context"
	"errors"
	"log/slog"

	"pipettor/internal/device"
	"pipettor/internal/labware"
	"pipettor/internal/logging"
)

// Options tune how sub-transfers are sized and executed.
type Options struct {
	// Headroom is tip volume reserved above each sub-transfer.
	Headroom float64
	// AirGap is drawn after every aspirate and dispensed with the liquid.
	AirGap float64
	Margin Margin
	// BlowOut expels residue into each destination after its last sub-transfer.
	BlowOut bool
	// ReturnTip puts the tip back in the rack instead of dropping it.
	ReturnTip bool
	// Rate is the aspirate flow-rate multiplier; zero means instrument default.
	Rate   float64
	Logger *slog.Logger
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Headroom: 10,
		AirGap:   10,
		Margin:   Margin{Fraction: 0.1},
		BlowOut:  true,
	}
}

// Allocator executes distribution requests against a pipette.
type Allocator struct {
	opts   Options
	logger *slog.Logger
}

// New returns an Allocator with the given options.
func New(opts Options) *Allocator {
	return &Allocator{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "allocator"),
	}
}

// Options returns the allocator's configuration.
func (a *Allocator) Options() Options {
	return a.opts
}

// Plan computes the transfers for req on an instrument of the given capacity.
func (a *Allocator) Plan(req Request, capacity float64) (Plan, error) {
	return NewPlan(req, capacity, a.opts)
}

// Distribute delivers req.Volume to every destination and returns the state
// of the source queue afterwards. Planning happens first, so vessel
// exhaustion is reported before the tip is picked up. A device error aborts
// the run without retry; the returned State then reflects the sub-transfers
// that completed.
func (a *Allocator) Distribute(ctx context.Context, pip device.Pipette, req Request) (State, error) {
	logger := logging.WithContext(ctx, a.logger)

	plan, err := a.Plan(req, pip.Capacity())
	if err != nil {
		initial := State{Remaining: req.NominalVolume, Sources: req.Sources[:len(req.Sources):len(req.Sources)]}
		if req.Remaining != nil {
			initial.Remaining = *req.Remaining
		}
		if errors.Is(err, ErrVesselExhausted) {
			logging.ErrorWithContext(logger, "source vessels exhausted", "vessel_exhausted",
				logging.Int("vessels", len(req.Sources)),
				logging.Int("destinations", len(req.Destinations)),
				logging.Float64("volume", req.Volume),
				logging.String(logging.FieldErrorHint, "load more source vessels or lower the dead volume margin"),
				logging.Error(err),
			)
		}
		return initial, err
	}

	logger.Debug("allocation planned",
		logging.Int("destinations", len(req.Destinations)),
		logging.Int("sub_transfers", plan.ChunkCount),
		logging.Float64("chunk_volume", plan.ChunkVolume),
		logging.Int("rotations", plan.Rotations),
	)

	state := plan.Initial
	if err := pip.PickUpTip(ctx, req.Tip); err != nil {
		return state, err
	}

	for i, tr := range plan.Transfers {
		if tr.Rotated {
			logger.Info("rotating source vessel",
				logging.String("vessel", state.Sources[0].Key()),
				logging.String("next_vessel", tr.Source.Key()),
				logging.Float64("remaining", state.Remaining),
			)
			state.Sources = state.Sources[1:]
			state.Remaining = req.NominalVolume
		}
		if err := a.execute(ctx, pip, tr, &state); err != nil {
			return state, &TransferError{
				Destination: tr.Destination,
				Target:      tr.Target,
				SubTransfer: tr.SubTransfer,
				Vessel:      tr.Source,
				Err:         err,
			}
		}
		last := i == len(plan.Transfers)-1 || plan.Transfers[i+1].Destination != tr.Destination
		if last && a.opts.BlowOut {
			target := dispenseTarget(tr.Target)
			if err := pip.BlowOut(ctx, &target); err != nil {
				return state, &TransferError{Destination: tr.Destination, Target: tr.Target, SubTransfer: tr.SubTransfer, Vessel: tr.Source, Err: err}
			}
		}
	}

	if a.opts.ReturnTip {
		err = pip.ReturnTip(ctx)
	} else {
		err = pip.DropTip(ctx)
	}
	if err != nil {
		return state, err
	}
	return state, nil
}

func (a *Allocator) execute(ctx context.Context, pip device.Pipette, tr Transfer, state *State) error {
	if err := pip.Aspirate(ctx, tr.Volume, tr.Source, a.opts.Rate); err != nil {
		return err
	}
	state.Remaining = tr.Remaining
	if a.opts.AirGap > 0 {
		if err := pip.AirGap(ctx, a.opts.AirGap); err != nil {
			return err
		}
	}
	return pip.Dispense(ctx, tr.Volume+a.opts.AirGap, dispenseTarget(tr.Target))
}

// dispenseTarget dispenses at the well top unless the caller chose an anchor.
func dispenseTarget(loc labware.Location) labware.Location {
	if loc.Anchor != labware.AnchorCenter {
		return loc
	}
	return loc.Top(0)
}
