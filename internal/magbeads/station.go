package magbeads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"pipettor/internal/allocator"
	"pipettor/internal/device"
	"pipettor/internal/labware"
	"pipettor/internal/logging"
)

const tolerance = 1e-9

// ErrInvalidStep reports bead-step parameters that cannot be executed.
var ErrInvalidStep = errors.New("invalid bead step")

// Station bundles the instruments a bead cleanup runs on.
type Station struct {
	Pipette    device.Pipette
	Magnet     device.Magnet
	Controller device.Controller
	Allocator  *allocator.Allocator
	Logger     *slog.Logger
}

func (s *Station) logger(ctx context.Context) *slog.Logger {
	return logging.WithContext(ctx, logging.NewComponentLogger(s.Logger, "magbeads"))
}

// Columns names a set of columns on one plate plus the tip rack whose
// matching columns serve them.
type Columns struct {
	Plate   string
	Columns []string
	Tips    string
}

func (c Columns) well(col string) labware.Location {
	return labware.At(c.Plate, col)
}

func (c Columns) tip(col string) *labware.Location {
	slot := labware.At(c.Tips, col)
	return &slot
}

func (c Columns) validate() error {
	switch {
	case c.Plate == "":
		return fmt.Errorf("%w: plate is required", ErrInvalidStep)
	case len(c.Columns) == 0:
		return fmt.Errorf("%w: no columns on %s", ErrInvalidStep, c.Plate)
	case c.Tips == "":
		return fmt.Errorf("%w: tip rack is required", ErrInvalidStep)
	}
	return nil
}

func (s *Station) releaseTip(ctx context.Context, drop bool) error {
	if drop {
		return s.Pipette.DropTip(ctx)
	}
	return s.Pipette.ReturnTip(ctx)
}

// RemoveSupernatant draws opts.Volume from every column into waste in
// chunks of at most opts.Chunk. The tip follows the falling meniscus one
// opts.Step per chunk and reaches opts.BottomOffset on the last one.
func (s *Station) RemoveSupernatant(ctx context.Context, cols Columns, waste labware.Location, opts SupernatantOptions) error {
	if err := cols.validate(); err != nil {
		return err
	}
	if opts.Volume <= 0 || opts.Chunk <= 0 {
		return fmt.Errorf("%w: supernatant volume and chunk must be positive", ErrInvalidStep)
	}
	if opts.Step < 0 {
		return fmt.Errorf("%w: supernatant step must not be negative", ErrInvalidStep)
	}
	if opts.Chunk+opts.AirGap > s.Pipette.Capacity()+tolerance {
		return fmt.Errorf("%w: chunk %.2f plus air gap %.2f exceeds tip capacity", ErrInvalidStep, opts.Chunk, opts.AirGap)
	}
	logger := s.logger(ctx)
	dump := waste.Top(0)

	for _, col := range cols.Columns {
		well := cols.well(col)
		if err := s.Pipette.PickUpTip(ctx, cols.tip(col)); err != nil {
			return fmt.Errorf("remove supernatant %s: %w", well.Key(), err)
		}
		remaining := opts.Volume
		chunks := int(math.Ceil(opts.Volume/opts.Chunk - tolerance))
		for i := 0; remaining > tolerance; i++ {
			vol := min(remaining, opts.Chunk)
			z := opts.BottomOffset + opts.Step*float64(max(chunks-1-i, 0))
			if err := s.Pipette.Aspirate(ctx, vol, well.Bottom(z), opts.Rate); err != nil {
				return fmt.Errorf("remove supernatant %s: %w", well.Key(), err)
			}
			if opts.AirGap > 0 {
				if err := s.Pipette.AirGap(ctx, opts.AirGap); err != nil {
					return fmt.Errorf("remove supernatant %s: %w", well.Key(), err)
				}
			}
			if err := s.Pipette.Dispense(ctx, vol+opts.AirGap, dump); err != nil {
				return fmt.Errorf("remove supernatant %s: %w", well.Key(), err)
			}
			if err := s.Pipette.BlowOut(ctx, &dump); err != nil {
				return fmt.Errorf("remove supernatant %s: %w", well.Key(), err)
			}
			remaining -= vol
		}
		if err := s.releaseTip(ctx, opts.DropTip); err != nil {
			return fmt.Errorf("remove supernatant %s: %w", well.Key(), err)
		}
		logger.Debug("supernatant removed", logging.String("well", well.Key()), logging.Float64("volume", opts.Volume))
	}
	return nil
}

// BeadMix resuspends the beads in every column.
func (s *Station) BeadMix(ctx context.Context, cols Columns, opts MixOptions) error {
	if err := cols.validate(); err != nil {
		return err
	}
	if opts.Repetitions <= 0 || opts.Volume <= 0 {
		return fmt.Errorf("%w: mix needs positive repetitions and volume", ErrInvalidStep)
	}
	logger := s.logger(ctx)

	for _, col := range cols.Columns {
		well := cols.well(col)
		if err := s.Pipette.PickUpTip(ctx, cols.tip(col)); err != nil {
			return fmt.Errorf("bead mix %s: %w", well.Key(), err)
		}
		if err := s.Pipette.Mix(ctx, opts.Repetitions, opts.Volume, well.Bottom(opts.BottomOffset)); err != nil {
			return fmt.Errorf("bead mix %s: %w", well.Key(), err)
		}
		top := well.Top(0)
		if err := s.Pipette.BlowOut(ctx, &top); err != nil {
			return fmt.Errorf("bead mix %s: %w", well.Key(), err)
		}
		if err := s.releaseTip(ctx, opts.DropTip); err != nil {
			return fmt.Errorf("bead mix %s: %w", well.Key(), err)
		}
	}
	logger.Debug("beads mixed", logging.Int("columns", len(cols.Columns)), logging.Int("repetitions", opts.Repetitions))
	return nil
}

// Wash describes one bead wash cycle.
type Wash struct {
	Plate   string
	Columns []string
	Waste   labware.Location
	// SupernatantTips and MixTips are the racks serving each column.
	SupernatantTips string
	MixTips         string
	// Buffer supplies the wash buffer; Destinations default to the plate columns.
	Buffer       allocator.Request
	Supernatant  SupernatantOptions
	Mix          MixOptions
	EngageHeight float64
	Settle       time.Duration
}

// BeadWash removes the supernatant, releases the beads, adds wash buffer,
// resuspends, and pulls the beads back down. It returns the wash buffer
// state so the next wash can continue from the same vessels. When the
// buffer addition fails, the returned state reflects what was consumed.
func (s *Station) BeadWash(ctx context.Context, w Wash) (allocator.State, error) {
	state := allocator.State{Remaining: w.Buffer.NominalVolume, Sources: w.Buffer.Sources}
	if w.Buffer.Remaining != nil {
		state.Remaining = *w.Buffer.Remaining
	}
	if s.Allocator == nil || s.Magnet == nil || s.Controller == nil {
		return state, fmt.Errorf("%w: bead wash needs a magnet, controller and allocator", ErrInvalidStep)
	}
	logger := s.logger(ctx)

	if err := s.RemoveSupernatant(ctx, Columns{Plate: w.Plate, Columns: w.Columns, Tips: w.SupernatantTips}, w.Waste, w.Supernatant); err != nil {
		return state, err
	}
	if err := s.Magnet.Disengage(ctx); err != nil {
		return state, fmt.Errorf("disengage magnet: %w", err)
	}

	req := w.Buffer
	if len(req.Destinations) == 0 {
		req.Destinations = labware.Wells(w.Plate, w.Columns)
	}
	state, err := s.Allocator.Distribute(ctx, s.Pipette, req)
	if err != nil {
		return state, fmt.Errorf("add wash buffer: %w", err)
	}

	if err := s.BeadMix(ctx, Columns{Plate: w.Plate, Columns: w.Columns, Tips: w.MixTips}, w.Mix); err != nil {
		return state, err
	}
	if err := s.Magnet.Engage(ctx, w.EngageHeight); err != nil {
		return state, fmt.Errorf("engage magnet: %w", err)
	}
	if err := s.Controller.Delay(ctx, w.Settle); err != nil {
		return state, fmt.Errorf("settle beads: %w", err)
	}

	head, _ := state.Head()
	logger.Info("bead wash complete",
		logging.Int("columns", len(w.Columns)),
		logging.String("vessel", head.Key()),
		logging.Float64("remaining", state.Remaining),
	)
	return state, nil
}

// TransferElute moves the eluate of every column to the same column on dest.
func (s *Station) TransferElute(ctx context.Context, cols Columns, dest string, opts ElutionOptions) error {
	if err := cols.validate(); err != nil {
		return err
	}
	if dest == "" {
		return fmt.Errorf("%w: destination plate is required", ErrInvalidStep)
	}
	if opts.Volume <= 0 || opts.Volume > s.Pipette.Capacity()+tolerance {
		return fmt.Errorf("%w: elution volume %.2f out of range", ErrInvalidStep, opts.Volume)
	}
	logger := s.logger(ctx)

	for _, col := range cols.Columns {
		src := cols.well(col)
		dst := labware.At(dest, col)
		if err := s.Pipette.PickUpTip(ctx, cols.tip(col)); err != nil {
			return fmt.Errorf("transfer eluate %s: %w", src.Key(), err)
		}
		if err := s.Pipette.Aspirate(ctx, opts.Volume, src.Bottom(opts.BottomOffset), opts.Rate); err != nil {
			return fmt.Errorf("transfer eluate %s: %w", src.Key(), err)
		}
		if err := s.Pipette.Dispense(ctx, opts.Volume, dst); err != nil {
			return fmt.Errorf("transfer eluate %s: %w", src.Key(), err)
		}
		top := dst.Top(0)
		if err := s.Pipette.BlowOut(ctx, &top); err != nil {
			return fmt.Errorf("transfer eluate %s: %w", src.Key(), err)
		}
		if err := s.releaseTip(ctx, opts.DropTip); err != nil {
			return fmt.Errorf("transfer eluate %s: %w", src.Key(), err)
		}
	}
	logger.Info("eluate transferred", logging.String("destination", dest), logging.Int("columns", len(cols.Columns)))
	return nil
}
