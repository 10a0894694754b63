package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pipettor/internal/labware"
	"pipettor/internal/logging"
	"pipettor/internal/magbeads"
)

func (r *Runner) runStep(ctx context.Context, st *run, index int, s Step) (StepResult, error) {
	res := StepResult{Index: index, Kind: s.Kind, Title: s.Title(), Reagent: s.Reagent}
	def := st.def
	cols := magbeads.Columns{Plate: def.plateFor(s), Columns: def.columnsFor(s), Tips: s.Tips}
	ctrl := r.devices.Controller

	var err error
	switch s.Kind {
	case KindAddBuffer:
		res, err = r.addBuffer(ctx, st, index, s, res)
	case KindBeadWash:
		res, err = r.beadWash(ctx, st, index, s, res)
	case KindRemoveSupernatant:
		err = r.station.RemoveSupernatant(ctx, cols, labware.At(def.Waste, "A1"), r.supernatantOptions(s, s.Volume))
	case KindBeadMix:
		err = r.station.BeadMix(ctx, cols, r.mixOptions(s))
	case KindTransferElute:
		opts := r.defaults.Elution
		if s.Volume > 0 {
			opts.Volume = s.Volume
		}
		opts.DropTip = s.dropTip(opts.DropTip)
		err = r.station.TransferElute(ctx, cols, s.Destination, opts)
	case KindRotatedTransfer:
		err = r.rotatedTransfer(ctx, st, s, cols)
	case KindEngage:
		err = r.devices.Magnet.Engage(ctx, r.engageHeight(s))
	case KindDisengage:
		err = r.devices.Magnet.Disengage(ctx)
	case KindDelay:
		err = ctrl.Delay(ctx, seconds(s.Seconds))
	case KindPause:
		err = ctrl.Pause(ctx, s.Message)
	case KindComment:
		err = ctrl.Comment(ctx, s.Message)
	default:
		err = fmt.Errorf("unknown step kind %q", s.Kind)
	}
	if err != nil {
		return res, err
	}
	logging.WithContext(ctx, r.logger).Debug("step complete", logging.String("kind", string(s.Kind)))
	return res, nil
}

func (r *Runner) addBuffer(ctx context.Context, st *run, index int, s Step, res StepResult) (StepResult, error) {
	req, err := st.def.bufferRequest(s, st.states)
	if err != nil {
		return res, err
	}
	plan, err := r.alloc.Plan(req, r.devices.Pipette.Capacity())
	if err != nil {
		return res, fmt.Errorf("reagent %s: %w", s.Reagent, err)
	}
	ctx = logging.WithReagent(ctx, s.Reagent)
	state, err := r.alloc.Distribute(ctx, r.devices.Pipette, req)
	st.states[s.Reagent] = state
	if err != nil {
		return res, errors.Join(fmt.Errorf("reagent %s: %w", s.Reagent, err), r.recordPartialLedger(ctx, st, index, s.Reagent, plan, state))
	}
	if err := r.recordLedger(ctx, st, index, s.Reagent, plan); err != nil {
		return res, err
	}
	return res.withPlan(plan), nil
}

func (r *Runner) beadWash(ctx context.Context, st *run, index int, s Step, res StepResult) (StepResult, error) {
	def := st.def
	req, err := def.bufferRequest(s, st.states)
	if err != nil {
		return res, err
	}
	plan, err := r.alloc.Plan(req, r.devices.Pipette.Capacity())
	if err != nil {
		return res, fmt.Errorf("reagent %s: %w", s.Reagent, err)
	}
	settle := r.defaults.Settle
	if s.Seconds > 0 {
		settle = seconds(s.Seconds)
	}
	ctx = logging.WithReagent(ctx, s.Reagent)
	state, err := r.station.BeadWash(ctx, magbeads.Wash{
		Plate:           def.plateFor(s),
		Columns:         def.columnsFor(s),
		Waste:           labware.At(def.Waste, "A1"),
		SupernatantTips: s.Tips,
		MixTips:         s.MixTips,
		Buffer:          req,
		Supernatant:     r.supernatantOptions(s, s.SupernatantVolume),
		Mix:             r.mixOptions(s),
		EngageHeight:    r.engageHeight(s),
		Settle:          settle,
	})
	st.states[s.Reagent] = state
	if err != nil {
		return res, errors.Join(err, r.recordPartialLedger(ctx, st, index, s.Reagent, plan, state))
	}
	if err := r.recordLedger(ctx, st, index, s.Reagent, plan); err != nil {
		return res, err
	}
	return res.withPlan(plan), nil
}

// rotatedTransfer moves primer from the rotated primer column into each
// plate column, with a fresh tip per column.
func (r *Runner) rotatedTransfer(ctx context.Context, st *run, s Step, cols magbeads.Columns) error {
	if len(cols.Columns) > len(st.primers) {
		return fmt.Errorf("%d columns but only %d primer positions", len(cols.Columns), len(st.primers))
	}
	pip := r.devices.Pipette
	if s.Volume > pip.Capacity() {
		return fmt.Errorf("primer volume %.2f exceeds tip capacity %.2f", s.Volume, pip.Capacity())
	}
	for i, col := range cols.Columns {
		src := labware.At(s.Source, st.primers[i])
		dst := labware.At(cols.Plate, col)
		slot := labware.At(cols.Tips, col)
		if err := pip.PickUpTip(ctx, &slot); err != nil {
			return err
		}
		if err := pip.Aspirate(ctx, s.Volume, src, 1); err != nil {
			return err
		}
		if err := pip.Dispense(ctx, s.Volume, dst); err != nil {
			return err
		}
		var err error
		if s.dropTip(true) {
			err = pip.DropTip(ctx)
		} else {
			err = pip.ReturnTip(ctx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) supernatantOptions(s Step, volume float64) magbeads.SupernatantOptions {
	opts := r.defaults.Supernatant
	if volume > 0 {
		opts.Volume = volume
	}
	opts.DropTip = s.dropTip(opts.DropTip)
	return opts
}

func (r *Runner) mixOptions(s Step) magbeads.MixOptions {
	opts := r.defaults.Mix
	if s.Repetitions > 0 {
		opts.Repetitions = s.Repetitions
	}
	if s.MixVolume > 0 {
		opts.Volume = s.MixVolume
	}
	if s.Kind == KindBeadMix {
		opts.DropTip = s.dropTip(opts.DropTip)
	}
	return opts
}

func (r *Runner) engageHeight(s Step) float64 {
	if s.Height > 0 {
		return s.Height
	}
	return r.defaults.EngageHeight
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
