package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pipettor/internal/allocator"
	"pipettor/internal/config"
	"pipettor/internal/device"
	"pipettor/internal/labware"
	"pipettor/internal/logging"
	"pipettor/internal/magbeads"
	"pipettor/internal/rotation"
	"pipettor/internal/runstore"
)

// ErrNoRotationStore reports a protocol with a rotated transfer but nowhere
// to read the rotation record from.
var ErrNoRotationStore = errors.New("protocol uses primer rotation but no rotation store is configured")

// Devices are the instruments a protocol runs on.
type Devices struct {
	Pipette    device.Pipette
	Magnet     device.Magnet
	Controller device.Controller
}

// commandCounter is implemented by controllers that log device commands.
type commandCounter interface {
	CommandCount() int
}

// runAppender is implemented by rotation stores that link records to runs.
type runAppender interface {
	AppendForRun(ctx context.Context, runID string, rec rotation.Record) error
}

// Runner executes protocol definitions.
type Runner struct {
	cfg       *config.Config
	devices   Devices
	alloc     *allocator.Allocator
	station   *magbeads.Station
	defaults  magbeads.Defaults
	store     *runstore.Store
	rotations rotation.Store
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithStore records runs and vessel usage in store.
func WithStore(store *runstore.Store) Option {
	return func(r *Runner) { r.store = store }
}

// WithRotationStore sets where the primer rotation record is kept.
func WithRotationStore(store rotation.Store) Option {
	return func(r *Runner) { r.rotations = store }
}

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner builds a runner for cfg and devices.
func NewRunner(cfg *config.Config, devices Devices, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("runner requires a config")
	}
	if devices.Pipette == nil || devices.Magnet == nil || devices.Controller == nil {
		return nil, errors.New("runner requires a pipette, magnet and controller")
	}
	r := &Runner{cfg: cfg, devices: devices, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "runner")
	r.alloc = allocator.New(AllocatorOptions(cfg, r.logger))
	r.defaults = magbeads.DefaultsFromConfig(cfg)
	r.station = &magbeads.Station{
		Pipette:    devices.Pipette,
		Magnet:     devices.Magnet,
		Controller: devices.Controller,
		Allocator:  r.alloc,
		Logger:     r.logger,
	}
	return r, nil
}

// AllocatorOptions maps configuration onto allocator options.
func AllocatorOptions(cfg *config.Config, logger *slog.Logger) allocator.Options {
	return allocator.Options{
		Headroom: cfg.Pipette.Headroom,
		AirGap:   cfg.Pipette.AirGap,
		Margin: allocator.Margin{
			Volume:   cfg.Allocator.DeadVolume,
			Fraction: cfg.Allocator.DeadVolumeFraction,
		},
		BlowOut: cfg.Allocator.BlowOut,
		Logger:  logger,
	}
}

// RunOptions control a single run.
type RunOptions struct {
	// DryRun executes every step but leaves the rotation record untouched.
	DryRun bool
}

// run holds the mutable state of one execution.
type run struct {
	id       string
	def      *Definition
	states   reagentStates
	rotation int
	primers  []string
	result   *Result
}

// Run executes def's steps in order. The first failing step aborts the run;
// the returned Result then describes the steps that completed.
func (r *Runner) Run(ctx context.Context, def *Definition, opts RunOptions) (*Result, error) {
	if def == nil {
		return nil, errors.New("protocol definition is nil")
	}
	id := uuid.NewString()
	if r.store != nil {
		stored, err := r.store.CreateRun(ctx, runstore.NewRun{
			Protocol:     def.Name,
			ProtocolPath: def.Path,
			DryRun:       opts.DryRun,
			StepsTotal:   len(def.Steps),
		})
		if err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		id = stored.ID
	}
	ctx = logging.WithRunID(ctx, id)
	logger := logging.WithContext(ctx, r.logger)

	state := &run{
		id:     id,
		def:    def,
		states: make(reagentStates),
		result: &Result{RunID: id, Protocol: def.Name, DryRun: opts.DryRun},
	}

	started := r.now()
	logger.Info("protocol run started",
		logging.String("protocol", def.Name),
		logging.Int("steps", len(def.Steps)),
		logging.Bool("dry_run", opts.DryRun),
	)

	err := r.execute(ctx, state, opts)
	state.result.Reagents = reagentSummary(state.states)
	if counter, ok := r.devices.Controller.(commandCounter); ok {
		state.result.CommandCount = counter.CommandCount()
	}

	if r.store != nil {
		outcome := runstore.Outcome{
			StepsDone:    state.result.StepsDone,
			CommandCount: state.result.CommandCount,
			Rotation:     state.result.Rotation,
			Err:          err,
		}
		if finishErr := r.store.FinishRun(context.WithoutCancel(ctx), id, outcome); finishErr != nil {
			err = errors.Join(err, fmt.Errorf("record run outcome: %w", finishErr))
		}
	}

	if err != nil {
		logging.ErrorWithContext(logger, "protocol run failed", "run_failed",
			logging.Int("steps_done", state.result.StepsDone),
			logging.String(logging.FieldErrorHint, "inspect the failing step, reload vessels or tips, and rerun"),
			logging.Error(err),
		)
		return state.result, err
	}
	logger.Info("protocol run complete",
		logging.Int("steps_done", state.result.StepsDone),
		logging.Int("commands", state.result.CommandCount),
		logging.Duration("wall_time", r.now().Sub(started)),
	)
	return state.result, nil
}

func (r *Runner) execute(ctx context.Context, st *run, opts RunOptions) error {
	if st.def.UsesRotation() {
		if err := r.loadRotation(ctx, st); err != nil {
			return err
		}
	}

	for i, step := range st.def.Steps {
		stepCtx := logging.WithStep(ctx, fmt.Sprintf("%d/%d %s", i+1, len(st.def.Steps), step.Title()))
		res, err := r.runStep(stepCtx, st, i+1, step)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Kind, err)
		}
		st.result.Steps = append(st.result.Steps, res)
		st.result.StepsDone = i + 1
		if r.store != nil {
			if err := r.store.UpdateProgress(ctx, st.id, i+1); err != nil {
				return err
			}
		}
	}

	if st.def.UsesRotation() {
		idx := st.rotation
		st.result.Rotation = &idx
		if !opts.DryRun {
			if err := r.saveRotation(ctx, st); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) loadRotation(ctx context.Context, st *run) error {
	if r.rotations == nil {
		return ErrNoRotationStore
	}
	positions := r.cfg.Rotation.Positions
	idx, last, err := rotation.Peek(ctx, r.rotations, positions)
	if err != nil {
		return err
	}
	primers, err := rotation.Apply(labware.ColumnHeads(positions), idx)
	if err != nil {
		return err
	}
	st.rotation = idx
	st.primers = primers

	attrs := []logging.Attr{logging.Int("rotation_index", idx), logging.String("first_primer_column", primers[0])}
	if last != nil {
		attrs = append(attrs, logging.Int("previous_index", last.Index))
	}
	logging.WithContext(ctx, r.logger).Info("primer rotation selected", logging.Args(attrs...)...)
	return nil
}

func (r *Runner) saveRotation(ctx context.Context, st *run) error {
	rec := rotation.Record{Timestamp: r.now(), Index: st.rotation}
	var err error
	if appender, ok := r.rotations.(runAppender); ok && r.store != nil {
		err = appender.AppendForRun(ctx, st.id, rec)
	} else {
		err = r.rotations.Append(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("save rotation record: %w", err)
	}
	return nil
}

func (r *Runner) recordLedger(ctx context.Context, st *run, step int, reagent string, plan allocator.Plan) error {
	if r.store == nil {
		return nil
	}
	rows := vesselLedger(plan)
	entries := make([]runstore.VesselEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, runstore.VesselEntry{
			RunID:     st.id,
			Step:      step,
			Reagent:   reagent,
			Vessel:    row.Vessel,
			Drawn:     row.Drawn,
			Remaining: row.Remaining,
			Depleted:  row.Depleted,
		})
	}
	return r.store.RecordVessels(ctx, entries)
}

// recordPartialLedger records the vessels drawn from before a reagent step
// failed. Nothing is written when no liquid left the source.
func (r *Runner) recordPartialLedger(ctx context.Context, st *run, step int, reagent string, plan allocator.Plan, state allocator.State) error {
	done := plan.Through(state)
	if len(done.Transfers) == 0 {
		return nil
	}
	return r.recordLedger(ctx, st, step, reagent, done)
}
