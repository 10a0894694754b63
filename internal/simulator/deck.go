package simulator

import (
	"context"
	"sync"
	"time"

	"pipettor/internal/device"
	"pipettor/internal/labware"
)

const volumeTolerance = 1e-6

// Op names a recorded device command.
type Op string

const (
	OpPickUpTip Op = "pick_up_tip"
	OpAspirate  Op = "aspirate"
	OpAirGap    Op = "air_gap"
	OpDispense  Op = "dispense"
	OpBlowOut   Op = "blow_out"
	OpMix       Op = "mix"
	OpDropTip   Op = "drop_tip"
	OpReturnTip Op = "return_tip"
	OpEngage    Op = "engage"
	OpDisengage Op = "disengage"
	OpDelay     Op = "delay"
	OpPause     Op = "pause"
	OpComment   Op = "comment"
)

// Command is one successfully executed device action.
type Command struct {
	Op          Op               `json:"op"`
	Instrument  string           `json:"instrument,omitempty"`
	Volume      float64          `json:"volume,omitempty"`
	Location    labware.Location `json:"location,omitzero"`
	Rate        float64          `json:"rate,omitempty"`
	Repetitions int              `json:"repetitions,omitempty"`
	Height      float64          `json:"height,omitempty"`
	Duration    time.Duration    `json:"duration,omitempty"`
	Message     string           `json:"message,omitempty"`
}

// Option customizes a Deck.
type Option func(*Deck)

// WithPauseHandler installs a callback invoked for every operator pause.
// Returning an error aborts the run at that pause.
func WithPauseHandler(fn func(message string) error) Option {
	return func(d *Deck) {
		d.onPause = fn
	}
}

var _ device.Controller = (*Deck)(nil)

// Deck is the shared state behind simulated instruments. It also serves as
// the run controller.
type Deck struct {
	mu       sync.Mutex
	commands []Command
	volumes  map[string]float64
	tracked  map[string]bool
	elapsed  time.Duration
	onPause  func(string) error
	magnet   *Magnet
}

// NewDeck returns an empty deck.
func NewDeck(opts ...Option) *Deck {
	d := &Deck{
		volumes: make(map[string]float64),
		tracked: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fill seeds a well with volume µL and enables strict tracking for it.
func (d *Deck) Fill(loc labware.Location, volume float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volumes[loc.Key()] = volume
	d.tracked[loc.Key()] = true
}

// Volume returns the liquid currently recorded in a well.
func (d *Deck) Volume(loc labware.Location) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volumes[loc.Key()]
}

// Commands returns a copy of the command log.
func (d *Deck) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Command, len(d.commands))
	copy(out, d.commands)
	return out
}

// CommandCount returns how many commands have been recorded.
func (d *Deck) CommandCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}

// Elapsed returns the sum of all recorded delays.
func (d *Deck) Elapsed() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elapsed
}

func (d *Deck) record(cmd Command) {
	d.commands = append(d.commands, cmd)
}

// Delay records a timed wait without sleeping.
func (d *Deck) Delay(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elapsed += dur
	d.record(Command{Op: OpDelay, Duration: dur})
	return nil
}

// Pause records an operator prompt and runs the pause handler, if any.
func (d *Deck) Pause(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.record(Command{Op: OpPause, Message: message})
	handler := d.onPause
	d.mu.Unlock()
	if handler != nil {
		return handler(message)
	}
	return nil
}

// Comment records a run comment.
func (d *Deck) Comment(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Command{Op: OpComment, Message: message})
	return nil
}

// Counts tallies the command log by op.
func Counts(commands []Command) map[Op]int {
	out := make(map[Op]int)
	for _, c := range commands {
		out[c.Op]++
	}
	return out
}
