package device

import (
	"context"
	"time"

	"pipettor/internal/labware"
)

// Pipette is a single- or multi-channel pipetting instrument.
type Pipette interface {
	// Capacity returns the maximum volume a tip may hold, in µL.
	Capacity() float64
	// PickUpTip attaches a tip from slot, or the next available tip when slot is nil.
	PickUpTip(ctx context.Context, slot *labware.Location) error
	Aspirate(ctx context.Context, volume float64, loc labware.Location, rate float64) error
	// AirGap draws volume of air above the liquid already in the tip.
	AirGap(ctx context.Context, volume float64) error
	Dispense(ctx context.Context, volume float64, loc labware.Location) error
	// BlowOut expels residual liquid at loc, or in place when loc is nil.
	BlowOut(ctx context.Context, loc *labware.Location) error
	Mix(ctx context.Context, repetitions int, volume float64, loc labware.Location) error
	DropTip(ctx context.Context) error
	// ReturnTip puts the tip back into the slot it was picked from.
	ReturnTip(ctx context.Context) error
}

// Magnet is a magnetic bead separation module.
type Magnet interface {
	Engage(ctx context.Context, height float64) error
	Disengage(ctx context.Context) error
}

// Controller owns run-level actions that are not tied to an instrument.
type Controller interface {
	Delay(ctx context.Context, d time.Duration) error
	// Pause halts the run until an operator resumes it.
	Pause(ctx context.Context, message string) error
	Comment(ctx context.Context, message string) error
}
