package simulator

import (
	"context"
	"fmt"

	"pipettor/internal/device"
	"pipettor/internal/labware"
)

// TipRack is an ordered set of tip slots on one labware.
type TipRack struct {
	Labware string
	Slots   []string
}

// Rack returns a rack addressed by column heads, for multi-channel pipettes.
func Rack(labwareName string, columns int) TipRack {
	return TipRack{Labware: labwareName, Slots: labware.ColumnHeads(columns)}
}

// Pipette is a simulated pipetting instrument bound to a Deck.
type Pipette struct {
	deck     *Deck
	name     string
	capacity float64
	racks    []TipRack

	used    map[string]bool
	trashed map[string]bool

	tip    *labware.Location
	liquid float64
	air    float64
}

var _ device.Pipette = (*Pipette)(nil)

// Pipette creates a pipette named name that draws tips from racks in order.
func (d *Deck) Pipette(name string, capacity float64, racks ...TipRack) *Pipette {
	return &Pipette{
		deck:     d,
		name:     name,
		capacity: capacity,
		racks:    racks,
		used:     make(map[string]bool),
		trashed:  make(map[string]bool),
	}
}

func (p *Pipette) Capacity() float64 { return p.capacity }

// HasTip reports whether a tip is attached.
func (p *Pipette) HasTip() bool {
	p.deck.mu.Lock()
	defer p.deck.mu.Unlock()
	return p.tip != nil
}

func (p *Pipette) fault(op string, loc labware.Location, err error) error {
	return &device.Fault{Op: p.name + " " + op, Location: loc, Err: err}
}

func (p *Pipette) PickUpTip(ctx context.Context, slot *labware.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.deck.mu.Lock()
	defer p.deck.mu.Unlock()

	if p.tip != nil {
		return p.fault("pick up tip", *p.tip, device.ErrTipAttached)
	}
	var loc labware.Location
	if slot != nil {
		loc = labware.At(slot.Labware, slot.Well)
		if p.trashed[loc.Key()] {
			return p.fault("pick up tip", loc, device.ErrTipsExhausted)
		}
	} else {
		next, ok := p.nextSlot()
		if !ok {
			return p.fault("pick up tip", labware.Location{}, device.ErrTipsExhausted)
		}
		loc = next
	}
	p.used[loc.Key()] = true
	p.tip = &loc
	p.liquid, p.air = 0, 0
	p.deck.record(Command{Op: OpPickUpTip, Instrument: p.name, Location: loc})
	return nil
}

func (p *Pipette) nextSlot() (labware.Location, bool) {
	for _, rack := range p.racks {
		for _, slot := range rack.Slots {
			loc := labware.At(rack.Labware, slot)
			if !p.used[loc.Key()] {
				return loc, true
			}
		}
	}
	return labware.Location{}, false
}

func (p *Pipette) Aspirate(ctx context.Context, volume float64, loc labware.Location, rate float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.deck.mu.Lock()
	defer p.deck.mu.Unlock()

	if p.tip == nil {
		return p.fault("aspirate", loc, device.ErrNoTip)
	}
	if p.liquid+p.air+volume > p.capacity+volumeTolerance {
		return p.fault("aspirate", loc, fmt.Errorf("%w: %.2f + %.2f > %.2f", device.ErrOverCapacity, p.liquid+p.air, volume, p.capacity))
	}
	key := loc.Key()
	if p.deck.tracked[key] && p.deck.volumes[key]+volumeTolerance < volume {
		return p.fault("aspirate", loc, fmt.Errorf("%w: want %.2f, have %.2f", device.ErrInsufficient, volume, p.deck.volumes[key]))
	}
	p.deck.volumes[key] = max(p.deck.volumes[key]-volume, 0)
	p.liquid += volume
	if rate <= 0 {
		rate = 1
	}
	p.deck.record(Command{Op: OpAspirate, Instrument: p.name, Volume: volume, Location: loc, Rate: rate})
	return nil
}

func (p *Pipette) AirGap(ctx context.Context, volume float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.deck.mu.Lock()
	defer p.deck.mu.Unlock()

	if p.tip == nil {
		return p.fault("air gap", labware.Location{}, device.ErrNoTip)
	}
	if p.liquid+p.air+volume > p.capacity+volumeTolerance {
		return p.fault("air gap", labware.Location{}, device.ErrOverCapacity)
	}
	p.air += volume
	p.deck.record(Command{Op: OpAirGap, Instrument: p.name, Volume: volume})
	return nil
}

func (p *Pipette) Dispense(ctx context.Context, volume float64, loc labware.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.deck.mu.Lock()
	defer p.deck.mu.Unlock()

	if p.tip == nil {
		return p.fault("dispense", loc, device.ErrNoTip)
	}
	if volume > p.liquid+p.air+volumeTolerance {
		return p.fault("dispense", loc, fmt.Errorf("%w: tip holds %.2f, want %.2f", device.ErrInsufficient, p.liquid+p.air, volume))
	}
	// The air gap sits above the liquid, so liquid leaves the tip first.
	liquid := min(volume, p.liquid)
	p.liquid -= liquid
	p.air = max(p.air-(volume-liquid), 0)
	p.deck.volumes[loc.Key()] += liquid
	p.deck.record(Command{Op: OpDispense, Instrument: p.name, Volume: volume, Location: loc})
	return nil
}

func (p *Pipette) BlowOut(ctx context.Context, loc *labware.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.deck.mu.Lock()
	defer p.deck.mu.Unlock()

	if p.tip == nil {
		return p.fault("blow out", labware.Location{}, device.ErrNoTip)
	}
	cmd := Command{Op: OpBlowOut, Instrument: p.name}
	if loc != nil {
		p.deck.volumes[loc.Key()] += p.liquid
		cmd.Location = *loc
	}
	p.liquid, p.air = 0, 0
	p.deck.record(cmd)
	return nil
}

func (p *Pipette) Mix(ctx context.Context, repetitions int, volume float64, loc labware.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.deck.mu.Lock()
	defer p.deck.mu.Unlock()

	if p.tip == nil {
		return p.fault("mix", loc, device.ErrNoTip)
	}
	if volume > p.capacity+volumeTolerance {
		return p.fault("mix", loc, device.ErrOverCapacity)
	}
	p.deck.record(Command{Op: OpMix, Instrument: p.name, Volume: volume, Location: loc, Repetitions: repetitions})
	return nil
}

func (p *Pipette) DropTip(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.deck.mu.Lock()
	defer p.deck.mu.Unlock()

	if p.tip == nil {
		return p.fault("drop tip", labware.Location{}, device.ErrNoTip)
	}
	p.trashed[p.tip.Key()] = true
	p.deck.record(Command{Op: OpDropTip, Instrument: p.name, Location: *p.tip})
	p.tip = nil
	p.liquid, p.air = 0, 0
	return nil
}

func (p *Pipette) ReturnTip(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.deck.mu.Lock()
	defer p.deck.mu.Unlock()

	if p.tip == nil {
		return p.fault("return tip", labware.Location{}, device.ErrNoTip)
	}
	p.deck.record(Command{Op: OpReturnTip, Instrument: p.name, Location: *p.tip})
	p.tip = nil
	p.liquid, p.air = 0, 0
	return nil
}
