package simulator

import (
	"context"

	"pipettor/internal/device"
)

// Magnet is a simulated magnetic module.
type Magnet struct {
	deck    *Deck
	engaged bool
	height  float64
}

var _ device.Magnet = (*Magnet)(nil)

// Magnet returns the deck's magnetic module.
func (d *Deck) Magnet() *Magnet {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.magnet == nil {
		d.magnet = &Magnet{deck: d}
	}
	return d.magnet
}

func (m *Magnet) Engage(ctx context.Context, height float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.deck.mu.Lock()
	defer m.deck.mu.Unlock()
	m.engaged = true
	m.height = height
	m.deck.record(Command{Op: OpEngage, Height: height})
	return nil
}

func (m *Magnet) Disengage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.deck.mu.Lock()
	defer m.deck.mu.Unlock()
	m.engaged = false
	m.deck.record(Command{Op: OpDisengage})
	return nil
}

// Engaged reports the magnet state and engage height.
func (m *Magnet) Engaged() (bool, float64) {
	m.deck.mu.Lock()
	defer m.deck.mu.Unlock()
	return m.engaged, m.height
}
