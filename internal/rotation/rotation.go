package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultPositions is the column count of a 96-well primer plate.
const DefaultPositions = 12

// ErrInvalidIndex reports a rotation index outside [0, positions).
var ErrInvalidIndex = errors.New("rotation index out of range")

// Record is one completed run's starting column.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Index     int       `json:"index"`
}

// Store persists rotation records.
type Store interface {
	// Last returns the most recent record; ok is false when none exist.
	Last(ctx context.Context) (rec Record, ok bool, err error)
	Append(ctx context.Context, rec Record) error
}

// Next returns the index that follows last. With no previous record the
// rotation starts at 0.
func Next(last *Record, positions int) int {
	if positions <= 0 {
		positions = DefaultPositions
	}
	if last == nil {
		return 0
	}
	idx := last.Index % positions
	if idx < 0 {
		idx += positions
	}
	return (idx + 1) % positions
}

// Apply returns items rotated left by idx, leaving items unchanged.
func Apply[T any](items []T, idx int) ([]T, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if idx < 0 || idx >= len(items) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidIndex, idx, len(items))
	}
	out := make([]T, 0, len(items))
	out = append(out, items[idx:]...)
	out = append(out, items[:idx]...)
	return out, nil
}

// Peek loads the last record from store and returns the index the next run
// should use, without recording anything.
func Peek(ctx context.Context, store Store, positions int) (int, *Record, error) {
	rec, ok, err := store.Last(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("load rotation record: %w", err)
	}
	if !ok {
		return Next(nil, positions), nil, nil
	}
	return Next(&rec, positions), &rec, nil
}
