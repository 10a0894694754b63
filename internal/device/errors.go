package device

import (
	"errors"
	"fmt"

	"pipettor/internal/labware"
)

var (
	ErrNoTip         = errors.New("no tip attached")
	ErrTipAttached   = errors.New("tip already attached")
	ErrTipsExhausted = errors.New("no tips left in rack")
	ErrOverCapacity  = errors.New("volume exceeds tip capacity")
	ErrInsufficient  = errors.New("insufficient liquid in well")
)

// Fault is a hardware-level failure of a single device command.
type Fault struct {
	Op       string
	Location labware.Location
	Err      error
}

func (f *Fault) Error() string {
	if f.Location.IsZero() {
		return fmt.Sprintf("%s: %v", f.Op, f.Err)
	}
	return fmt.Sprintf("%s at %s: %v", f.Op, f.Location, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// IsFault reports whether err carries a device Fault.
func IsFault(err error) bool {
	var fault *Fault
	return errors.As(err, &fault)
}
