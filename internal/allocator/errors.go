package allocator

import (
	"errors"
	"fmt"

	"pipettor/internal/labware"
)

var (
	// ErrInvalidRequest reports a request with missing or non-positive inputs.
	ErrInvalidRequest = errors.New("invalid allocation request")
	// ErrVolumeUnderflow reports chunking math that cannot produce a positive sub-transfer.
	ErrVolumeUnderflow = errors.New("volume underflow")
	// ErrVesselExhausted reports that a rotation was needed but no vessel remained.
	ErrVesselExhausted = errors.New("source vessels exhausted")
)

// TransferError identifies the sub-transfer at which an allocation failed.
type TransferError struct {
	Destination int
	Target      labware.Location
	SubTransfer int
	Vessel      labware.Location
	Err         error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("destination %d (%s) sub-transfer %d from %s: %v",
		e.Destination+1, e.Target.Key(), e.SubTransfer+1, e.Vessel.Key(), e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
