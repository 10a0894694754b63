package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"pipettor/internal/allocator"
	"pipettor/internal/config"
	"pipettor/internal/protocol"
	"pipettor/internal/rotation"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckRotationRecord verifies the legacy rotation file can be parsed and
// its directory written.
func CheckRotationRecord(ctx context.Context, path string) Result {
	const name = "Rotation record"

	dir := filepath.Dir(path)
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: directory not writable: %v)", dir, err)}
	}
	idx, last, err := rotation.Peek(ctx, rotation.NewFileStore(path), 0)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if last == nil {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (no record yet; next index %d)", path, idx)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (last index %d; next index %d)", path, last.Index, idx)}
}

// CheckProtocol plans every reagent step of def and reports the first one
// that would exhaust its vessels, plus any step volume the tip cannot hold.
func CheckProtocol(cfg *config.Config, def *protocol.Definition, capacity float64) Result {
	name := fmt.Sprintf("Protocol %s", def.Name)
	if capacity <= 0 {
		capacity = cfg.Pipette.Capacity
	}

	for i, s := range def.Steps {
		var vol float64
		switch s.Kind {
		case protocol.KindTransferElute, protocol.KindRotatedTransfer:
			vol = s.Volume
		case protocol.KindBeadMix, protocol.KindBeadWash:
			vol = s.MixVolume
		}
		if vol > capacity {
			return Result{Name: name, Detail: fmt.Sprintf("step %d (%s): %.1f µL exceeds %.1f µL tip capacity", i+1, s.Kind, vol, capacity)}
		}
	}

	alloc := allocator.New(protocol.AllocatorOptions(cfg, nil))
	usage, err := protocol.PlanReagents(def, alloc, capacity)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, allocator.ErrVesselExhausted) {
			detail = "not enough source vessels: " + detail
		}
		return Result{Name: name, Detail: detail}
	}

	rotations := 0
	for _, u := range usage {
		rotations += u.Plan.Rotations
	}
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("%d steps, %d reagent steps, %d vessel rotations", len(def.Steps), len(usage), rotations),
	}
}
