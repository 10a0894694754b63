package labware

import (
	"fmt"
	"strings"
)

// Layout names a strategy for placing a 96-well plate into a 384-well plate.
type Layout string

const (
	// LayoutInterleaved spreads each 96 plate across every other row and
	// column, so the four quadrants tile the 384 plate in a 2x2 checkerboard.
	LayoutInterleaved Layout = "interleaved"
	// LayoutPacked keeps each 96 plate inside six adjacent 384 columns.
	LayoutPacked Layout = "packed"
)

// ParseLayout accepts the layout names used in protocol files and flags.
func ParseLayout(value string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(value))) {
	case LayoutInterleaved, "":
		return LayoutInterleaved, nil
	case LayoutPacked:
		return LayoutPacked, nil
	default:
		return "", fmt.Errorf("unknown 384 layout %q", value)
	}
}

// Map384 returns the 384-well names that receive the 96 wells of source
// plate quadrant (1-4), in 96-plate column-major order (A1, B1, ... H12).
func Map384(layout Layout, quadrant int) ([]string, error) {
	if quadrant < 1 || quadrant > 4 {
		return nil, fmt.Errorf("quadrant %d out of range 1-4", quadrant)
	}
	wells := make([]string, 0, 96)
	switch layout {
	case LayoutInterleaved:
		rowShift := 1 - quadrant%2
		colShift := ((quadrant+1)/2 + 1) % 2
		for x := 1; x <= 12; x++ {
			col := 2*x - 1 + colShift
			for y := 0; y < 8; y++ {
				wells = append(wells, Well{Row: 2*y + rowShift, Column: col}.String())
			}
		}
	case LayoutPacked:
		first := (quadrant-1)*6 + 1
		for _, rowShift := range []int{0, 1} {
			for col := first; col < first+6; col++ {
				for y := 0; y < 8; y++ {
					wells = append(wells, Well{Row: 2*y + rowShift, Column: col}.String())
				}
			}
		}
	default:
		return nil, fmt.Errorf("unknown 384 layout %q", layout)
	}
	return wells, nil
}
