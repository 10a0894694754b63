package labware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidWell reports a well name that does not parse as <row><column>.
var ErrInvalidWell = errors.New("invalid well name")

// Anchor selects the reference point a Location offset is measured from.
type Anchor string

const (
	AnchorCenter Anchor = ""
	AnchorTop    Anchor = "top"
	AnchorBottom Anchor = "bottom"
)

// Location addresses a single well (or tip slot) on the deck.
type Location struct {
	Labware string  `json:"labware"`
	Well    string  `json:"well"`
	Anchor  Anchor  `json:"anchor,omitempty"`
	Z       float64 `json:"z,omitempty"`
}

// At returns the center of well on the named labware.
func At(labware, well string) Location {
	return Location{Labware: labware, Well: strings.ToUpper(strings.TrimSpace(well))}
}

// Top returns the same well referenced from its top edge.
func (l Location) Top(z float64) Location {
	l.Anchor = AnchorTop
	l.Z = z
	return l
}

// Bottom returns the same well referenced from its bottom.
func (l Location) Bottom(z float64) Location {
	l.Anchor = AnchorBottom
	l.Z = z
	return l
}

// Key identifies the well regardless of anchor, for volume bookkeeping.
func (l Location) Key() string {
	return l.Labware + "/" + l.Well
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Labware == "" && l.Well == ""
}

func (l Location) String() string {
	s := l.Key()
	switch l.Anchor {
	case AnchorTop, AnchorBottom:
		s += fmt.Sprintf("@%s%+g", l.Anchor, l.Z)
	}
	return s
}

// Wells maps well names on one labware to locations.
func Wells(labware string, wells []string) []Location {
	out := make([]Location, 0, len(wells))
	for _, w := range wells {
		out = append(out, At(labware, w))
	}
	return out
}

// Well is a parsed row/column pair. Row is zero-based ('A' = 0), Column is one-based.
type Well struct {
	Row    int
	Column int
}

// ParseWell parses names like "A1" or "p24".
func ParseWell(name string) (Well, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if len(name) < 2 {
		return Well{}, fmt.Errorf("%w: %q", ErrInvalidWell, name)
	}
	row := name[0]
	if row < 'A' || row > 'Z' {
		return Well{}, fmt.Errorf("%w: %q", ErrInvalidWell, name)
	}
	col, err := strconv.Atoi(name[1:])
	if err != nil || col < 1 {
		return Well{}, fmt.Errorf("%w: %q", ErrInvalidWell, name)
	}
	return Well{Row: int(row - 'A'), Column: col}, nil
}

func (w Well) String() string {
	return fmt.Sprintf("%c%d", 'A'+rune(w.Row), w.Column)
}

// ColumnHeads returns the first-row well of columns 1..n ("A1".."An"),
// which is how multi-channel pipettes address whole columns.
func ColumnHeads(n int) []string {
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, "A"+strconv.Itoa(i))
	}
	return out
}
