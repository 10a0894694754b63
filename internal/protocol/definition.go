package protocol

import (
	"pipettor/internal/labware"
)

// StepKind names a protocol step.
type StepKind string

const (
	KindAddBuffer         StepKind = "add_buffer"
	KindRemoveSupernatant StepKind = "remove_supernatant"
	KindBeadMix           StepKind = "bead_mix"
	KindBeadWash          StepKind = "bead_wash"
	KindTransferElute     StepKind = "transfer_elute"
	KindRotatedTransfer   StepKind = "rotated_transfer"
	KindEngage            StepKind = "engage"
	KindDisengage         StepKind = "disengage"
	KindDelay             StepKind = "delay"
	KindPause             StepKind = "pause"
	KindComment           StepKind = "comment"
)

// Kinds lists every supported step kind.
func Kinds() []StepKind {
	return []StepKind{
		KindAddBuffer, KindRemoveSupernatant, KindBeadMix, KindBeadWash,
		KindTransferElute, KindRotatedTransfer, KindEngage, KindDisengage,
		KindDelay, KindPause, KindComment,
	}
}

// UsesReagent reports whether the step draws through the allocator.
func (k StepKind) UsesReagent() bool {
	return k == KindAddBuffer || k == KindBeadWash
}

// Definition is a parsed protocol file.
type Definition struct {
	Name        string    `toml:"name" yaml:"name"`
	Description string    `toml:"description" yaml:"description"`
	Plate       string    `toml:"plate" yaml:"plate"`
	Columns     []string  `toml:"columns" yaml:"columns"`
	Waste       string    `toml:"waste" yaml:"waste"`
	Pipette     Pipette   `toml:"pipette" yaml:"pipette"`
	Reagents    []Reagent `toml:"reagents" yaml:"reagents"`
	Steps       []Step    `toml:"steps" yaml:"steps"`

	// Path is the file the definition was loaded from.
	Path string `toml:"-" yaml:"-"`
}

// Pipette describes the instrument a protocol expects.
type Pipette struct {
	Name     string   `toml:"name" yaml:"name"`
	Capacity float64  `toml:"capacity" yaml:"capacity"`
	TipRacks []string `toml:"tip_racks" yaml:"tip_racks"`
}

// Reagent is a liquid held in an ordered set of identical vessels.
type Reagent struct {
	Name          string   `toml:"name" yaml:"name"`
	Labware       string   `toml:"labware" yaml:"labware"`
	Wells         []string `toml:"wells" yaml:"wells"`
	NominalVolume float64  `toml:"nominal_volume" yaml:"nominal_volume"`
}

// Vessels returns the reagent's source queue.
func (r Reagent) Vessels() []labware.Location {
	return labware.Wells(r.Labware, r.Wells)
}

// Step is one protocol action. Which fields apply depends on Kind.
type Step struct {
	Kind  StepKind `toml:"kind" yaml:"kind"`
	Label string   `toml:"label" yaml:"label"`

	Reagent string   `toml:"reagent" yaml:"reagent"`
	Volume  float64  `toml:"volume" yaml:"volume"`
	Plate   string   `toml:"plate" yaml:"plate"`
	Columns []string `toml:"columns" yaml:"columns"`

	// Tips is the per-column tip rack; for bead_wash it serves supernatant removal.
	Tips    string `toml:"tips" yaml:"tips"`
	MixTips string `toml:"mix_tips" yaml:"mix_tips"`
	// Source is the primer plate for rotated_transfer.
	Source      string `toml:"source" yaml:"source"`
	Destination string `toml:"destination" yaml:"destination"`

	SupernatantVolume float64 `toml:"supernatant_volume" yaml:"supernatant_volume"`
	Repetitions       int     `toml:"repetitions" yaml:"repetitions"`
	MixVolume         float64 `toml:"mix_volume" yaml:"mix_volume"`
	Height            float64 `toml:"height" yaml:"height"`
	Seconds           float64 `toml:"seconds" yaml:"seconds"`
	Message           string  `toml:"message" yaml:"message"`
	DropTip           *bool   `toml:"drop_tip" yaml:"drop_tip"`
}

// Title returns the step label, falling back to its kind.
func (s Step) Title() string {
	if s.Label != "" {
		return s.Label
	}
	return string(s.Kind)
}

func (s Step) dropTip(fallback bool) bool {
	if s.DropTip == nil {
		return fallback
	}
	return *s.DropTip
}

// Reagent returns the named reagent.
func (d *Definition) Reagent(name string) (Reagent, bool) {
	for _, r := range d.Reagents {
		if r.Name == name {
			return r, true
		}
	}
	return Reagent{}, false
}

// UsesRotation reports whether any step consumes the primer rotation.
func (d *Definition) UsesRotation() bool {
	for _, s := range d.Steps {
		if s.Kind == KindRotatedTransfer {
			return true
		}
	}
	return false
}

func (d *Definition) plateFor(s Step) string {
	if s.Plate != "" {
		return s.Plate
	}
	return d.Plate
}

func (d *Definition) columnsFor(s Step) []string {
	if len(s.Columns) > 0 {
		return s.Columns
	}
	return d.Columns
}
