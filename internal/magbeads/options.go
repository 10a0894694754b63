package magbeads

import (
	"time"

	"pipettor/internal/config"
)

// SupernatantOptions control RemoveSupernatant.
type SupernatantOptions struct {
	// Volume is removed from every column.
	Volume float64
	// Chunk caps a single aspiration.
	Chunk float64
	Rate  float64
	// BottomOffset is the aspiration height for the final chunk.
	BottomOffset float64
	// Step lowers the tip by this much per chunk, so chunk i of n is taken
	// at BottomOffset + Step*(n-1-i).
	Step    float64
	AirGap  float64
	DropTip bool
}

// MixOptions control BeadMix.
type MixOptions struct {
	Repetitions  int
	Volume       float64
	BottomOffset float64
	DropTip      bool
}

// ElutionOptions control TransferElute.
type ElutionOptions struct {
	Volume       float64
	Rate         float64
	BottomOffset float64
	DropTip      bool
}

// Defaults collects per-step option defaults derived from configuration.
type Defaults struct {
	Supernatant  SupernatantOptions
	Mix          MixOptions
	Elution      ElutionOptions
	EngageHeight float64
	Settle       time.Duration
}

// DefaultsFromConfig derives step defaults from cfg.
func DefaultsFromConfig(cfg *config.Config) Defaults {
	mb := cfg.Magbeads
	return Defaults{
		Supernatant: SupernatantOptions{
			Volume:       600,
			Chunk:        mb.SupernatantChunk,
			Rate:         mb.BeadFlowRate,
			BottomOffset: 2,
			Step:         1,
			AirGap:       cfg.Pipette.AirGap,
			DropTip:      true,
		},
		Mix: MixOptions{
			Repetitions:  mb.MixRepetitions,
			Volume:       200,
			BottomOffset: 2,
		},
		Elution: ElutionOptions{
			Volume:       50,
			Rate:         mb.BeadFlowRate,
			BottomOffset: 2,
			DropTip:      true,
		},
		EngageHeight: mb.EngageHeight,
		Settle:       time.Duration(mb.SettleSeconds) * time.Second,
	}
}
