package magbeads_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pipettor/internal/allocator"
	"pipettor/internal/config"
	"pipettor/internal/labware"
	"pipettor/internal/magbeads"
	"pipettor/internal/simulator"
)

func defaults() magbeads.Defaults {
	cfg := config.Default()
	return magbeads.DefaultsFromConfig(&cfg)
}

func newStation(deck *simulator.Deck) (*magbeads.Station, *simulator.Pipette) {
	pip := deck.Pipette("p300_multi", 300, simulator.Rack("buffer_tips", 12))
	return &magbeads.Station{
		Pipette:    pip,
		Magnet:     deck.Magnet(),
		Controller: deck,
		Allocator:  allocator.New(allocator.DefaultOptions()),
	}, pip
}

func TestRemoveSupernatantChunksAndStepsDown(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	station, pip := newStation(deck)
	waste := labware.At("waste", "A1")
	deck.Fill(labware.At("mag_plate", "A1"), 800)

	opts := defaults().Supernatant
	cols := magbeads.Columns{Plate: "mag_plate", Columns: []string{"A1"}, Tips: "super_tips"}
	if err := station.RemoveSupernatant(ctx, cols, waste, opts); err != nil {
		t.Fatalf("RemoveSupernatant: %v", err)
	}

	type aspirate struct {
		Volume float64
		Z      float64
	}
	var got []aspirate
	for _, c := range deck.Commands() {
		if c.Op == simulator.OpAspirate {
			got = append(got, aspirate{Volume: c.Volume, Z: c.Location.Z})
			if c.Rate != 0.25 {
				t.Fatalf("aspirate rate = %v, want 0.25", c.Rate)
			}
		}
	}
	want := []aspirate{{190, 5}, {190, 4}, {190, 3}, {30, 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected aspirations (-want +got):\n%s", diff)
	}
	if v := deck.Volume(waste); math.Abs(v-600) > 1e-9 {
		t.Fatalf("waste volume = %v, want 600", v)
	}
	if v := deck.Volume(labware.At("mag_plate", "A1")); math.Abs(v-200) > 1e-9 {
		t.Fatalf("well volume = %v, want 200", v)
	}
	if pip.HasTip() {
		t.Fatalf("tip should be released")
	}
	counts := simulator.Counts(deck.Commands())
	if counts[simulator.OpBlowOut] != 4 || counts[simulator.OpDropTip] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestRemoveSupernatantUsesMatchingTipColumn(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	station, _ := newStation(deck)
	cols := magbeads.Columns{Plate: "mag_plate", Columns: []string{"A3", "A4"}, Tips: "super_tips"}
	opts := magbeads.SupernatantOptions{Volume: 100, Chunk: 190, Rate: 1, BottomOffset: 2, Step: 1}

	if err := station.RemoveSupernatant(ctx, cols, labware.At("waste", "A1"), opts); err != nil {
		t.Fatalf("RemoveSupernatant: %v", err)
	}
	var tips []string
	for _, c := range deck.Commands() {
		if c.Op == simulator.OpPickUpTip {
			tips = append(tips, c.Location.Key())
		}
	}
	if diff := cmp.Diff([]string{"super_tips/A3", "super_tips/A4"}, tips); diff != "" {
		t.Fatalf("unexpected tips (-want +got):\n%s", diff)
	}
	if counts := simulator.Counts(deck.Commands()); counts[simulator.OpReturnTip] != 2 {
		t.Fatalf("expected tips to be returned, got %v", counts)
	}
}

func TestBeadWashSequence(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	station, _ := newStation(deck)
	def := defaults()
	sources := labware.Wells("wash_buffers", []string{"A1", "A2"})

	state, err := station.BeadWash(ctx, magbeads.Wash{
		Plate:           "mag_plate",
		Columns:         []string{"A1", "A2", "A3"},
		Waste:           labware.At("waste", "A1"),
		SupernatantTips: "super_tips",
		MixTips:         "mix_tips",
		Buffer: allocator.Request{
			Volume:        300,
			Sources:       sources,
			NominalVolume: 2625,
		},
		Supernatant:  def.Supernatant,
		Mix:          def.Mix,
		EngageHeight: def.EngageHeight,
		Settle:       def.Settle,
	})
	if err != nil {
		t.Fatalf("BeadWash: %v", err)
	}

	// 300 µL splits into two 150 µL chunks; 2625 - 900 leaves 1725 in the first vessel.
	if math.Abs(state.Remaining-1725) > 1e-9 {
		t.Fatalf("remaining = %v, want 1725", state.Remaining)
	}
	if diff := cmp.Diff(sources, state.Sources); diff != "" {
		t.Fatalf("unexpected queue (-want +got):\n%s", diff)
	}

	var phases []simulator.Op
	for _, c := range deck.Commands() {
		switch c.Op {
		case simulator.OpEngage, simulator.OpDisengage, simulator.OpMix, simulator.OpDelay:
			if len(phases) == 0 || phases[len(phases)-1] != c.Op {
				phases = append(phases, c.Op)
			}
		}
	}
	want := []simulator.Op{simulator.OpDisengage, simulator.OpMix, simulator.OpEngage, simulator.OpDelay}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Fatalf("unexpected phase order (-want +got):\n%s", diff)
	}
	if engaged, height := deck.Magnet().Engaged(); !engaged || height != def.EngageHeight {
		t.Fatalf("magnet engaged=%v height=%v", engaged, height)
	}
	if got := deck.Elapsed(); got != 180*time.Second {
		t.Fatalf("elapsed = %v, want 3m", got)
	}
	for _, col := range []string{"A1", "A2", "A3"} {
		if v := deck.Volume(labware.At("mag_plate", col)); math.Abs(v-300) > 1e-9 {
			t.Fatalf("%s holds %v, want 300", col, v)
		}
	}
}

func TestBeadWashPropagatesExhaustion(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	station, _ := newStation(deck)
	def := defaults()

	_, err := station.BeadWash(ctx, magbeads.Wash{
		Plate:           "mag_plate",
		Columns:         labware.ColumnHeads(12),
		Waste:           labware.At("waste", "A1"),
		SupernatantTips: "super_tips",
		MixTips:         "mix_tips",
		Buffer: allocator.Request{
			Volume:        500,
			Sources:       labware.Wells("wash_buffers", []string{"A1"}),
			NominalVolume: 1750,
		},
		Supernatant: def.Supernatant,
		Mix:         def.Mix,
	})
	if !errors.Is(err, allocator.ErrVesselExhausted) {
		t.Fatalf("expected ErrVesselExhausted, got %v", err)
	}
	if n := simulator.Counts(deck.Commands())[simulator.OpMix]; n != 0 {
		t.Fatalf("mix should not run after exhaustion, got %d", n)
	}
}

func TestTransferElute(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	station, _ := newStation(deck)
	cols := magbeads.Columns{Plate: "mag_plate", Columns: []string{"A1", "A2"}, Tips: "elution_tips"}
	for _, col := range cols.Columns {
		deck.Fill(labware.At("mag_plate", col), 60)
	}

	opts := defaults().Elution
	if err := station.TransferElute(ctx, cols, "eluate", opts); err != nil {
		t.Fatalf("TransferElute: %v", err)
	}
	for _, col := range cols.Columns {
		if v := deck.Volume(labware.At("eluate", col)); v != 50 {
			t.Fatalf("eluate %s = %v, want 50", col, v)
		}
		if v := deck.Volume(labware.At("mag_plate", col)); v != 10 {
			t.Fatalf("mag_plate %s = %v, want 10", col, v)
		}
	}
}

func TestStepValidation(t *testing.T) {
	ctx := context.Background()
	station, _ := newStation(simulator.NewDeck())
	cols := magbeads.Columns{Plate: "mag_plate", Columns: []string{"A1"}, Tips: "tips"}

	tests := []struct {
		name string
		run  func() error
	}{
		{"no columns", func() error {
			return station.BeadMix(ctx, magbeads.Columns{Plate: "mag_plate", Tips: "tips"}, magbeads.MixOptions{Repetitions: 1, Volume: 10})
		}},
		{"zero mix", func() error { return station.BeadMix(ctx, cols, magbeads.MixOptions{}) }},
		{"chunk too large", func() error {
			return station.RemoveSupernatant(ctx, cols, labware.At("waste", "A1"), magbeads.SupernatantOptions{Volume: 100, Chunk: 295, AirGap: 10})
		}},
		{"no destination", func() error { return station.TransferElute(ctx, cols, "", magbeads.ElutionOptions{Volume: 50}) }},
		{"elution too large", func() error { return station.TransferElute(ctx, cols, "eluate", magbeads.ElutionOptions{Volume: 500}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, magbeads.ErrInvalidStep) {
				t.Fatalf("expected ErrInvalidStep, got %v", err)
			}
		})
	}
}
