package simulator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pipettor/internal/device"
	"pipettor/internal/labware"
	"pipettor/internal/simulator"
)

func TestPipetteTracksLiquidAndRecordsCommands(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	src := labware.At("buffers", "A1")
	dst := labware.At("plate", "A1")
	deck.Fill(src, 500)

	pip := deck.Pipette("left", 300, simulator.Rack("tips", 12))
	if err := pip.PickUpTip(ctx, nil); err != nil {
		t.Fatalf("PickUpTip: %v", err)
	}
	if err := pip.Aspirate(ctx, 200, src, 0); err != nil {
		t.Fatalf("Aspirate: %v", err)
	}
	if err := pip.AirGap(ctx, 10); err != nil {
		t.Fatalf("AirGap: %v", err)
	}
	if err := pip.Dispense(ctx, 210, dst.Top(0)); err != nil {
		t.Fatalf("Dispense: %v", err)
	}
	if err := pip.DropTip(ctx); err != nil {
		t.Fatalf("DropTip: %v", err)
	}

	if got := deck.Volume(src); got != 300 {
		t.Fatalf("source volume = %v, want 300", got)
	}
	if got := deck.Volume(dst); got != 200 {
		t.Fatalf("destination volume = %v, want 200", got)
	}

	var ops []simulator.Op
	for _, c := range deck.Commands() {
		ops = append(ops, c.Op)
	}
	want := []simulator.Op{
		simulator.OpPickUpTip, simulator.OpAspirate, simulator.OpAirGap,
		simulator.OpDispense, simulator.OpDropTip,
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Fatalf("unexpected ops (-want +got):\n%s", diff)
	}
}

func TestPipetteFaults(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	src := labware.At("buffers", "A1")
	deck.Fill(src, 100)
	pip := deck.Pipette("left", 300, simulator.TipRack{Labware: "tips", Slots: []string{"A1"}})

	if err := pip.Aspirate(ctx, 10, src, 1); !errors.Is(err, device.ErrNoTip) || !device.IsFault(err) {
		t.Fatalf("expected no-tip fault, got %v", err)
	}
	if err := pip.PickUpTip(ctx, nil); err != nil {
		t.Fatalf("PickUpTip: %v", err)
	}
	if err := pip.PickUpTip(ctx, nil); !errors.Is(err, device.ErrTipAttached) {
		t.Fatalf("expected tip-attached fault, got %v", err)
	}
	if err := pip.Aspirate(ctx, 150, src, 1); !errors.Is(err, device.ErrInsufficient) {
		t.Fatalf("expected insufficient fault, got %v", err)
	}
	if err := pip.Aspirate(ctx, 350, labware.At("plate", "A1"), 1); !errors.Is(err, device.ErrOverCapacity) {
		t.Fatalf("expected over-capacity fault, got %v", err)
	}
	if err := pip.DropTip(ctx); err != nil {
		t.Fatalf("DropTip: %v", err)
	}
	if err := pip.PickUpTip(ctx, nil); !errors.Is(err, device.ErrTipsExhausted) {
		t.Fatalf("expected exhausted rack, got %v", err)
	}
	slot := labware.At("tips", "A1")
	if err := pip.PickUpTip(ctx, &slot); !errors.Is(err, device.ErrTipsExhausted) {
		t.Fatalf("expected trashed slot fault, got %v", err)
	}
}

func TestReturnedTipCanBeReused(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	pip := deck.Pipette("left", 300, simulator.Rack("tips", 1))
	slot := labware.At("tips", "A1")

	for i := 0; i < 2; i++ {
		if err := pip.PickUpTip(ctx, &slot); err != nil {
			t.Fatalf("PickUpTip #%d: %v", i, err)
		}
		if err := pip.ReturnTip(ctx); err != nil {
			t.Fatalf("ReturnTip #%d: %v", i, err)
		}
	}
	if pip.HasTip() {
		t.Fatal("expected no tip after return")
	}
}

func TestControllerRecordsDelaysAndPauses(t *testing.T) {
	ctx := context.Background()
	var prompts []string
	deck := simulator.NewDeck(simulator.WithPauseHandler(func(msg string) error {
		prompts = append(prompts, msg)
		return nil
	}))
	if err := deck.Delay(ctx, 3*time.Minute); err != nil {
		t.Fatalf("Delay: %v", err)
	}
	if err := deck.Pause(ctx, "seal plate"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if deck.Elapsed() != 3*time.Minute {
		t.Fatalf("elapsed = %v", deck.Elapsed())
	}
	if len(prompts) != 1 || prompts[0] != "seal plate" {
		t.Fatalf("unexpected prompts: %v", prompts)
	}

	magnet := deck.Magnet()
	if err := magnet.Engage(ctx, 6); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	if engaged, height := magnet.Engaged(); !engaged || height != 6 {
		t.Fatalf("unexpected magnet state: %v %v", engaged, height)
	}
	counts := simulator.Counts(deck.Commands())
	if counts[simulator.OpDelay] != 1 || counts[simulator.OpPause] != 1 || counts[simulator.OpEngage] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestCanceledContextStopsCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	deck := simulator.NewDeck()
	if err := deck.Comment(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(deck.Commands()) != 0 {
		t.Fatal("expected no commands recorded")
	}
}
