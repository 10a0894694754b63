package allocator_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pipettor/internal/allocator"
	"pipettor/internal/device"
	"pipettor/internal/labware"
	"pipettor/internal/simulator"
)

func vessels(n int) []labware.Location {
	out := make([]labware.Location, n)
	for i := range out {
		out[i] = labware.At("reservoir", fmt.Sprintf("A%d", i+1))
	}
	return out
}

func plate(n int) []labware.Location {
	return labware.Wells("mag_plate", labware.ColumnHeads(n))
}

func TestChunks(t *testing.T) {
	tests := []struct {
		name      string
		volume    float64
		capacity  float64
		headroom  float64
		wantCount int
		wantSize  float64
	}{
		{name: "fits exactly", volume: 300, capacity: 310, headroom: 10, wantCount: 1, wantSize: 300},
		{name: "splits evenly", volume: 500, capacity: 300, headroom: 10, wantCount: 2, wantSize: 250},
		{name: "small volume", volume: 20, capacity: 300, headroom: 10, wantCount: 1, wantSize: 20},
		{name: "three chunks", volume: 600, capacity: 200, headroom: 0, wantCount: 3, wantSize: 200},
		{name: "just over limit", volume: 290.5, capacity: 300, headroom: 10, wantCount: 2, wantSize: 145.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, size, err := allocator.Chunks(tt.volume, tt.capacity, tt.headroom)
			if err != nil {
				t.Fatalf("Chunks: %v", err)
			}
			if n != tt.wantCount || math.Abs(size-tt.wantSize) > 1e-9 {
				t.Fatalf("Chunks = (%d, %v), want (%d, %v)", n, size, tt.wantCount, tt.wantSize)
			}
		})
	}
}

func TestChunksRejectsBadInput(t *testing.T) {
	if _, _, err := allocator.Chunks(100, 10, 10); !errors.Is(err, allocator.ErrVolumeUnderflow) {
		t.Fatalf("expected ErrVolumeUnderflow, got %v", err)
	}
	if _, _, err := allocator.Chunks(0, 300, 10); !errors.Is(err, allocator.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for zero volume, got %v", err)
	}
	if _, _, err := allocator.Chunks(math.NaN(), 300, 10); !errors.Is(err, allocator.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for NaN, got %v", err)
	}
	if _, _, err := allocator.Chunks(500, 300, math.NaN()); !errors.Is(err, allocator.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for NaN headroom, got %v", err)
	}
	if _, _, err := allocator.Chunks(500, math.Inf(1), 10); !errors.Is(err, allocator.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for infinite capacity, got %v", err)
	}
}

func TestMarginResolve(t *testing.T) {
	if got := (allocator.Margin{Fraction: 0.1}).Resolve(1750); math.Abs(got-175) > 1e-9 {
		t.Fatalf("fractional margin = %v, want 175", got)
	}
	if got := (allocator.Margin{Volume: 100, Fraction: 0.5}).Resolve(1000); got != 100 {
		t.Fatalf("absolute margin = %v, want 100", got)
	}
}

func scenarioOneOptions() allocator.Options {
	return allocator.Options{
		Headroom: 10,
		AirGap:   10,
		Margin:   allocator.Margin{Volume: 100},
		BlowOut:  true,
	}
}

func TestDistributeRotatesLazily(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	sources := vessels(2)
	for _, v := range sources {
		deck.Fill(v, 1000)
	}
	dests := plate(4)
	pip := deck.Pipette("p300", 310, simulator.Rack("tips", 12))

	state, err := allocator.New(scenarioOneOptions()).Distribute(ctx, pip, allocator.Request{
		Destinations:  dests,
		Volume:        300,
		Sources:       sources,
		NominalVolume: 1000,
	})
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}

	if state.Remaining != 400 {
		t.Fatalf("remaining = %v, want 400", state.Remaining)
	}
	if diff := cmp.Diff(sources[1:], state.Sources); diff != "" {
		t.Fatalf("unexpected queue (-want +got):\n%s", diff)
	}
	for _, d := range dests {
		if got := deck.Volume(d); math.Abs(got-300) > 1e-9 {
			t.Fatalf("%s received %v, want 300", d.Key(), got)
		}
	}
	if got := deck.Volume(sources[0]); got != 400 {
		t.Fatalf("first vessel left with %v, want 400", got)
	}
	if got := deck.Volume(sources[1]); got != 400 {
		t.Fatalf("second vessel left with %v, want 400", got)
	}

	var aspirated []string
	for _, c := range deck.Commands() {
		if c.Op == simulator.OpAspirate {
			aspirated = append(aspirated, c.Location.Well)
		}
	}
	if diff := cmp.Diff([]string{"A1", "A1", "A2", "A2"}, aspirated); diff != "" {
		t.Fatalf("unexpected aspirate sources (-want +got):\n%s", diff)
	}

	counts := simulator.Counts(deck.Commands())
	want := map[simulator.Op]int{
		simulator.OpPickUpTip: 1,
		simulator.OpAspirate:  4,
		simulator.OpAirGap:    4,
		simulator.OpDispense:  4,
		simulator.OpBlowOut:   4,
		simulator.OpDropTip:   1,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("unexpected command counts (-want +got):\n%s", diff)
	}
}

func TestDistributeDispensesLiquidPlusAirGapAtTop(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	pip := deck.Pipette("p300", 300, simulator.Rack("tips", 12))
	dest := labware.At("mag_plate", "A1")

	_, err := allocator.New(allocator.DefaultOptions()).Distribute(ctx, pip, allocator.Request{
		Destinations:  []labware.Location{dest},
		Volume:        100,
		Sources:       vessels(1),
		NominalVolume: 1000,
	})
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	for _, c := range deck.Commands() {
		if c.Op != simulator.OpDispense {
			continue
		}
		if c.Volume != 110 {
			t.Fatalf("dispense volume = %v, want 110", c.Volume)
		}
		if c.Location != dest.Top(0) {
			t.Fatalf("dispense location = %v, want %v", c.Location, dest.Top(0))
		}
	}
}

func TestPlanAtFullCapacitySplitsAndRotatesMidDestination(t *testing.T) {
	// 300 µL does not fit under 300 - 10 headroom, so each destination takes
	// two 150 µL draws and the vessel rotates between the two for destination 3.
	req := allocator.Request{
		Destinations:  plate(4),
		Volume:        300,
		Sources:       vessels(2),
		NominalVolume: 1000,
	}
	plan, err := allocator.NewPlan(req, 300, scenarioOneOptions())
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.ChunkCount != 2 || plan.ChunkVolume != 150 || len(plan.Transfers) != 8 {
		t.Fatalf("chunking = %d x %v over %d transfers, want 2 x 150 over 8", plan.ChunkCount, plan.ChunkVolume, len(plan.Transfers))
	}
	type point struct{ Destination, SubTransfer int }
	var rotatedAt []point
	for _, tr := range plan.Transfers {
		if tr.Rotated {
			rotatedAt = append(rotatedAt, point{tr.Destination, tr.SubTransfer})
		}
	}
	if diff := cmp.Diff([]point{{2, 1}}, rotatedAt); diff != "" {
		t.Fatalf("unexpected rotation points (-want +got):\n%s", diff)
	}
	if plan.Transfers[4].Remaining != 250 {
		t.Fatalf("remaining before rotation = %v, want 250", plan.Transfers[4].Remaining)
	}
	if plan.Final.Remaining != 550 {
		t.Fatalf("final remaining = %v, want 550", plan.Final.Remaining)
	}
	if diff := cmp.Diff(req.Sources[1:], plan.Final.Sources); diff != "" {
		t.Fatalf("unexpected final queue (-want +got):\n%s", diff)
	}
}

func TestPlanThroughMatchesPartialState(t *testing.T) {
	req := allocator.Request{
		Destinations:  plate(4),
		Volume:        300,
		Sources:       vessels(2),
		NominalVolume: 1000,
	}
	plan, err := allocator.NewPlan(req, 300, scenarioOneOptions())
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	tests := []struct {
		name      string
		state     allocator.State
		transfers int
		rotations int
	}{
		{name: "nothing drawn", state: plan.Initial, transfers: 0, rotations: 0},
		{name: "three draws", state: allocator.State{Remaining: 550, Sources: req.Sources}, transfers: 3, rotations: 0},
		{name: "rotated before failed draw", state: allocator.State{Remaining: 1000, Sources: req.Sources[1:]}, transfers: 5, rotations: 1},
		{name: "complete", state: plan.Final, transfers: 8, rotations: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := plan.Through(tt.state)
			if len(got.Transfers) != tt.transfers || got.Rotations != tt.rotations {
				t.Fatalf("Through = %d transfers, %d rotations; want %d, %d", len(got.Transfers), got.Rotations, tt.transfers, tt.rotations)
			}
			if diff := cmp.Diff(tt.state, got.Final); diff != "" {
				t.Fatalf("unexpected final state (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlanTwelveDestinationsNeedsFourVessels(t *testing.T) {
	opts := allocator.DefaultOptions()
	req := allocator.Request{
		Destinations:  plate(12),
		Volume:        500,
		Sources:       vessels(4),
		NominalVolume: 1750,
	}

	plan, err := allocator.NewPlan(req, 300, opts)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.ChunkCount != 2 || plan.ChunkVolume != 250 {
		t.Fatalf("chunking = %d x %v, want 2 x 250", plan.ChunkCount, plan.ChunkVolume)
	}
	if plan.Rotations != 3 {
		t.Fatalf("rotations = %d, want 3", plan.Rotations)
	}

	var rotatedAt []int
	perDest := make(map[int]float64)
	for _, tr := range plan.Transfers {
		if tr.Rotated {
			if tr.SubTransfer != 0 {
				t.Fatalf("rotation at sub-transfer %d of destination %d", tr.SubTransfer, tr.Destination)
			}
			rotatedAt = append(rotatedAt, tr.Destination)
		}
		if tr.Volume > 300-opts.Headroom {
			t.Fatalf("sub-transfer %v exceeds usable capacity", tr.Volume)
		}
		perDest[tr.Destination] += tr.Volume
	}
	if diff := cmp.Diff([]int{3, 6, 9}, rotatedAt); diff != "" {
		t.Fatalf("unexpected rotation points (-want +got):\n%s", diff)
	}
	for d := range req.Destinations {
		if math.Abs(perDest[d]-500) > 1e-9 {
			t.Fatalf("destination %d receives %v, want 500", d, perDest[d])
		}
	}

	total := 0.0
	for _, v := range plan.Drawn() {
		total += v
	}
	if math.Abs(total-6000) > 1e-9 {
		t.Fatalf("total drawn = %v, want 6000", total)
	}
	if plan.Final.Remaining != 250 {
		t.Fatalf("final remaining = %v, want 250", plan.Final.Remaining)
	}
	if diff := cmp.Diff(req.Sources[3:], plan.Final.Sources); diff != "" {
		t.Fatalf("unexpected final queue (-want +got):\n%s", diff)
	}
}

func TestPlanTwelveDestinationsExhaustsTwoVessels(t *testing.T) {
	req := allocator.Request{
		Destinations:  plate(12),
		Volume:        500,
		Sources:       vessels(2),
		NominalVolume: 1750,
	}
	_, err := allocator.NewPlan(req, 300, allocator.DefaultOptions())
	if !errors.Is(err, allocator.ErrVesselExhausted) {
		t.Fatalf("expected ErrVesselExhausted, got %v", err)
	}
	var terr *allocator.TransferError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransferError, got %T", err)
	}
	if terr.Destination != 6 || terr.SubTransfer != 0 {
		t.Fatalf("exhausted at destination %d sub-transfer %d, want 6/0", terr.Destination, terr.SubTransfer)
	}
	if terr.Vessel != req.Sources[1] {
		t.Fatalf("exhausted vessel = %v, want %v", terr.Vessel, req.Sources[1])
	}
}

func TestDistributeExhaustionMovesNoLiquid(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	pip := deck.Pipette("p300", 310, simulator.Rack("tips", 12))
	sources := vessels(1)

	state, err := allocator.New(scenarioOneOptions()).Distribute(ctx, pip, allocator.Request{
		Destinations:  plate(1),
		Volume:        300,
		Sources:       sources,
		NominalVolume: 50,
	})
	if !errors.Is(err, allocator.ErrVesselExhausted) {
		t.Fatalf("expected ErrVesselExhausted, got %v", err)
	}
	if n := len(deck.Commands()); n != 0 {
		t.Fatalf("expected no device commands, got %d", n)
	}
	if state.Remaining != 50 || len(state.Sources) != 1 {
		t.Fatalf("unexpected state after exhaustion: %+v", state)
	}
}

func TestPlanRejectsVesselTooSmallForChunk(t *testing.T) {
	_, err := allocator.NewPlan(allocator.Request{
		Destinations:  plate(1),
		Volume:        300,
		Sources:       vessels(3),
		NominalVolume: 50,
	}, 310, scenarioOneOptions())
	if !errors.Is(err, allocator.ErrVesselExhausted) {
		t.Fatalf("expected ErrVesselExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "cannot supply") {
		t.Fatalf("error %q does not explain the nominal volume", err)
	}
}

func TestPlanValidatesRequest(t *testing.T) {
	base := allocator.Request{
		Destinations:  plate(1),
		Volume:        100,
		Sources:       vessels(1),
		NominalVolume: 1000,
	}
	negative := -1.0
	nan := math.NaN()
	tests := []struct {
		name   string
		mutate func(*allocator.Request, *allocator.Options)
		want   error
	}{
		{name: "no destinations", mutate: func(r *allocator.Request, _ *allocator.Options) { r.Destinations = nil }, want: allocator.ErrInvalidRequest},
		{name: "no sources", mutate: func(r *allocator.Request, _ *allocator.Options) { r.Sources = nil }, want: allocator.ErrInvalidRequest},
		{name: "zero nominal", mutate: func(r *allocator.Request, _ *allocator.Options) { r.NominalVolume = 0 }, want: allocator.ErrInvalidRequest},
		{name: "negative remaining", mutate: func(r *allocator.Request, _ *allocator.Options) { r.Remaining = &negative }, want: allocator.ErrInvalidRequest},
		{name: "zero volume", mutate: func(r *allocator.Request, _ *allocator.Options) { r.Volume = 0 }, want: allocator.ErrInvalidRequest},
		{name: "air gap beyond headroom", mutate: func(_ *allocator.Request, o *allocator.Options) { o.AirGap = 20 }, want: allocator.ErrInvalidRequest},
		{name: "headroom swallows tip", mutate: func(_ *allocator.Request, o *allocator.Options) { o.Headroom = 300; o.AirGap = 0 }, want: allocator.ErrVolumeUnderflow},
		{name: "nan nominal", mutate: func(r *allocator.Request, _ *allocator.Options) { r.NominalVolume = nan }, want: allocator.ErrInvalidRequest},
		{name: "infinite nominal", mutate: func(r *allocator.Request, _ *allocator.Options) { r.NominalVolume = math.Inf(1) }, want: allocator.ErrInvalidRequest},
		{name: "nan remaining", mutate: func(r *allocator.Request, _ *allocator.Options) { r.Remaining = &nan }, want: allocator.ErrInvalidRequest},
		{name: "nan headroom", mutate: func(_ *allocator.Request, o *allocator.Options) { o.Headroom = nan }, want: allocator.ErrInvalidRequest},
		{name: "nan air gap", mutate: func(_ *allocator.Request, o *allocator.Options) { o.AirGap = nan }, want: allocator.ErrInvalidRequest},
		{name: "nan dead volume", mutate: func(_ *allocator.Request, o *allocator.Options) { o.Margin.Volume = nan }, want: allocator.ErrInvalidRequest},
		{name: "nan dead fraction", mutate: func(_ *allocator.Request, o *allocator.Options) { o.Margin.Fraction = nan }, want: allocator.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			opts := allocator.DefaultOptions()
			tt.mutate(&req, &opts)
			if _, err := allocator.NewPlan(req, 300, opts); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPlanIsDeterministicAndLeavesInputsAlone(t *testing.T) {
	sources := vessels(4)
	original := append([]labware.Location(nil), sources...)
	req := allocator.Request{
		Destinations:  plate(12),
		Volume:        500,
		Sources:       sources,
		NominalVolume: 1750,
	}

	first, err := allocator.NewPlan(req, 300, allocator.DefaultOptions())
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	second, err := allocator.NewPlan(req, 300, allocator.DefaultOptions())
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("plans differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(original, sources); diff != "" {
		t.Fatalf("caller's sources mutated (-want +got):\n%s", diff)
	}

	_ = append(first.Final.Sources, labware.At("reservoir", "Z9"))
	if diff := cmp.Diff(original, sources); diff != "" {
		t.Fatalf("appending to the returned queue mutated the caller's sources (-want +got):\n%s", diff)
	}

	prev := len(req.Sources)
	queue := len(req.Sources)
	for _, tr := range first.Transfers {
		if tr.Rotated {
			queue--
		}
		if queue > prev {
			t.Fatalf("source queue grew at destination %d", tr.Destination)
		}
		prev = queue
	}
}

func TestDistributeChainsState(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	sources := vessels(2)
	for _, v := range sources {
		deck.Fill(v, 1000)
	}
	pip := deck.Pipette("p300", 310, simulator.Rack("tips", 12))
	alloc := allocator.New(scenarioOneOptions())

	state, err := alloc.Distribute(ctx, pip, allocator.Request{
		Destinations:  plate(2),
		Volume:        300,
		Sources:       sources,
		NominalVolume: 1000,
	})
	if err != nil {
		t.Fatalf("first Distribute: %v", err)
	}
	if state.Remaining != 400 || len(state.Sources) != 2 {
		t.Fatalf("unexpected state after first call: %+v", state)
	}

	state, err = alloc.Distribute(ctx, pip, allocator.Request{
		Destinations:  labware.Wells("mag_plate", []string{"A3", "A4"}),
		Volume:        300,
		Sources:       state.Sources,
		NominalVolume: 1000,
		Remaining:     state.Resume(),
	})
	if err != nil {
		t.Fatalf("second Distribute: %v", err)
	}
	if state.Remaining != 400 {
		t.Fatalf("remaining = %v, want 400", state.Remaining)
	}
	head, ok := state.Head()
	if !ok || head != sources[1] {
		t.Fatalf("head = %v, want %v", head, sources[1])
	}
}

func TestDistributeReportsPartialStateOnFault(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	sources := vessels(2)
	deck.Fill(sources[0], 300)
	deck.Fill(sources[1], 1000)
	pip := deck.Pipette("p300", 310, simulator.Rack("tips", 12))

	state, err := allocator.New(scenarioOneOptions()).Distribute(ctx, pip, allocator.Request{
		Destinations:  plate(4),
		Volume:        300,
		Sources:       sources,
		NominalVolume: 1000,
	})
	if !errors.Is(err, device.ErrInsufficient) {
		t.Fatalf("expected ErrInsufficient, got %v", err)
	}
	if !device.IsFault(err) {
		t.Fatalf("expected a device fault, got %v", err)
	}
	var terr *allocator.TransferError
	if !errors.As(err, &terr) || terr.Destination != 1 || terr.SubTransfer != 0 {
		t.Fatalf("expected failure at destination 1, got %v", err)
	}
	if state.Remaining != 700 || len(state.Sources) != 2 {
		t.Fatalf("unexpected partial state: %+v", state)
	}
	if !pip.HasTip() {
		t.Fatalf("tip should remain attached after a fault")
	}
}

func TestDistributeReturnsTip(t *testing.T) {
	ctx := context.Background()
	deck := simulator.NewDeck()
	pip := deck.Pipette("p300", 300, simulator.Rack("tips", 12))
	opts := allocator.DefaultOptions()
	opts.ReturnTip = true
	opts.BlowOut = false
	slot := labware.At("tips", "A5")

	_, err := allocator.New(opts).Distribute(ctx, pip, allocator.Request{
		Destinations:  plate(2),
		Volume:        50,
		Sources:       vessels(1),
		NominalVolume: 1000,
		Tip:           &slot,
	})
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	cmds := deck.Commands()
	if cmds[0].Op != simulator.OpPickUpTip || cmds[0].Location != slot {
		t.Fatalf("first command = %+v, want pick up from %v", cmds[0], slot)
	}
	if last := cmds[len(cmds)-1]; last.Op != simulator.OpReturnTip {
		t.Fatalf("last command = %v, want return_tip", last.Op)
	}
	if n := simulator.Counts(cmds)[simulator.OpBlowOut]; n != 0 {
		t.Fatalf("blow out disabled but recorded %d times", n)
	}
}

func TestDistributeLogsRotation(t *testing.T) {
	var buf bytes.Buffer
	opts := scenarioOneOptions()
	opts.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	deck := simulator.NewDeck()
	pip := deck.Pipette("p300", 310, simulator.Rack("tips", 12))
	_, err := allocator.New(opts).Distribute(context.Background(), pip, allocator.Request{
		Destinations:  plate(3),
		Volume:        300,
		Sources:       vessels(2),
		NominalVolume: 1000,
	})
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"msg":"rotating source vessel"`, `"vessel":"reservoir/A1"`, `"next_vessel":"reservoir/A2"`, `"remaining":400`, `"component":"allocator"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s:\n%s", want, out)
		}
	}
}
