package world

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thornvale/server/internal/core/actor"
	"go.uber.org/zap"
)

// probeActor is a minimal behavior that records every message it gets.
type probeActor struct {
	got chan any
}

func newProbeActor() *probeActor { return &probeActor{got: make(chan any, 8)} }

func (p *probeActor) Init(ctx context.Context, self *actor.Ref) error { return nil }

func (p *probeActor) Receive(ctx context.Context, msg any) (any, error) {
	select {
	case p.got <- msg:
	default:
	}
	return nil, nil
}

func (p *probeActor) TickInterval() time.Duration { return 0 }

func (p *probeActor) Terminate(reason error) {}

func startTestRegistry(t *testing.T) (context.Context, *Registry) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg, err := StartRegistry(ctx, zap.NewNop())
	if err != nil {
		t.Fatalf("StartRegistry: %v", err)
	}
	return ctx, reg
}

func spawnProbe(t *testing.T, ctx context.Context, id string) (*actor.Ref, *probeActor) {
	t.Helper()
	p := newProbeActor()
	ref, err := actor.Spawn(ctx, id, p)
	if err != nil {
		t.Fatalf("Spawn %s: %v", id, err)
	}
	return ref, p
}

func waitMsg(t *testing.T, ch chan any) any {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no message delivered")
		return nil
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	ctx, reg := startTestRegistry(t)
	ref, _ := spawnProbe(t, ctx, "ground_meadow")

	rec := LayerRecord{
		Layer:    LayerGround,
		Zone:     "meadow",
		Handle:   ref,
		Metadata: map[string]any{"width": 10},
	}
	if err := reg.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := reg.Lookup(ctx, LayerGround, "meadow")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Handle != ref || got.Zone != "meadow" || got.Layer != LayerGround {
		t.Fatalf("Lookup returned %+v", got)
	}

	// Returned metadata is a copy; mutating it must not leak back.
	got.Metadata["width"] = 99
	again, err := reg.Lookup(ctx, LayerGround, "meadow")
	if err != nil {
		t.Fatalf("second Lookup: %v", err)
	}
	if again.Metadata["width"] != 10 {
		t.Fatalf("metadata aliased: %v", again.Metadata)
	}

	if _, err := reg.Lookup(ctx, LayerDoors, "meadow"); !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("unknown layer lookup: got %v, want ErrLayerNotFound", err)
	}
}

func TestRegistryRejectsDuplicateLiveRegistration(t *testing.T) {
	ctx, reg := startTestRegistry(t)
	ref1, _ := spawnProbe(t, ctx, "plants_a")
	ref2, _ := spawnProbe(t, ctx, "plants_b")

	if err := reg.Register(ctx, LayerRecord{Layer: LayerPlants, Zone: "meadow", Handle: ref1}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := reg.Register(ctx, LayerRecord{Layer: LayerPlants, Zone: "meadow", Handle: ref2})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate Register: got %v, want ErrAlreadyExists", err)
	}
}

func TestRegistryReplacesDeadHandle(t *testing.T) {
	ctx, reg := startTestRegistry(t)
	ref1, _ := spawnProbe(t, ctx, "doors_old")
	ref2, _ := spawnProbe(t, ctx, "doors_new")

	if err := reg.Register(ctx, LayerRecord{Layer: LayerDoors, Zone: "keep", Handle: ref1}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Simulate a crash whose unregister never landed.
	if err := ref1.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := reg.Register(ctx, LayerRecord{Layer: LayerDoors, Zone: "keep", Handle: ref2}); err != nil {
		t.Fatalf("Register over dead handle: %v", err)
	}
	got, err := reg.Lookup(ctx, LayerDoors, "keep")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Handle != ref2 {
		t.Fatalf("lookup returned the dead handle")
	}
}

func TestRegistryUnregister(t *testing.T) {
	ctx, reg := startTestRegistry(t)
	ref, _ := spawnProbe(t, ctx, "ground_hollow")

	if err := reg.Register(ctx, LayerRecord{Layer: LayerGround, Zone: "hollow", Handle: ref}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Unregister(ctx, LayerGround, "hollow"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := reg.Lookup(ctx, LayerGround, "hollow"); !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("lookup after unregister: got %v", err)
	}
	if err := reg.Unregister(ctx, LayerGround, "hollow"); !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("double unregister: got %v, want ErrLayerNotFound", err)
	}
}

func TestRegistryUpdateMetadataRejectsStaleHandle(t *testing.T) {
	ctx, reg := startTestRegistry(t)
	ref1, _ := spawnProbe(t, ctx, "atmo_live")
	ref2, _ := spawnProbe(t, ctx, "atmo_stale")

	rec := LayerRecord{
		Layer:    LayerAtmosphere,
		Zone:     "meadow",
		Handle:   ref1,
		Metadata: map[string]any{"width": 10},
	}
	if err := reg.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.UpdateMetadata(ctx, LayerAtmosphere, "meadow", ref1, map[string]any{"weather": "rain"}); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	got, err := reg.Lookup(ctx, LayerAtmosphere, "meadow")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Metadata["weather"] != "rain" || got.Metadata["width"] != 10 {
		t.Fatalf("metadata not merged: %v", got.Metadata)
	}

	err = reg.UpdateMetadata(ctx, LayerAtmosphere, "meadow", ref2, map[string]any{"weather": "storm"})
	if !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("stale handle update: got %v, want ErrLayerNotFound", err)
	}
	got, _ = reg.Lookup(ctx, LayerAtmosphere, "meadow")
	if got.Metadata["weather"] != "rain" {
		t.Fatalf("stale writer clobbered metadata: %v", got.Metadata)
	}
}

func TestRegistryViewsAndCounts(t *testing.T) {
	ctx, reg := startTestRegistry(t)
	groundMeadow, _ := spawnProbe(t, ctx, "v_ground_meadow")
	atmoMeadow, _ := spawnProbe(t, ctx, "v_atmo_meadow")
	groundRidge, _ := spawnProbe(t, ctx, "v_ground_ridge")

	for _, rec := range []LayerRecord{
		{Layer: LayerAtmosphere, Zone: "meadow", Handle: atmoMeadow},
		{Layer: LayerGround, Zone: "ridge", Handle: groundRidge},
		{Layer: LayerGround, Zone: "meadow", Handle: groundMeadow},
	} {
		if err := reg.Register(ctx, rec); err != nil {
			t.Fatalf("Register %s/%s: %v", rec.Zone, rec.Layer, err)
		}
	}

	inMeadow, err := reg.LayersForZone(ctx, "meadow")
	if err != nil {
		t.Fatalf("LayersForZone: %v", err)
	}
	if len(inMeadow) != 2 || inMeadow[0].Layer != LayerGround || inMeadow[1].Layer != LayerAtmosphere {
		t.Fatalf("meadow layers out of render order: %+v", inMeadow)
	}

	grounds, err := reg.ZonesForLayer(ctx, LayerGround)
	if err != nil {
		t.Fatalf("ZonesForLayer: %v", err)
	}
	if len(grounds) != 2 || grounds[0].Zone != "meadow" || grounds[1].Zone != "ridge" {
		t.Fatalf("ground zones: %+v", grounds)
	}

	counts, err := reg.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Total != 3 || counts.ByZone["meadow"] != 2 || counts.ByZone["ridge"] != 1 {
		t.Fatalf("counts = %+v", counts)
	}
	if counts.ByLayer[LayerGround] != 2 || counts.ByLayer[LayerAtmosphere] != 1 {
		t.Fatalf("layer counts = %+v", counts.ByLayer)
	}
}

func TestRegistryBroadcastSkipsDeadHandles(t *testing.T) {
	ctx, reg := startTestRegistry(t)
	refA, probeA := spawnProbe(t, ctx, "b_ground_meadow")
	refB, probeB := spawnProbe(t, ctx, "b_plants_meadow")
	refC, probeC := spawnProbe(t, ctx, "b_ground_ridge")

	for _, rec := range []LayerRecord{
		{Layer: LayerGround, Zone: "meadow", Handle: refA},
		{Layer: LayerPlants, Zone: "meadow", Handle: refB},
		{Layer: LayerGround, Zone: "ridge", Handle: refC},
	} {
		if err := reg.Register(ctx, rec); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	n, err := reg.BroadcastToZone(ctx, "meadow", "ping")
	if err != nil {
		t.Fatalf("BroadcastToZone: %v", err)
	}
	if n != 2 {
		t.Fatalf("delivered %d, want 2", n)
	}
	if got := waitMsg(t, probeA.got); got != "ping" {
		t.Fatalf("probeA got %v", got)
	}
	if got := waitMsg(t, probeB.got); got != "ping" {
		t.Fatalf("probeB got %v", got)
	}

	if err := refC.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	n, err = reg.Broadcast(ctx, "pong")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if n != 2 {
		t.Fatalf("broadcast to all delivered %d, want 2 live", n)
	}
	select {
	case m := <-probeC.got:
		t.Fatalf("dead probe received %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
