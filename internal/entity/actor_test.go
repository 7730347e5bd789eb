package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thornvale/server/internal/core/actor"
	"github.com/thornvale/server/internal/core/tick"
)

func spawnEntity(t *testing.T, ctx context.Context, reg *Registry, cfg Config) Handle {
	t.Helper()
	ref, err := actor.Spawn(ctx, cfg.ID, New(cfg, reg, nil))
	if err != nil {
		t.Fatalf("spawn %s: %v", cfg.ID, err)
	}
	t.Cleanup(func() { ref.Stop(context.Background()) })
	return NewHandle(ref)
}

func TestSpawnRegistersEntity(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	h := spawnEntity(t, ctx, reg, Config{
		ID:       "npc_grove_keeper",
		Type:     TypeNPC,
		Position: Position{Zone: "verdant_hollow", Room: "clearing"},
		Components: map[Kind]Component{
			KindHealth: {Current: 120, Max: 100, RegenRate: 5},
		},
	})

	rec, err := reg.Get(ctx, "npc_grove_keeper")
	if err != nil {
		t.Fatalf("entity not registered: %v", err)
	}
	if rec.Status != StatusActive {
		t.Fatalf("status = %q, want active once setup is done", rec.Status)
	}
	if rec.Zone != "verdant_hollow" || rec.Room != "clearing" {
		t.Fatalf("record position = %q/%q", rec.Zone, rec.Room)
	}

	// Components are normalized on the way in.
	c, err := h.Component(ctx, KindHealth)
	if err != nil {
		t.Fatalf("component: %v", err)
	}
	if c.Current != 100 {
		t.Fatalf("current = %d, want clamped to max 100", c.Current)
	}
}

func TestSpawnDuplicateIdentityFails(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	cfg := Config{ID: "npc_1", Type: TypeNPC, Position: Position{Zone: "z", Room: "r"}}
	spawnEntity(t, ctx, reg, cfg)

	_, err := actor.Spawn(ctx, "npc_1_retry", New(cfg, reg, nil))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second spawn of same identity: err = %v, want ErrAlreadyExists", err)
	}
}

func TestRegenAppliedOnTick(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	h := spawnEntity(t, ctx, reg, Config{
		ID:       "npc_1",
		Type:     TypeNPC,
		Position: Position{Zone: "z", Room: "r"},
		Components: map[Kind]Component{
			KindHealth:  {Current: 80, Max: 100, RegenRate: 15},
			KindStamina: {Current: 50, Max: 50, RegenRate: 10},
			"inventory": {Current: 3, Max: 10, RegenRate: 99},
		},
	})

	now := time.Now()
	h.ApplyTick(tick.Tick{Number: 1, Timestamp: now, Source: "world_manager"})
	h.ApplyTick(tick.Tick{Number: 2, Timestamp: now.Add(time.Second), Source: "world_manager"})

	snap, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := snap.Components[KindHealth].Current; got != 100 {
		t.Fatalf("health after two ticks = %d, want 100 (80 -> 95 -> capped)", got)
	}
	if got := snap.Components[KindStamina].Current; got != 50 {
		t.Fatalf("full stamina moved to %d", got)
	}
	if got := snap.Components["inventory"].Current; got != 3 {
		t.Fatalf("non-resource component regenerated: %d", got)
	}
	if snap.LastTick != 2 {
		t.Fatalf("last_tick = %d, want 2", snap.LastTick)
	}
}

func TestEntityOwnClockRegenerates(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	h := spawnEntity(t, ctx, reg, Config{
		ID:           "npc_1",
		Type:         TypeNPC,
		Position:     Position{Zone: "z", Room: "r"},
		TickInterval: 5 * time.Millisecond,
		Components: map[Kind]Component{
			KindMana: {Current: 0, Max: 30, RegenRate: 10},
		},
	})

	waitUntil(t, func() bool {
		snap, err := h.Snapshot(ctx)
		return err == nil && snap.Components[KindMana].Current == 30
	}, "mana to refill on the entity's own clock")
}

func TestSetPositionMirrorsToRegistry(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	h := spawnEntity(t, ctx, reg, Config{
		ID: "npc_1", Type: TypeNPC,
		Position: Position{Zone: "old_zone", Room: "gate"},
	})

	err := h.SetPosition(ctx, Position{Zone: "new_zone", Room: "square", Coords: &Coords{X: 3, Y: 4}})
	if err != nil {
		t.Fatalf("set position: %v", err)
	}

	if recs, _ := reg.ByZone(ctx, "old_zone"); len(recs) != 0 {
		t.Fatalf("old zone still lists entity: %v", recs)
	}
	recs, err := reg.ByZone(ctx, "new_zone")
	if err != nil || !ids(recs)["npc_1"] {
		t.Fatalf("new zone lookup: %v %v", recs, err)
	}
	if recs, _ := reg.ByRoom(ctx, "square"); !ids(recs)["npc_1"] {
		t.Fatalf("room index not repaired: %v", recs)
	}

	snap, _ := h.Snapshot(ctx)
	if snap.Position.Coords == nil || snap.Position.Coords.X != 3 {
		t.Fatalf("coords lost: %+v", snap.Position)
	}

	if err := h.SetPosition(ctx, Position{Zone: "", Room: "square"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty zone accepted: %v", err)
	}
}

func TestComponentLifecycleThroughHandle(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	h := spawnEntity(t, ctx, reg, Config{
		ID: "npc_1", Type: TypeNPC, Position: Position{Zone: "z", Room: "r"},
	})

	if err := h.AddComponent(ctx, KindMana, Component{Current: 5, Max: 20, RegenRate: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if recs, _ := reg.ByComponent(ctx, KindMana); !ids(recs)["npc_1"] {
		t.Fatalf("component index missing after add: %v", recs)
	}

	if err := h.UpdateComponent(ctx, KindMana, "current", 15); err != nil {
		t.Fatalf("update: %v", err)
	}
	c, err := h.Component(ctx, KindMana)
	if err != nil || c.Current != 15 {
		t.Fatalf("component after update: %+v %v", c, err)
	}

	if err := h.UpdateComponent(ctx, KindHealth, "current", 1); !errors.Is(err, ErrComponentNotFound) {
		t.Fatalf("update absent kind: err = %v, want ErrComponentNotFound", err)
	}
	if err := h.UpdateComponent(ctx, KindMana, "hue", 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown field: err = %v, want ErrInvalidInput", err)
	}
	if _, err := h.Component(ctx, KindStamina); !errors.Is(err, ErrComponentNotFound) {
		t.Fatalf("get absent kind: err = %v, want ErrComponentNotFound", err)
	}

	if err := h.RemoveComponent(ctx, KindMana); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if recs, _ := reg.ByComponent(ctx, KindMana); len(recs) != 0 {
		t.Fatalf("component index stale after remove: %v", recs)
	}
	// Removing again is a quiet no-op.
	if err := h.RemoveComponent(ctx, KindMana); err != nil {
		t.Fatalf("idempotent remove: %v", err)
	}
}

func TestExplicitUpdateMayOverfill(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	h := spawnEntity(t, ctx, reg, Config{
		ID: "npc_1", Type: TypeNPC, Position: Position{Zone: "z", Room: "r"},
		Components: map[Kind]Component{
			KindStamina: {Current: 10, Max: 20, RegenRate: 5},
		},
	})

	if err := h.UpdateComponent(ctx, KindStamina, "current", 50); err != nil {
		t.Fatalf("buff update: %v", err)
	}
	c, err := h.Component(ctx, KindStamina)
	if err != nil || c.Current != 50 {
		t.Fatalf("overfill rejected: %+v %v", c, err)
	}

	// Ticks neither grow nor clamp an overfilled component.
	h.ApplyTick(tick.Tick{Number: 1, Timestamp: time.Now(), Source: "world_manager"})
	c, _ = h.Component(ctx, KindStamina)
	if c.Current != 50 {
		t.Fatalf("tick changed overfilled current to %d", c.Current)
	}
}

func TestStatusChangeMirrorsToRegistry(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	h := spawnEntity(t, ctx, reg, Config{
		ID: "npc_1", Type: TypeNPC, Position: Position{Zone: "z", Room: "r"},
	})
	if err := h.SetStatus(ctx, StatusInactive); err != nil {
		t.Fatalf("set status: %v", err)
	}
	rec, err := reg.Get(ctx, "npc_1")
	if err != nil || rec.Status != StatusInactive {
		t.Fatalf("registry status = %v (%v), want inactive", rec.Status, err)
	}
	if err := h.SetStatus(ctx, Status("melting")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad status accepted: %v", err)
	}
}

func TestTerminateUnregisters(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	h := spawnEntity(t, ctx, reg, Config{
		ID: "npc_1", Type: TypeNPC, Position: Position{Zone: "z", Room: "r"},
	})
	if err := h.Ref().Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := reg.Get(ctx, "npc_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record survived termination: err = %v", err)
	}
}

func TestPumpFansTicksOut(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	handles := make([]Handle, 0, 2)
	for _, id := range []string{"npc_1", "npc_2"} {
		handles = append(handles, spawnEntity(t, ctx, reg, Config{
			ID: id, Type: TypeNPC, Position: Position{Zone: "z", Room: "r"},
			Components: map[Kind]Component{KindHealth: {Current: 10, Max: 100, RegenRate: 7}},
		}))
	}

	pump := NewPump(reg, nil)
	pump.Broadcast(tick.Tick{Number: 9, Timestamp: time.Now(), Source: "world_manager"})

	for _, h := range handles {
		snap, err := h.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot %s: %v", h.ID(), err)
		}
		if snap.Components[KindHealth].Current != 17 {
			t.Fatalf("%s health = %d, want 17", h.ID(), snap.Components[KindHealth].Current)
		}
		if snap.LastTick != 9 {
			t.Fatalf("%s last_tick = %d, want 9", h.ID(), snap.LastTick)
		}
	}
}
