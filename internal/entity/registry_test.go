package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thornvale/server/internal/core/actor"
)

type noopBehavior struct{}

func (noopBehavior) Init(context.Context, *actor.Ref) error { return nil }

func (noopBehavior) Receive(context.Context, any) (any, error) { return nil, nil }

func (noopBehavior) TickInterval() time.Duration { return 0 }

func (noopBehavior) Terminate(error) {}

func spawnNoop(t *testing.T, ctx context.Context, id string) *actor.Ref {
	t.Helper()
	ref, err := actor.Spawn(ctx, id, noopBehavior{})
	if err != nil {
		t.Fatalf("spawn %s: %v", id, err)
	}
	t.Cleanup(func() { ref.Stop(context.Background()) })
	return ref
}

func startRegistry(t *testing.T, ctx context.Context, opts RegistryOptions) *Registry {
	t.Helper()
	reg, err := StartRegistry(ctx, nil, opts)
	if err != nil {
		t.Fatalf("start registry: %v", err)
	}
	t.Cleanup(func() { reg.Stop(context.Background()) })
	return reg
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func ids(recs []Record) map[string]bool {
	out := make(map[string]bool, len(recs))
	for _, r := range recs {
		out[r.ID] = true
	}
	return out
}

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})
	ref := spawnNoop(t, ctx, "ent_1")

	err := reg.Register(ctx, Record{
		ID:         "ent_1",
		Handle:     ref,
		Type:       TypeNPC,
		Zone:       "verdant_hollow",
		Room:       "clearing",
		Components: []Kind{KindHealth, KindMana},
		Status:     StatusActive,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	rec, err := reg.Get(ctx, "ent_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Type != TypeNPC || rec.Zone != "verdant_hollow" || rec.Room != "clearing" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.LastSeen.IsZero() {
		t.Fatal("last_seen not stamped on register")
	}

	h, err := reg.Handle(ctx, "ent_1")
	if err != nil || h != ref {
		t.Fatalf("handle = %v, %v; want the spawned ref", h, err)
	}

	for name, q := range map[string]func() ([]Record, error){
		"by_type":      func() ([]Record, error) { return reg.ByType(ctx, TypeNPC) },
		"by_zone":      func() ([]Record, error) { return reg.ByZone(ctx, "verdant_hollow") },
		"by_room":      func() ([]Record, error) { return reg.ByRoom(ctx, "clearing") },
		"by_component": func() ([]Record, error) { return reg.ByComponent(ctx, KindMana) },
	} {
		recs, err := q()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !ids(recs)["ent_1"] {
			t.Fatalf("%s missing ent_1: %v", name, recs)
		}
	}

	if _, err := reg.Get(ctx, "ent_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get unknown: err = %v, want ErrNotFound", err)
	}
}

func TestRegisterDuplicateKeepsFirst(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})
	ref := spawnNoop(t, ctx, "ent_1")

	first := Record{ID: "ent_1", Handle: ref, Type: TypePlayer, Zone: "a", Room: "r"}
	if err := reg.Register(ctx, first); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := reg.Register(ctx, Record{ID: "ent_1", Handle: ref, Type: TypeMob, Zone: "b", Room: "s"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate register: err = %v, want ErrAlreadyExists", err)
	}

	rec, err := reg.Get(ctx, "ent_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Type != TypePlayer || rec.Zone != "a" {
		t.Fatalf("first registration lost: %+v", rec)
	}
}

func TestUnregisterScrubsAllIndexes(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})
	ref := spawnNoop(t, ctx, "ent_1")

	rec := Record{
		ID: "ent_1", Handle: ref, Type: TypeItem,
		Zone: "z", Room: "r", Components: []Kind{KindHealth},
	}
	if err := reg.Register(ctx, rec); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Unregister(ctx, "ent_1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	if _, err := reg.Get(ctx, "ent_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after unregister: %v", err)
	}
	for name, q := range map[string]func() ([]Record, error){
		"by_type":      func() ([]Record, error) { return reg.ByType(ctx, TypeItem) },
		"by_zone":      func() ([]Record, error) { return reg.ByZone(ctx, "z") },
		"by_room":      func() ([]Record, error) { return reg.ByRoom(ctx, "r") },
		"by_component": func() ([]Record, error) { return reg.ByComponent(ctx, KindHealth) },
	} {
		recs, err := q()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(recs) != 0 {
			t.Fatalf("%s still lists the entity: %v", name, recs)
		}
	}

	if err := reg.Unregister(ctx, "ent_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second unregister: err = %v, want ErrNotFound", err)
	}
}

func TestZoneChangeRepairsIndex(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})
	ref := spawnNoop(t, ctx, "ent_1")

	if err := reg.Register(ctx, Record{ID: "ent_1", Handle: ref, Type: TypeNPC, Zone: "old_zone", Room: "r"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.UpdateMetadata(ctx, "ent_1", FieldZone, "new_zone"); err != nil {
		t.Fatalf("update zone: %v", err)
	}

	if recs, _ := reg.ByZone(ctx, "old_zone"); len(recs) != 0 {
		t.Fatalf("old zone still lists the entity: %v", recs)
	}
	recs, err := reg.ByZone(ctx, "new_zone")
	if err != nil || !ids(recs)["ent_1"] {
		t.Fatalf("new zone lookup: recs=%v err=%v", recs, err)
	}
	rec, _ := reg.Get(ctx, "ent_1")
	if rec.Zone != "new_zone" {
		t.Fatalf("record zone = %q, want new_zone", rec.Zone)
	}
}

func TestComponentListDeltaRepair(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})
	ref := spawnNoop(t, ctx, "ent_1")

	if err := reg.Register(ctx, Record{
		ID: "ent_1", Handle: ref, Type: TypeNPC, Zone: "z", Room: "r",
		Components: []Kind{KindHealth, KindMana},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.UpdateMetadata(ctx, "ent_1", FieldComponents, []Kind{KindHealth, KindStamina}); err != nil {
		t.Fatalf("update components: %v", err)
	}

	if recs, _ := reg.ByComponent(ctx, KindMana); len(recs) != 0 {
		t.Fatalf("dropped kind still indexed: %v", recs)
	}
	for _, k := range []Kind{KindHealth, KindStamina} {
		recs, err := reg.ByComponent(ctx, k)
		if err != nil || !ids(recs)["ent_1"] {
			t.Fatalf("kind %s lookup: recs=%v err=%v", k, recs, err)
		}
	}
}

func TestUpdateMetadataValidation(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})
	ref := spawnNoop(t, ctx, "ent_1")

	if err := reg.UpdateMetadata(ctx, "ghost", FieldZone, "z"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update unknown entity: err = %v, want ErrNotFound", err)
	}
	if err := reg.Register(ctx, Record{ID: "ent_1", Handle: ref, Type: TypeNPC, Zone: "z", Room: "r"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.UpdateMetadata(ctx, "ent_1", Field("color"), "red"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown field: err = %v, want ErrInvalidInput", err)
	}
	if err := reg.UpdateMetadata(ctx, "ent_1", FieldZone, 42); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("wrong value type: err = %v, want ErrInvalidInput", err)
	}
	if err := reg.UpdateMetadata(ctx, "ent_1", FieldStatus, Status("melted")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad status: err = %v, want ErrInvalidInput", err)
	}
}

func TestStatsCounts(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{})

	for i, spec := range []struct {
		id   string
		typ  Type
		zone string
		room string
	}{
		{"p1", TypePlayer, "town", "gate"},
		{"n1", TypeNPC, "town", "gate"},
		{"n2", TypeNPC, "forest", "grove"},
	} {
		ref := spawnNoop(t, ctx, spec.id)
		err := reg.Register(ctx, Record{ID: spec.id, Handle: ref, Type: spec.typ, Zone: spec.zone, Room: spec.room, Status: StatusActive})
		if err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}

	st, err := reg.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 3 {
		t.Fatalf("total = %d, want 3", st.Total)
	}
	if st.ByType["npc"] != 2 || st.ByType["player"] != 1 {
		t.Fatalf("by_type = %v", st.ByType)
	}
	if st.ByZone["town"] != 2 || st.ByZone["forest"] != 1 {
		t.Fatalf("by_zone = %v", st.ByZone)
	}
	if st.ByRoom["gate"] != 2 || st.ByRoom["grove"] != 1 {
		t.Fatalf("by_room = %v", st.ByRoom)
	}
}

func TestReapDropsDeadHandles(t *testing.T) {
	ctx := context.Background()
	reg := startRegistry(t, ctx, RegistryOptions{SweepInterval: 10 * time.Millisecond})

	alive := spawnNoop(t, ctx, "alive")
	dead := spawnNoop(t, ctx, "dead")
	if err := reg.Register(ctx, Record{ID: "alive", Handle: alive, Type: TypeNPC, Zone: "z", Room: "r"}); err != nil {
		t.Fatalf("register alive: %v", err)
	}
	if err := reg.Register(ctx, Record{ID: "dead", Handle: dead, Type: TypeNPC, Zone: "z", Room: "r"}); err != nil {
		t.Fatalf("register dead: %v", err)
	}
	if err := dead.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	waitUntil(t, func() bool {
		_, err := reg.Get(ctx, "dead")
		return errors.Is(err, ErrNotFound)
	}, "stale record to be reaped")

	if _, err := reg.Get(ctx, "alive"); err != nil {
		t.Fatalf("live record reaped: %v", err)
	}
}
