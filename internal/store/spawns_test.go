package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSpawnTable(t *testing.T) {
	raw := `
- id: shopkeeper
  type: npc
  zone: meadow
  room: market
  x: 3
  y: 4
  components:
    - kind: health
      current: 40
      max: 40
      regen_rate: 2
- id: rat-1
  type: monster
  zone: crypt
  room: cellar
  x: 1
  y: 1
`
	path := filepath.Join(t.TempDir(), "spawns.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write spawn fixture: %v", err)
	}

	tbl, err := LoadSpawnTable(path)
	if err != nil {
		t.Fatalf("LoadSpawnTable: %v", err)
	}
	if tbl.Count() != 2 {
		t.Fatalf("Count = %d, want 2", tbl.Count())
	}
	if all := tbl.All(); all[0].ID != "shopkeeper" || all[1].ID != "rat-1" {
		t.Fatalf("file order not kept: %v, %v", all[0].ID, all[1].ID)
	}

	e := tbl.Get("shopkeeper")
	if e == nil || e.Zone != "meadow" || e.Room != "market" {
		t.Fatalf("Get(shopkeeper) = %+v", e)
	}
	if len(e.Components) != 1 || e.Components[0].Kind != "health" || e.Components[0].RegenRate != 2 {
		t.Fatalf("components = %+v", e.Components)
	}
	if tbl.Get("nobody") != nil {
		t.Fatal("Get of unknown id should be nil")
	}
}

func TestLoadSpawnTableMissingFile(t *testing.T) {
	if _, err := LoadSpawnTable(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing spawn file")
	}
}
