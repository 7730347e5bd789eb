package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SpawnComponent is one component grant in a spawn entry.
type SpawnComponent struct {
	Kind      string `yaml:"kind"`
	Current   int    `yaml:"current"`
	Max       int    `yaml:"max"`
	RegenRate int    `yaml:"regen_rate"`
}

// SpawnEntry describes one entity the server brings up at boot.
type SpawnEntry struct {
	ID         string           `yaml:"id"`
	Type       string           `yaml:"type"`
	Zone       string           `yaml:"zone"`
	Room       string           `yaml:"room"`
	X          int              `yaml:"x"`
	Y          int              `yaml:"y"`
	Components []SpawnComponent `yaml:"components"`
}

// SpawnTable holds the boot spawn list in file order with id lookup.
type SpawnTable struct {
	entries []SpawnEntry
	byID    map[string]*SpawnEntry
}

// LoadSpawnTable loads a spawn list YAML file.
func LoadSpawnTable(path string) (*SpawnTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn list: %w", err)
	}
	var entries []SpawnEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse spawn list: %w", err)
	}
	t := &SpawnTable{
		entries: entries,
		byID:    make(map[string]*SpawnEntry, len(entries)),
	}
	for i := range entries {
		e := &entries[i]
		t.byID[e.ID] = e
	}
	return t, nil
}

// All returns the entries in file order.
func (t *SpawnTable) All() []SpawnEntry {
	return t.entries
}

// Get returns the entry with the given id, or nil if none.
func (t *SpawnTable) Get(id string) *SpawnEntry {
	return t.byID[id]
}

// Count returns the number of spawn entries loaded.
func (t *SpawnTable) Count() int {
	return len(t.entries)
}
