// Package entity implements the living things of the simulation: one
// actor per entity, a registry actor indexing them all, and a spawner
// that supervises them by type.
package entity

import (
	"errors"
	"time"
)

var (
	// ErrNotFound covers lookups of unknown entities.
	ErrNotFound = errors.New("entity not found")
	// ErrAlreadyExists is returned when an identity is registered twice.
	ErrAlreadyExists = errors.New("entity already registered")
	// ErrComponentNotFound is returned for operations on a component
	// the entity does not carry.
	ErrComponentNotFound = errors.New("component not found")
	// ErrInvalidInput flags malformed ids, types, fields or values.
	ErrInvalidInput = errors.New("invalid input")
)

// Type buckets entities for supervision and queries.
type Type string

const (
	TypePlayer Type = "player"
	TypeNPC    Type = "npc"
	TypeMob    Type = "mob"
	TypeItem   Type = "item"
)

// Valid reports whether t is one of the known entity types.
func (t Type) Valid() bool {
	switch t {
	case TypePlayer, TypeNPC, TypeMob, TypeItem:
		return true
	}
	return false
}

// Status is the lifecycle state of an entity.
type Status string

const (
	StatusSpawning   Status = "spawning"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusDespawning Status = "despawning"
	StatusDead       Status = "dead"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSpawning, StatusActive, StatusInactive, StatusDespawning, StatusDead:
		return true
	}
	return false
}

// Coords is an optional fine-grained position inside a room.
type Coords struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Position locates an entity in the world. Zone and Room are logical
// names; Coords is nil for entities that only occupy a room.
type Position struct {
	Zone   string  `json:"zone" yaml:"zone"`
	Room   string  `json:"room" yaml:"room"`
	Coords *Coords `json:"coords,omitempty" yaml:"coords,omitempty"`
}

// Entity is the state owned by one entity actor. Only that actor's
// goroutine touches it.
type Entity struct {
	ID         string
	Type       Type
	Components map[Kind]*Component
	Position   Position
	Status     Status
	CreatedAt  time.Time
	LastTick   uint64
}

// Kinds returns the component kinds currently in the bag, unordered.
func (e *Entity) Kinds() []Kind {
	out := make([]Kind, 0, len(e.Components))
	for k := range e.Components {
		out = append(out, k)
	}
	return out
}

// Snapshot is a deep copy of an entity's state, safe to hand across
// goroutines.
type Snapshot struct {
	ID         string             `json:"id"`
	Type       Type               `json:"type"`
	Components map[Kind]Component `json:"components"`
	Position   Position           `json:"position"`
	Status     Status             `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	LastTick   uint64             `json:"last_tick"`
}

// Snapshot copies the entity by value, including its component bag.
func (e *Entity) Snapshot() Snapshot {
	comps := make(map[Kind]Component, len(e.Components))
	for k, c := range e.Components {
		comps[k] = *c
	}
	pos := e.Position
	if e.Position.Coords != nil {
		c := *e.Position.Coords
		pos.Coords = &c
	}
	return Snapshot{
		ID:         e.ID,
		Type:       e.Type,
		Components: comps,
		Position:   pos,
		Status:     e.Status,
		CreatedAt:  e.CreatedAt,
		LastTick:   e.LastTick,
	}
}
