// Package world runs the spatial side of the simulation: one actor per
// (layer, zone) pair owning a character grid plus that layer's
// entities and connections, a registry indexing the live layer actors,
// and a manager that creates zones and fans the global tick out.
package world

import (
	"errors"
	"time"
)

var (
	// ErrZoneNotFound means no layer actor is registered for the zone.
	ErrZoneNotFound = errors.New("zone not found")
	// ErrLayerNotFound means the (layer, zone) pair has no live actor.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrEntityNotFound means the layer holds no entity with that id.
	ErrEntityNotFound = errors.New("layer entity not found")
	// ErrAlreadyExists means a duplicate id or (layer, zone) registration.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConnectionConflict means a connection already occupies the
	// source or target point.
	ErrConnectionConflict = errors.New("connection conflict")
	// ErrConnectionNotFound means no connection leaves the named point.
	ErrConnectionNotFound = errors.New("connection not found")
)

// LayerName identifies one of the fixed spatial dimensions of a zone.
type LayerName string

const (
	LayerGround     LayerName = "ground"
	LayerAtmosphere LayerName = "atmosphere"
	LayerPlants     LayerName = "plants"
	LayerStructures LayerName = "structures"
	LayerFloorPlans LayerName = "floor_plans"
	LayerDoors      LayerName = "doors"
)

// layerOrder is the render stack, bottom first.
var layerOrder = []LayerName{
	LayerGround,
	LayerFloorPlans,
	LayerPlants,
	LayerStructures,
	LayerDoors,
	LayerAtmosphere,
}

// Layers returns the required layer set in render order.
func Layers() []LayerName {
	out := make([]LayerName, len(layerOrder))
	copy(out, layerOrder)
	return out
}

// Order is the render precedence of a layer, bottom 0. Unknown names
// sort after every real layer.
func (n LayerName) Order() int {
	for i, l := range layerOrder {
		if l == n {
			return i
		}
	}
	return len(layerOrder)
}

// Valid reports whether n is one of the required layers.
func (n LayerName) Valid() bool {
	return n.Order() < len(layerOrder)
}

// DefaultTickInterval is the layer's own clock period. Zero means the
// layer has no local clock and advances only on the global world tick;
// floor plans are static, so that is their default.
func (n LayerName) DefaultTickInterval() time.Duration {
	switch n {
	case LayerGround:
		return 5 * time.Second
	case LayerAtmosphere:
		return 10 * time.Second
	case LayerPlants:
		return 15 * time.Second
	case LayerStructures:
		return 30 * time.Second
	case LayerDoors:
		return 5 * time.Second
	}
	return 0
}

// LayerEntity is a lightweight in-layer object (a tree, a door, a
// transient ground mark) owned by exactly one layer actor. Distinct
// from the entity package's actors: layer entities have no process of
// their own.
type LayerEntity struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	X          int            `json:"x"`
	Y          int            `json:"y"`
	Properties map[string]any `json:"properties,omitempty"`
	Active     bool           `json:"active"`
}

// Connection links a point on one layer to a point on another within
// the same zone (doors, stairs, portals, ladders, tunnels). Directed;
// bidirectional/cost/required_key ride in Properties. At most one
// connection may leave a source point and at most one may arrive at a
// target point.
type Connection struct {
	Type        string         `json:"type"`
	Zone        string         `json:"zone"`
	SourceLayer LayerName      `json:"source_layer"`
	SourceX     int            `json:"source_x"`
	SourceY     int            `json:"source_y"`
	TargetLayer LayerName      `json:"target_layer"`
	TargetX     int            `json:"target_x"`
	TargetY     int            `json:"target_y"`
	Properties  map[string]any `json:"properties,omitempty"`
}
