// Package store is the persistence collaborator for world layers: zone
// documents live in YAML files by default, or in Postgres when a
// database is configured. Layer actors load through a Source on start
// and write back through a Saver; the in-memory world never depends on
// which backend sits behind the interface.
package store

import (
	"context"
	"errors"
)

var (
	// ErrZoneUnknown is returned when no document exists for a zone.
	ErrZoneUnknown = errors.New("zone unknown to store")
	// ErrLayerUnknown is returned when a zone document carries no
	// section for the requested layer.
	ErrLayerUnknown = errors.New("layer unknown to store")
)

// Source loads layer documents. Implementations must be safe for
// concurrent use; layer actors load in parallel during zone creation.
type Source interface {
	LoadLayer(ctx context.Context, layer, zone string) (*LayerDoc, error)
}

// Saver writes layer documents back. Optional: a Source that cannot
// save (read-only data sets) simply does not implement it.
type Saver interface {
	SaveLayer(ctx context.Context, layer, zone string, doc *LayerDoc) error
}

// ZoneDoc is one zone on disk: a named set of layer documents.
type ZoneDoc struct {
	Zone   string               `yaml:"zone" json:"zone"`
	Layers map[string]*LayerDoc `yaml:"layers" json:"layers"`
}

// LayerDoc is the stored form of one layer of one zone. Map holds
// exactly Height rows of exactly Width characters.
type LayerDoc struct {
	Width       int             `yaml:"width" json:"width"`
	Height      int             `yaml:"height" json:"height"`
	Map         []string        `yaml:"map" json:"map"`
	OriginX     int             `yaml:"origin_x,omitempty" json:"origin_x,omitempty"`
	OriginY     int             `yaml:"origin_y,omitempty" json:"origin_y,omitempty"`
	Entities    []EntityDoc     `yaml:"entities,omitempty" json:"entities,omitempty"`
	Connections []ConnectionDoc `yaml:"connections,omitempty" json:"connections,omitempty"`
	Metadata    map[string]any  `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// EntityDoc is one placed layer entity (a tree, a door, a campfire).
type EntityDoc struct {
	ID         string         `yaml:"id" json:"id"`
	Type       string         `yaml:"type" json:"type"`
	X          int            `yaml:"x" json:"x"`
	Y          int            `yaml:"y" json:"y"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
	// Active defaults to true when omitted in the document.
	Active *bool `yaml:"active,omitempty" json:"active,omitempty"`
}

// IsActive resolves the optional Active flag.
func (e *EntityDoc) IsActive() bool { return e.Active == nil || *e.Active }

// ConnectionDoc links a point on one layer to a point on another
// (stairs, portals, ladders). Source and target points are each unique
// within a zone.
type ConnectionDoc struct {
	Type        string         `yaml:"type" json:"type"`
	SourceLayer string         `yaml:"source_layer" json:"source_layer"`
	SourceX     int            `yaml:"source_x" json:"source_x"`
	SourceY     int            `yaml:"source_y" json:"source_y"`
	TargetLayer string         `yaml:"target_layer" json:"target_layer"`
	TargetX     int            `yaml:"target_x" json:"target_x"`
	TargetY     int            `yaml:"target_y" json:"target_y"`
	Properties  map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}
