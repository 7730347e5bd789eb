package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ZoneStore reads and writes zone documents as YAML files, one file
// per zone under a data directory.
type ZoneStore struct {
	log *zap.Logger
	dir string

	// Saves are read-modify-write on the zone file; serialize them.
	mu sync.Mutex
}

// NewZoneStore points a store at a directory of <zone>.yaml files.
func NewZoneStore(dir string, log *zap.Logger) *ZoneStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZoneStore{log: log.Named("zone_store"), dir: dir}
}

func (s *ZoneStore) path(zone string) (string, error) {
	if zone == "" || strings.ContainsAny(zone, `/\`) || strings.Contains(zone, "..") {
		return "", fmt.Errorf("%w: bad zone name %q", ErrZoneUnknown, zone)
	}
	return filepath.Join(s.dir, zone+".yaml"), nil
}

// LoadZone reads and parses one zone document.
func (s *ZoneStore) LoadZone(ctx context.Context, zone string) (*ZoneDoc, error) {
	p, err := s.path(zone)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrZoneUnknown, zone)
		}
		return nil, fmt.Errorf("read zone %s: %w", zone, err)
	}
	var doc ZoneDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse zone %s: %w", zone, err)
	}
	if doc.Zone == "" {
		doc.Zone = zone
	}
	if doc.Layers == nil {
		doc.Layers = make(map[string]*LayerDoc)
	}
	return &doc, nil
}

// LoadLayer returns one layer section of a zone document.
func (s *ZoneStore) LoadLayer(ctx context.Context, layer, zone string) (*LayerDoc, error) {
	doc, err := s.LoadZone(ctx, zone)
	if err != nil {
		return nil, err
	}
	ld, ok := doc.Layers[layer]
	if !ok || ld == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrLayerUnknown, zone, layer)
	}
	return ld, nil
}

// SaveLayer writes one layer section back into the zone document,
// creating the document if the zone is new.
func (s *ZoneStore) SaveLayer(ctx context.Context, layer, zone string, ld *LayerDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.LoadZone(ctx, zone)
	if errors.Is(err, ErrZoneUnknown) {
		doc = &ZoneDoc{Zone: zone, Layers: make(map[string]*LayerDoc)}
	} else if err != nil {
		return err
	}
	doc.Layers[layer] = ld

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode zone %s: %w", zone, err)
	}
	p, err := s.path(zone)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		return fmt.Errorf("write zone %s: %w", zone, err)
	}
	s.log.Debug("zone layer saved", zap.String("zone", zone), zap.String("layer", layer))
	return nil
}

// Zones lists every zone with a document in the data directory.
func (s *ZoneStore) Zones() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan data dir: %w", err)
	}
	var zones []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		zones = append(zones, strings.TrimSuffix(name, ".yaml"))
	}
	return zones, nil
}
