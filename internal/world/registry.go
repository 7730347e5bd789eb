package world

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/thornvale/server/internal/core/actor"
	"go.uber.org/zap"
)

// LayerRecord is one registered layer actor: the structured key, its
// handle, and a small metadata document (dimensions, weather, ...).
type LayerRecord struct {
	Layer    LayerName      `json:"layer"`
	Zone     string         `json:"zone"`
	Handle   *actor.Ref     `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type layerKey struct {
	layer LayerName
	zone  string
}

type (
	lregRegister struct{ rec LayerRecord }
	lregUnreg    struct {
		layer LayerName
		zone  string
	}
	lregLookup struct {
		layer LayerName
		zone  string
	}
	lregForZone  struct{ zone string }
	lregForLayer struct{ layer LayerName }
	lregActive   struct{}
	lregCounts   struct{}
	lregUpdate   struct {
		layer  LayerName
		zone   string
		handle *actor.Ref
		meta   map[string]any
	}
	lregBroadcast struct {
		msg   any
		layer LayerName // empty = all layers
		zone  string    // empty = all zones
	}
)

// LayerCounts is the registry's aggregate view.
type LayerCounts struct {
	Total   int               `json:"total"`
	ByZone  map[string]int    `json:"by_zone"`
	ByLayer map[LayerName]int `json:"by_layer"`
}

// layerRegState owns the (layer,zone) table. Primary map plus by-zone
// and by-layer views, always mutated together.
type layerRegState struct {
	log *zap.Logger

	records map[layerKey]*LayerRecord
	byZone  map[string]map[layerKey]struct{}
	byLayer map[LayerName]map[layerKey]struct{}
}

func (s *layerRegState) Init(ctx context.Context, self *actor.Ref) error {
	s.records = make(map[layerKey]*LayerRecord)
	s.byZone = make(map[string]map[layerKey]struct{})
	s.byLayer = make(map[LayerName]map[layerKey]struct{})
	return nil
}

func (s *layerRegState) TickInterval() time.Duration { return 0 }

func (s *layerRegState) Terminate(error) {}

func (s *layerRegState) Receive(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case lregRegister:
		return nil, s.register(m.rec)
	case lregUnreg:
		return nil, s.unregister(layerKey{m.layer, m.zone})
	case lregLookup:
		rec, ok := s.records[layerKey{m.layer, m.zone}]
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrLayerNotFound, m.zone, m.layer)
		}
		return copyLayerRecord(rec), nil
	case lregForZone:
		return s.collect(s.byZone[m.zone], byRenderOrder), nil
	case lregForLayer:
		return s.collect(s.byLayer[m.layer], byZoneName), nil
	case lregActive:
		return s.active(), nil
	case lregCounts:
		return s.counts(), nil
	case lregUpdate:
		return nil, s.update(m)
	case lregBroadcast:
		return s.broadcast(m), nil
	default:
		return nil, fmt.Errorf("layer registry: unknown message %T", msg)
	}
}

func (s *layerRegState) register(rec LayerRecord) error {
	if rec.Zone == "" || rec.Handle == nil {
		return fmt.Errorf("layer registry: record needs a zone and a handle")
	}
	key := layerKey{rec.Layer, rec.Zone}
	if old, ok := s.records[key]; ok {
		// A dead handle under the same key is a crashed actor whose
		// unregister never landed; its replacement takes the slot.
		if old.Handle.Alive() {
			return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, rec.Zone, rec.Layer)
		}
		s.log.Debug("replacing dead layer registration",
			zap.String("zone", rec.Zone), zap.String("layer", string(rec.Layer)))
		s.drop(key)
	}
	s.records[key] = &rec
	addLayerIndex(s.byZone, rec.Zone, key)
	addLayerIndex(s.byLayer, rec.Layer, key)
	return nil
}

func (s *layerRegState) unregister(key layerKey) error {
	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrLayerNotFound, key.zone, key.layer)
	}
	s.drop(key)
	return nil
}

func (s *layerRegState) drop(key layerKey) {
	delete(s.records, key)
	delLayerIndex(s.byZone, key.zone, key)
	delLayerIndex(s.byLayer, key.layer, key)
}

func (s *layerRegState) update(m lregUpdate) error {
	rec, ok := s.records[layerKey{m.layer, m.zone}]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrLayerNotFound, m.zone, m.layer)
	}
	if m.handle != nil && rec.Handle != m.handle {
		// A restarted actor's handle differs; the stale writer loses.
		return fmt.Errorf("%w: %s/%s handle is stale", ErrLayerNotFound, m.zone, m.layer)
	}
	merged := make(map[string]any, len(rec.Metadata)+len(m.meta))
	for k, v := range rec.Metadata {
		merged[k] = v
	}
	for k, v := range m.meta {
		merged[k] = v
	}
	rec.Metadata = merged
	return nil
}

type recordLess func(a, b *LayerRecord) bool

func byRenderOrder(a, b *LayerRecord) bool {
	return a.Layer.Order() < b.Layer.Order()
}

func byZoneName(a, b *LayerRecord) bool {
	return a.Zone < b.Zone
}

func byZoneThenOrder(a, b *LayerRecord) bool {
	if a.Zone != b.Zone {
		return a.Zone < b.Zone
	}
	return a.Layer.Order() < b.Layer.Order()
}

func (s *layerRegState) collect(keys map[layerKey]struct{}, less recordLess) []LayerRecord {
	out := make([]LayerRecord, 0, len(keys))
	for key := range keys {
		if rec, ok := s.records[key]; ok {
			out = append(out, copyLayerRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

func (s *layerRegState) active() []LayerRecord {
	out := make([]LayerRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Handle.Alive() {
			out = append(out, copyLayerRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return byZoneThenOrder(&out[i], &out[j]) })
	return out
}

func (s *layerRegState) counts() LayerCounts {
	c := LayerCounts{
		Total:   len(s.records),
		ByZone:  make(map[string]int, len(s.byZone)),
		ByLayer: make(map[LayerName]int, len(s.byLayer)),
	}
	for zone, keys := range s.byZone {
		c.ByZone[zone] = len(keys)
	}
	for layer, keys := range s.byLayer {
		c.ByLayer[layer] = len(keys)
	}
	return c
}

// broadcast tells every live handle in scope; full mailboxes drop the
// message and do not count as delivered.
func (s *layerRegState) broadcast(m lregBroadcast) int {
	delivered := 0
	for key, rec := range s.records {
		if m.layer != "" && key.layer != m.layer {
			continue
		}
		if m.zone != "" && key.zone != m.zone {
			continue
		}
		if !rec.Handle.Alive() {
			continue
		}
		if rec.Handle.Tell(m.msg) {
			delivered++
		} else {
			s.log.Debug("layer mailbox full, tick dropped",
				zap.String("zone", key.zone), zap.String("layer", string(key.layer)))
		}
	}
	return delivered
}

func copyLayerRecord(rec *LayerRecord) LayerRecord {
	out := *rec
	out.Metadata = make(map[string]any, len(rec.Metadata))
	for k, v := range rec.Metadata {
		out.Metadata[k] = v
	}
	return out
}

func addLayerIndex[K comparable](idx map[K]map[layerKey]struct{}, k K, key layerKey) {
	bucket, ok := idx[k]
	if !ok {
		bucket = make(map[layerKey]struct{})
		idx[k] = bucket
	}
	bucket[key] = struct{}{}
}

func delLayerIndex[K comparable](idx map[K]map[layerKey]struct{}, k K, key layerKey) {
	bucket, ok := idx[k]
	if !ok {
		return
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(idx, k)
	}
}

// Registry is the typed facade over the layer registry actor. All
// methods are one mailbox round trip and safe for concurrent use.
type Registry struct {
	ref *actor.Ref
}

// StartRegistry spawns the layer registry actor.
func StartRegistry(ctx context.Context, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	st := &layerRegState{log: log.Named("layer_registry")}
	ref, err := actor.Spawn(ctx, "layer_registry", st, actor.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &Registry{ref: ref}, nil
}

// Ref exposes the underlying actor ref.
func (r *Registry) Ref() *actor.Ref { return r.ref }

// Stop shuts the registry actor down.
func (r *Registry) Stop(ctx context.Context) error { return r.ref.Stop(ctx) }

// Register adds a layer actor under its (layer, zone) key.
func (r *Registry) Register(ctx context.Context, rec LayerRecord) error {
	_, err := r.ref.Ask(ctx, lregRegister{rec: rec})
	return err
}

// Unregister removes the (layer, zone) registration.
func (r *Registry) Unregister(ctx context.Context, layer LayerName, zone string) error {
	_, err := r.ref.Ask(ctx, lregUnreg{layer: layer, zone: zone})
	return err
}

// Lookup returns the record for one (layer, zone) pair.
func (r *Registry) Lookup(ctx context.Context, layer LayerName, zone string) (LayerRecord, error) {
	v, err := r.ref.Ask(ctx, lregLookup{layer: layer, zone: zone})
	if err != nil {
		return LayerRecord{}, err
	}
	return v.(LayerRecord), nil
}

// LayersForZone lists the zone's registered layers in render order.
func (r *Registry) LayersForZone(ctx context.Context, zone string) ([]LayerRecord, error) {
	v, err := r.ref.Ask(ctx, lregForZone{zone: zone})
	if err != nil {
		return nil, err
	}
	return v.([]LayerRecord), nil
}

// ZonesForLayer lists every zone carrying the given layer.
func (r *Registry) ZonesForLayer(ctx context.Context, layer LayerName) ([]LayerRecord, error) {
	v, err := r.ref.Ask(ctx, lregForLayer{layer: layer})
	if err != nil {
		return nil, err
	}
	return v.([]LayerRecord), nil
}

// ActiveLayers lists only records whose handle is currently alive.
func (r *Registry) ActiveLayers(ctx context.Context) ([]LayerRecord, error) {
	v, err := r.ref.Ask(ctx, lregActive{})
	if err != nil {
		return nil, err
	}
	return v.([]LayerRecord), nil
}

// Counts returns total and per-zone/per-layer registration counts.
func (r *Registry) Counts(ctx context.Context) (LayerCounts, error) {
	v, err := r.ref.Ask(ctx, lregCounts{})
	if err != nil {
		return LayerCounts{}, err
	}
	return v.(LayerCounts), nil
}

// UpdateMetadata merges meta into the record's metadata. A non-nil
// handle must match the registered one, so a replaced actor cannot
// overwrite its successor.
func (r *Registry) UpdateMetadata(ctx context.Context, layer LayerName, zone string, handle *actor.Ref, meta map[string]any) error {
	_, err := r.ref.Ask(ctx, lregUpdate{layer: layer, zone: zone, handle: handle, meta: meta})
	return err
}

// Broadcast tells msg to every live layer actor and returns the
// delivered count.
func (r *Registry) Broadcast(ctx context.Context, msg any) (int, error) {
	return r.broadcast(ctx, lregBroadcast{msg: msg})
}

// BroadcastToLayer tells msg to the layer's actors across all zones.
func (r *Registry) BroadcastToLayer(ctx context.Context, layer LayerName, msg any) (int, error) {
	return r.broadcast(ctx, lregBroadcast{msg: msg, layer: layer})
}

// BroadcastToZone tells msg to every layer actor of one zone.
func (r *Registry) BroadcastToZone(ctx context.Context, zone string, msg any) (int, error) {
	return r.broadcast(ctx, lregBroadcast{msg: msg, zone: zone})
}

func (r *Registry) broadcast(ctx context.Context, m lregBroadcast) (int, error) {
	v, err := r.ref.Ask(ctx, m)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}
