package entity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thornvale/server/internal/core/actor"
)

// Field names one mutable piece of registry metadata.
type Field string

const (
	FieldZone       Field = "zone"
	FieldRoom       Field = "room"
	FieldStatus     Field = "status"
	FieldComponents Field = "components"
)

// Record is what the registry knows about one live entity. Query
// results are copies; mutating them does not touch the registry.
type Record struct {
	ID         string     `json:"id"`
	Handle     *actor.Ref `json:"-"`
	Type       Type       `json:"type"`
	Zone       string     `json:"zone"`
	Room       string     `json:"room"`
	Components []Kind     `json:"components"`
	Status     Status     `json:"status"`
	LastSeen   time.Time  `json:"last_seen"`
}

// Stats summarizes the registry's population.
type Stats struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
	ByZone map[string]int `json:"by_zone"`
	ByRoom map[string]int `json:"by_room"`
}

// registry messages
type (
	regRegister   struct{ rec Record }
	regUnregister struct{ id string }
	regGet        struct{ id string }
	regByType     struct{ t Type }
	regByZone     struct{ zone string }
	regByRoom     struct{ room string }
	regByKind     struct{ kind Kind }
	regUpdate     struct {
		id    string
		field Field
		value any
	}
	regStats   struct{}
	regHandles struct{}
)

// registryState is the actor-owned table: a primary map plus secondary
// indexes kept in lockstep. Index repair on update touches only the
// delta between old and new values, never rebuilds.
type registryState struct {
	log   *zap.Logger
	sweep time.Duration

	records map[string]*Record
	byType  map[Type]map[string]struct{}
	byZone  map[string]map[string]struct{}
	byRoom  map[string]map[string]struct{}
	byKind  map[Kind]map[string]struct{}
}

func (s *registryState) Init(ctx context.Context, self *actor.Ref) error {
	s.records = make(map[string]*Record)
	s.byType = make(map[Type]map[string]struct{})
	s.byZone = make(map[string]map[string]struct{})
	s.byRoom = make(map[string]map[string]struct{})
	s.byKind = make(map[Kind]map[string]struct{})
	return nil
}

func (s *registryState) TickInterval() time.Duration { return s.sweep }

func (s *registryState) Terminate(error) {}

func (s *registryState) Receive(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case regRegister:
		return nil, s.register(m.rec)
	case regUnregister:
		return nil, s.unregister(m.id)
	case regGet:
		rec, ok := s.records[m.id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, m.id)
		}
		return copyRecord(rec), nil
	case regByType:
		return s.collect(s.byType[m.t]), nil
	case regByZone:
		return s.collect(s.byZone[m.zone]), nil
	case regByRoom:
		return s.collect(s.byRoom[m.room]), nil
	case regByKind:
		return s.collect(s.byKind[m.kind]), nil
	case regUpdate:
		return nil, s.update(m.id, m.field, m.value)
	case regStats:
		return s.stats(), nil
	case regHandles:
		out := make([]*actor.Ref, 0, len(s.records))
		for _, rec := range s.records {
			out = append(out, rec.Handle)
		}
		return out, nil
	case actor.TimerFired:
		s.reap()
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown registry message %T", ErrInvalidInput, msg)
	}
}

func (s *registryState) register(rec Record) error {
	if rec.ID == "" || rec.Handle == nil {
		return fmt.Errorf("%w: record needs an id and a handle", ErrInvalidInput)
	}
	if _, taken := s.records[rec.ID]; taken {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
	}
	rec.LastSeen = time.Now()
	stored := copyRecord(&rec)
	s.records[rec.ID] = &stored
	addIndex(s.byType, rec.Type, rec.ID)
	addIndex(s.byZone, rec.Zone, rec.ID)
	addIndex(s.byRoom, rec.Room, rec.ID)
	for _, k := range rec.Components {
		addIndex(s.byKind, k, rec.ID)
	}
	return nil
}

func (s *registryState) unregister(id string) error {
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.drop(rec)
	return nil
}

func (s *registryState) drop(rec *Record) {
	delete(s.records, rec.ID)
	delIndex(s.byType, rec.Type, rec.ID)
	delIndex(s.byZone, rec.Zone, rec.ID)
	delIndex(s.byRoom, rec.Room, rec.ID)
	for _, k := range rec.Components {
		delIndex(s.byKind, k, rec.ID)
	}
}

func (s *registryState) update(id string, field Field, value any) error {
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch field {
	case FieldZone:
		zone, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: zone wants a string, got %T", ErrInvalidInput, value)
		}
		if zone != rec.Zone {
			delIndex(s.byZone, rec.Zone, id)
			addIndex(s.byZone, zone, id)
			rec.Zone = zone
		}
	case FieldRoom:
		room, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: room wants a string, got %T", ErrInvalidInput, value)
		}
		if room != rec.Room {
			delIndex(s.byRoom, rec.Room, id)
			addIndex(s.byRoom, room, id)
			rec.Room = room
		}
	case FieldStatus:
		status, ok := value.(Status)
		if !ok {
			return fmt.Errorf("%w: status wants a Status, got %T", ErrInvalidInput, value)
		}
		if !status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
		}
		rec.Status = status
	case FieldComponents:
		kinds, ok := value.([]Kind)
		if !ok {
			return fmt.Errorf("%w: components wants []Kind, got %T", ErrInvalidInput, value)
		}
		s.repairKinds(rec, kinds)
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidInput, field)
	}
	rec.LastSeen = time.Now()
	return nil
}

// repairKinds reconciles the by-component index against a new kind
// list by symmetric difference.
func (s *registryState) repairKinds(rec *Record, kinds []Kind) {
	old := make(map[Kind]struct{}, len(rec.Components))
	for _, k := range rec.Components {
		old[k] = struct{}{}
	}
	next := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		next[k] = struct{}{}
		if _, had := old[k]; !had {
			addIndex(s.byKind, k, rec.ID)
		}
	}
	for k := range old {
		if _, still := next[k]; !still {
			delIndex(s.byKind, k, rec.ID)
		}
	}
	rec.Components = append(rec.Components[:0], kinds...)
}

func (s *registryState) collect(ids map[string]struct{}) []Record {
	out := make([]Record, 0, len(ids))
	for id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, copyRecord(rec))
		}
	}
	return out
}

func (s *registryState) stats() Stats {
	st := Stats{
		Total:  len(s.records),
		ByType: make(map[string]int, len(s.byType)),
		ByZone: make(map[string]int, len(s.byZone)),
		ByRoom: make(map[string]int, len(s.byRoom)),
	}
	for t, members := range s.byType {
		st.ByType[string(t)] = len(members)
	}
	for z, members := range s.byZone {
		st.ByZone[z] = len(members)
	}
	for r, members := range s.byRoom {
		st.ByRoom[r] = len(members)
	}
	return st
}

// reap drops records whose actor is gone without having unregistered,
// e.g. after a crash where Terminate could not reach the registry.
func (s *registryState) reap() {
	var stale []*Record
	for _, rec := range s.records {
		if rec.Handle == nil || !rec.Handle.Alive() {
			stale = append(stale, rec)
		}
	}
	for _, rec := range stale {
		s.drop(rec)
		s.log.Warn("reaped stale entity record",
			zap.String("entity", rec.ID),
			zap.String("type", string(rec.Type)),
			zap.Time("last_seen", rec.LastSeen))
	}
}

func copyRecord(rec *Record) Record {
	out := *rec
	out.Components = append([]Kind(nil), rec.Components...)
	return out
}

func addIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	bucket, ok := idx[key]
	if !ok {
		bucket = make(map[string]struct{})
		idx[key] = bucket
	}
	bucket[id] = struct{}{}
}

func delIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	bucket, ok := idx[key]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(idx, key)
	}
}

// Registry is the typed facade over the registry actor. All methods
// are safe for concurrent use; every call is one mailbox round trip.
type Registry struct {
	ref *actor.Ref
}

// RegistryOptions tunes the registry actor.
type RegistryOptions struct {
	// SweepInterval is how often the registry checks records against
	// live actors. Zero disables the sweep.
	SweepInterval time.Duration
	// Mailbox overrides the actor mailbox size.
	Mailbox int
}

// StartRegistry spawns the registry actor.
func StartRegistry(ctx context.Context, log *zap.Logger, opts RegistryOptions) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	st := &registryState{log: log.Named("entity_registry"), sweep: opts.SweepInterval}
	aopts := []actor.Option{actor.WithLogger(log)}
	if opts.Mailbox > 0 {
		aopts = append(aopts, actor.WithMailboxSize(opts.Mailbox))
	}
	ref, err := actor.Spawn(ctx, "entity_registry", st, aopts...)
	if err != nil {
		return nil, err
	}
	return &Registry{ref: ref}, nil
}

// Ref exposes the underlying actor ref, mainly for liveness checks.
func (r *Registry) Ref() *actor.Ref { return r.ref }

// Stop shuts the registry actor down.
func (r *Registry) Stop(ctx context.Context) error { return r.ref.Stop(ctx) }

// Register adds a record. Fails with ErrAlreadyExists when the id is
// taken; the existing registration wins.
func (r *Registry) Register(ctx context.Context, rec Record) error {
	_, err := r.ref.Ask(ctx, regRegister{rec: rec})
	return err
}

// Unregister removes a record by id.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	_, err := r.ref.Ask(ctx, regUnregister{id: id})
	return err
}

// Get returns a copy of one record.
func (r *Registry) Get(ctx context.Context, id string) (Record, error) {
	v, err := r.ref.Ask(ctx, regGet{id: id})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

// Handle resolves an id to the entity's actor ref.
func (r *Registry) Handle(ctx context.Context, id string) (*actor.Ref, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Handle, nil
}

// ByType lists records of one entity type.
func (r *Registry) ByType(ctx context.Context, t Type) ([]Record, error) {
	v, err := r.ref.Ask(ctx, regByType{t: t})
	if err != nil {
		return nil, err
	}
	return v.([]Record), nil
}

// ByZone lists records positioned in a zone.
func (r *Registry) ByZone(ctx context.Context, zone string) ([]Record, error) {
	v, err := r.ref.Ask(ctx, regByZone{zone: zone})
	if err != nil {
		return nil, err
	}
	return v.([]Record), nil
}

// ByRoom lists records positioned in a room.
func (r *Registry) ByRoom(ctx context.Context, room string) ([]Record, error) {
	v, err := r.ref.Ask(ctx, regByRoom{room: room})
	if err != nil {
		return nil, err
	}
	return v.([]Record), nil
}

// ByComponent lists records whose bag carries the given kind.
func (r *Registry) ByComponent(ctx context.Context, k Kind) ([]Record, error) {
	v, err := r.ref.Ask(ctx, regByKind{kind: k})
	if err != nil {
		return nil, err
	}
	return v.([]Record), nil
}

// UpdateMetadata changes one field of a record and repairs the touched
// indexes.
func (r *Registry) UpdateMetadata(ctx context.Context, id string, field Field, value any) error {
	_, err := r.ref.Ask(ctx, regUpdate{id: id, field: field, value: value})
	return err
}

// Stats returns population counts.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	v, err := r.ref.Ask(ctx, regStats{})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

// Handles returns the actor refs of every registered entity. The tick
// pump uses this for fan-out.
func (r *Registry) Handles(ctx context.Context) ([]*actor.Ref, error) {
	v, err := r.ref.Ask(ctx, regHandles{})
	if err != nil {
		return nil, err
	}
	return v.([]*actor.Ref), nil
}
