package entity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thornvale/server/internal/core/actor"
	"github.com/thornvale/server/internal/core/tick"
)

// Config describes one entity to spawn.
type Config struct {
	ID         string
	Type       Type
	Position   Position
	Components map[Kind]Component
	// Status is the initial lifecycle state; empty means spawning, and
	// the spawner promotes to active once the actor is up.
	Status Status
	// TickInterval gives the entity its own recovery clock. Zero means
	// the entity only ticks when the world pump tells it to.
	TickInterval time.Duration
}

// entity actor messages
type (
	addComponentMsg struct {
		kind Kind
		comp Component
	}
	updateComponentMsg struct {
		kind  Kind
		field string
		value int
	}
	removeComponentMsg struct{ kind Kind }
	getComponentMsg    struct{ kind Kind }
	setPositionMsg     struct{ pos Position }
	setStatusMsg       struct{ status Status }
	applyTickMsg       struct{ t tick.Tick }
	snapshotMsg        struct{}
)

// Actor is the behavior of one entity. State lives here and is only
// touched by the actor's goroutine.
type Actor struct {
	log *zap.Logger
	reg *Registry
	ent Entity

	tickEvery time.Duration
	localSeq  uint64
}

// New builds an entity behavior from a spawn config. The entity
// registers itself during Init and unregisters in Terminate.
func New(cfg Config, reg *Registry, log *zap.Logger) *Actor {
	if log == nil {
		log = zap.NewNop()
	}
	comps := make(map[Kind]*Component, len(cfg.Components))
	for k, c := range cfg.Components {
		cc := c
		cc.Normalize()
		comps[k] = &cc
	}
	return &Actor{
		log: log.Named("entity"),
		reg: reg,
		ent: Entity{
			ID:         cfg.ID,
			Type:       cfg.Type,
			Position:   cfg.Position,
			Components: comps,
			Status:     cfg.Status,
		},
		tickEvery: cfg.TickInterval,
	}
}

func (a *Actor) Init(ctx context.Context, self *actor.Ref) error {
	if a.ent.ID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidInput)
	}
	if !a.ent.Type.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, a.ent.Type)
	}
	promote := false
	if a.ent.Status == "" {
		a.ent.Status = StatusSpawning
		promote = true
	}
	if !a.ent.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, a.ent.Status)
	}
	if a.ent.Components == nil {
		a.ent.Components = make(map[Kind]*Component)
	}
	a.ent.CreatedAt = time.Now()
	a.log = a.log.With(zap.String("entity", a.ent.ID), zap.String("type", string(a.ent.Type)))

	if a.reg != nil {
		err := a.reg.Register(ctx, Record{
			ID:         a.ent.ID,
			Handle:     self,
			Type:       a.ent.Type,
			Zone:       a.ent.Position.Zone,
			Room:       a.ent.Position.Room,
			Components: a.ent.Kinds(),
			Status:     a.ent.Status,
		})
		if err != nil {
			return err
		}
	}
	// An entity that was not spawned into an explicit state goes live as
	// soon as setup is done. Supervisor restarts come back the same way.
	if promote {
		a.ent.Status = StatusActive
		a.pushMetadata(ctx, FieldStatus, StatusActive)
	}
	return nil
}

func (a *Actor) TickInterval() time.Duration { return a.tickEvery }

func (a *Actor) Receive(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case addComponentMsg:
		return nil, a.addComponent(ctx, m.kind, m.comp)
	case updateComponentMsg:
		return nil, a.updateComponent(m.kind, m.field, m.value)
	case removeComponentMsg:
		return nil, a.removeComponent(ctx, m.kind)
	case getComponentMsg:
		c, ok := a.ent.Components[m.kind]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, m.kind)
		}
		return *c, nil
	case setPositionMsg:
		return nil, a.setPosition(ctx, m.pos)
	case setStatusMsg:
		return nil, a.setStatus(ctx, m.status)
	case applyTickMsg:
		a.applyTick(m.t)
		return nil, nil
	case actor.TimerFired:
		a.localSeq++
		a.applyTick(tick.Tick{
			Number:    a.localSeq,
			Timestamp: m.At,
			Source:    "entity:" + a.ent.ID,
		})
		return nil, nil
	case snapshotMsg:
		return a.ent.Snapshot(), nil
	default:
		return nil, fmt.Errorf("%w: unknown entity message %T", ErrInvalidInput, msg)
	}
}

// addComponent upserts: adding a kind the bag already carries replaces
// the stat block.
func (a *Actor) addComponent(ctx context.Context, kind Kind, comp Component) error {
	if kind == "" {
		return fmt.Errorf("%w: empty component kind", ErrInvalidInput)
	}
	comp.Normalize()
	_, existed := a.ent.Components[kind]
	a.ent.Components[kind] = &comp
	if !existed {
		a.pushMetadata(ctx, FieldComponents, a.ent.Kinds())
	}
	return nil
}

// updateComponent sets one field directly. Unlike regeneration it may
// leave Current above Max; buffs do that on purpose.
func (a *Actor) updateComponent(kind Kind, field string, value int) error {
	c, ok := a.ent.Components[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, kind)
	}
	if value < 0 {
		return fmt.Errorf("%w: %s.%s must not be negative", ErrInvalidInput, kind, field)
	}
	switch field {
	case "current":
		c.Current = value
	case "max":
		c.Max = value
	case "regen_rate":
		c.RegenRate = value
	default:
		return fmt.Errorf("%w: unknown component field %q", ErrInvalidInput, field)
	}
	return nil
}

// removeComponent is idempotent: removing an absent kind is a no-op.
func (a *Actor) removeComponent(ctx context.Context, kind Kind) error {
	if _, ok := a.ent.Components[kind]; !ok {
		return nil
	}
	delete(a.ent.Components, kind)
	a.pushMetadata(ctx, FieldComponents, a.ent.Kinds())
	return nil
}

func (a *Actor) setPosition(ctx context.Context, pos Position) error {
	if pos.Zone == "" || pos.Room == "" {
		return fmt.Errorf("%w: position needs a zone and a room", ErrInvalidInput)
	}
	old := a.ent.Position
	a.ent.Position = pos
	if pos.Coords != nil {
		c := *pos.Coords
		a.ent.Position.Coords = &c
	}
	if old.Zone != pos.Zone {
		a.pushMetadata(ctx, FieldZone, pos.Zone)
	}
	if old.Room != pos.Room {
		a.pushMetadata(ctx, FieldRoom, pos.Room)
	}
	return nil
}

func (a *Actor) setStatus(ctx context.Context, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if a.ent.Status == status {
		return nil
	}
	a.ent.Status = status
	a.pushMetadata(ctx, FieldStatus, status)
	return nil
}

// applyTick runs recovery over the regenerating kinds. Non-resource
// components are untouched.
func (a *Actor) applyTick(t tick.Tick) {
	for kind, c := range a.ent.Components {
		if !kind.Regenerates() {
			continue
		}
		c.Regenerate(t.Timestamp)
	}
	a.ent.LastTick = t.Number
}

// pushMetadata mirrors a local change into the registry. A failed push
// is logged, not propagated: the entity's own state already moved on.
func (a *Actor) pushMetadata(ctx context.Context, field Field, value any) {
	if a.reg == nil {
		return
	}
	if err := a.reg.UpdateMetadata(ctx, a.ent.ID, field, value); err != nil {
		a.log.Warn("metadata push failed",
			zap.String("field", string(field)),
			zap.Error(err))
	}
}

func (a *Actor) Terminate(reason error) {
	if a.reg == nil || a.ent.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.reg.Unregister(ctx, a.ent.ID); err != nil {
		a.log.Debug("unregister on terminate failed", zap.Error(err))
	}
	if reason != nil {
		a.log.Warn("entity terminated abnormally", zap.Error(reason))
	}
}

// Handle is the typed facade over one entity's actor ref.
type Handle struct {
	ref *actor.Ref
}

// NewHandle wraps an entity actor ref.
func NewHandle(ref *actor.Ref) Handle { return Handle{ref: ref} }

// Ref returns the underlying actor ref.
func (h Handle) Ref() *actor.Ref { return h.ref }

// ID returns the entity id the actor was spawned under.
func (h Handle) ID() string { return h.ref.ID() }

// Alive reports whether the entity actor is running.
func (h Handle) Alive() bool { return h.ref.Alive() }

// AddComponent puts a stat block into the bag, replacing any existing
// block of the same kind.
func (h Handle) AddComponent(ctx context.Context, kind Kind, comp Component) error {
	_, err := h.ref.Ask(ctx, addComponentMsg{kind: kind, comp: comp})
	return err
}

// UpdateComponent sets one field ("current", "max", "regen_rate") of an
// existing component.
func (h Handle) UpdateComponent(ctx context.Context, kind Kind, field string, value int) error {
	_, err := h.ref.Ask(ctx, updateComponentMsg{kind: kind, field: field, value: value})
	return err
}

// RemoveComponent drops a kind from the bag; absent kinds are a no-op.
func (h Handle) RemoveComponent(ctx context.Context, kind Kind) error {
	_, err := h.ref.Ask(ctx, removeComponentMsg{kind: kind})
	return err
}

// Component reads one stat block by value.
func (h Handle) Component(ctx context.Context, kind Kind) (Component, error) {
	v, err := h.ref.Ask(ctx, getComponentMsg{kind: kind})
	if err != nil {
		return Component{}, err
	}
	return v.(Component), nil
}

// SetPosition moves the entity; zone and room changes are mirrored to
// the registry.
func (h Handle) SetPosition(ctx context.Context, pos Position) error {
	_, err := h.ref.Ask(ctx, setPositionMsg{pos: pos})
	return err
}

// SetStatus transitions the entity's lifecycle state.
func (h Handle) SetStatus(ctx context.Context, status Status) error {
	_, err := h.ref.Ask(ctx, setStatusMsg{status: status})
	return err
}

// ApplyTick enqueues one simulation tick without waiting. Returns false
// when the actor is gone or saturated; a dropped tick is caught up by
// the next one.
func (h Handle) ApplyTick(t tick.Tick) bool {
	return h.ref.Tell(applyTickMsg{t: t})
}

// Snapshot returns a deep copy of the entity's state.
func (h Handle) Snapshot(ctx context.Context) (Snapshot, error) {
	v, err := h.ref.Ask(ctx, snapshotMsg{})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}
