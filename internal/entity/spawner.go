package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thornvale/server/internal/core/actor"
)

// Spawner creates entity actors under one supervisor per entity type.
// Players are restarted after any crash; npcs, mobs and items stay down
// until something respawns them.
type Spawner struct {
	log  *zap.Logger
	reg  *Registry
	sups map[Type]*actor.Supervisor
}

// SpawnerOptions bounds the per-type supervisors.
type SpawnerOptions struct {
	MaxRestarts   int
	RestartWindow time.Duration
}

// NewSpawner builds the per-type supervision tree. ctx is the lifetime
// of every spawned entity.
func NewSpawner(ctx context.Context, reg *Registry, log *zap.Logger, opts SpawnerOptions) *Spawner {
	if log == nil {
		log = zap.NewNop()
	}
	sups := make(map[Type]*actor.Supervisor, 4)
	for _, t := range []Type{TypePlayer, TypeNPC, TypeMob, TypeItem} {
		sups[t] = actor.NewSupervisor(ctx, "entities_"+string(t), log, opts.MaxRestarts, opts.RestartWindow)
	}
	return &Spawner{log: log.Named("spawner"), reg: reg, sups: sups}
}

func policyFor(t Type) actor.RestartPolicy {
	if t == TypePlayer {
		return actor.RestartAlways
	}
	return actor.RestartOnDemand
}

// Spawn starts one entity actor and returns its handle. Duplicate
// identities are rejected whether the clash is seen by the supervisor
// or by the registry.
func (s *Spawner) Spawn(ctx context.Context, cfg Config) (Handle, error) {
	if !cfg.Type.Valid() {
		return Handle{}, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, cfg.Type)
	}
	sup := s.sups[cfg.Type]
	spawnCfg := cfg
	ref, err := sup.StartChild(actor.ChildSpec{
		ID:      cfg.ID,
		Policy:  policyFor(cfg.Type),
		Factory: func() actor.Behavior { return New(spawnCfg, s.reg, s.log) },
	})
	if err != nil {
		if errors.Is(err, actor.ErrChildExists) {
			return Handle{}, fmt.Errorf("%w: %s", ErrAlreadyExists, cfg.ID)
		}
		return Handle{}, err
	}
	s.log.Info("entity spawned",
		zap.String("entity", cfg.ID),
		zap.String("type", string(cfg.Type)),
		zap.String("zone", cfg.Position.Zone))
	return NewHandle(ref), nil
}

// Despawn transitions the entity to despawning and stops its actor.
// Termination unregisters it.
func (s *Spawner) Despawn(ctx context.Context, id string) error {
	rec, err := s.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Handle != nil {
		NewHandle(rec.Handle).SetStatus(ctx, StatusDespawning)
	}
	sup, ok := s.sups[rec.Type]
	if !ok {
		return fmt.Errorf("%w: no supervisor for type %q", ErrInvalidInput, rec.Type)
	}
	if err := sup.StopChild(ctx, id); err != nil {
		return err
	}
	s.log.Info("entity despawned", zap.String("entity", id))
	return nil
}

// Restart force-restarts an entity actor regardless of type, clearing
// its crash budget. Used for entities parked by the intensity cap.
func (s *Spawner) Restart(ctx context.Context, id string) (Handle, error) {
	for _, sup := range s.sups {
		ref, err := sup.RestartChild(ctx, id)
		if err == nil {
			return NewHandle(ref), nil
		}
		if !errors.Is(err, actor.ErrChildNotFound) {
			return Handle{}, err
		}
	}
	return Handle{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Supervision reports per-type child state for diagnostics.
func (s *Spawner) Supervision() map[string][]actor.ChildInfo {
	out := make(map[string][]actor.ChildInfo, len(s.sups))
	for t, sup := range s.sups {
		out[string(t)] = sup.Children()
	}
	return out
}

// Shutdown stops every entity actor, all types.
func (s *Spawner) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, sup := range s.sups {
		if err := sup.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
