package entity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/thornvale/server/internal/core/tick"
)

// Pump fans world ticks out to every registered entity. Delivery is
// fire-and-forget: an entity with a saturated mailbox skips the tick
// and catches up on the next one.
type Pump struct {
	log *zap.Logger
	reg *Registry
}

// NewPump wires a pump to the registry.
func NewPump(reg *Registry, log *zap.Logger) *Pump {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pump{log: log.Named("entity_pump"), reg: reg}
}

// Broadcast pushes one tick to all live entities. Meant to be hung off
// the world manager as a tick listener.
func (p *Pump) Broadcast(t tick.Tick) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	handles, err := p.reg.Handles(ctx)
	if err != nil {
		p.log.Warn("tick fan-out skipped", zap.Uint64("tick", t.Number), zap.Error(err))
		return
	}
	dropped := 0
	for _, ref := range handles {
		if !NewHandle(ref).ApplyTick(t) {
			dropped++
		}
	}
	if dropped > 0 {
		p.log.Debug("entities skipped a tick",
			zap.Uint64("tick", t.Number),
			zap.Int("dropped", dropped),
			zap.Int("total", len(handles)))
	}
}
