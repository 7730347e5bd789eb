package event

import "github.com/thornvale/server/internal/core/tick"

// WorldTick fires once per global clock tick, after the tick has been
// offered to every layer actor. Delivered counts the layers whose
// mailboxes accepted it.
type WorldTick struct {
	Tick      tick.Tick
	Delivered int
}

// ZoneCreated fires when the world manager brings a zone's layer
// actors up. Layers lists the started layer names in render order.
type ZoneCreated struct {
	Zone   string
	Layers []string
}

// ZoneDestroyed fires after a zone's layer actors are stopped.
type ZoneDestroyed struct {
	Zone string
}

// AutosaveCompleted fires after each periodic save sweep.
type AutosaveCompleted struct {
	Layers int
	Failed int
}
