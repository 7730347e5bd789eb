package world

import (
	"context"
	"math/rand"

	"go.uber.org/zap"
)

// rubbleGlyph replaces a structure's tile once it collapses.
const rubbleGlyph = '%'

// runBuiltin is the default simulation step for layers whose scripts
// define no tick hook. Floor plans and unknown layer names only record
// the tick.
func (l *Layer) runBuiltin(ctx context.Context) {
	switch l.cfg.Name {
	case LayerGround:
		l.tickGround()
	case LayerAtmosphere:
		l.tickAtmosphere(ctx)
	case LayerPlants:
		l.tickPlants()
	case LayerStructures:
		l.tickStructures()
	case LayerDoors:
		l.tickDoors()
	}
}

// tickGround ages transient marks. A mark is any entity carrying a
// ttl property; when it runs out the tile is restored from the
// restore property and the mark removed.
func (l *Layer) tickGround() {
	var expired []string
	for id, e := range l.entities {
		ttl, ok := asInt(e.Properties["ttl"])
		if !ok {
			continue
		}
		ttl--
		if ttl > 0 {
			e.Properties["ttl"] = ttl
			l.dirty = true
			continue
		}
		if restore, ok := asString(e.Properties["restore"]); ok && restore != "" {
			l.grid.Set(e.X, e.Y, restore[0])
		}
		expired = append(expired, id)
	}
	for _, id := range expired {
		delete(l.entities, id)
		l.dirty = true
	}
}

// weatherTable holds the drift weights, summing to 100. Clear skies
// dominate so zones read as calm most of the time.
var weatherTable = []struct {
	state  string
	weight int
}{
	{"clear", 60},
	{"clouds", 15},
	{"fog", 10},
	{"rain", 10},
	{"storm", 5},
}

func pickWeather(roll int) string {
	for _, w := range weatherTable {
		roll -= w.weight
		if roll < 0 {
			return w.state
		}
	}
	return "clear"
}

// tickAtmosphere rerolls the weather and mirrors the new state into
// the layer registry so zone weather is readable without asking the
// actor.
func (l *Layer) tickAtmosphere(ctx context.Context) {
	next := pickWeather(rand.Intn(100))
	if cur, _ := asString(l.meta["weather"]); cur == next {
		return
	}
	l.meta["weather"] = next
	l.dirty = true
	err := l.cfg.Registry.UpdateMetadata(ctx, l.cfg.Name, l.cfg.Zone, l.self,
		map[string]any{"weather": next})
	if err != nil {
		l.log.Debug("weather push failed", zap.Error(err))
	}
}

// tickPlants advances growth. An entity below max_stage gains a stage
// every growth_ticks ticks; the stages property names one glyph per
// stage and promotes the tile as the plant matures.
func (l *Layer) tickPlants() {
	for _, e := range l.entities {
		if !e.Active {
			continue
		}
		stage, ok := asInt(e.Properties["growth_stage"])
		if !ok {
			continue
		}
		max, ok := asInt(e.Properties["max_stage"])
		if !ok || stage >= max {
			continue
		}
		every, ok := asInt(e.Properties["growth_ticks"])
		if !ok || every <= 0 {
			every = 1
		}
		left, ok := asInt(e.Properties["growth_in"])
		if !ok {
			left = every
		}
		left--
		if left > 0 {
			e.Properties["growth_in"] = left
			l.dirty = true
			continue
		}
		stage++
		e.Properties["growth_stage"] = stage
		e.Properties["growth_in"] = every
		if stages, ok := asString(e.Properties["stages"]); ok && stage < len(stages) {
			l.grid.Set(e.X, e.Y, stages[stage])
		}
		l.dirty = true
	}
}

// tickStructures decays durability by decay_rate. At zero the
// structure deactivates and its tile turns to rubble.
func (l *Layer) tickStructures() {
	for _, e := range l.entities {
		if !e.Active {
			continue
		}
		dur, ok := asInt(e.Properties["durability"])
		if !ok {
			continue
		}
		rate, ok := asInt(e.Properties["decay_rate"])
		if !ok || rate <= 0 {
			continue
		}
		dur -= rate
		if dur > 0 {
			e.Properties["durability"] = dur
			l.dirty = true
			continue
		}
		e.Properties["durability"] = 0
		e.Active = false
		l.grid.Set(e.X, e.Y, rubbleGlyph)
		l.dirty = true
	}
}

// tickDoors counts open doors down to auto-close. The closed_glyph
// property overrides the default '+' tile.
func (l *Layer) tickDoors() {
	for _, e := range l.entities {
		if !e.Active {
			continue
		}
		if state, _ := asString(e.Properties["state"]); state != "open" {
			continue
		}
		auto, ok := asInt(e.Properties["auto_close_ticks"])
		if !ok || auto <= 0 {
			continue
		}
		left, ok := asInt(e.Properties["close_in"])
		if !ok {
			left = auto
		}
		left--
		if left > 0 {
			e.Properties["close_in"] = left
			l.dirty = true
			continue
		}
		e.Properties["state"] = "closed"
		delete(e.Properties, "close_in")
		glyph := "+"
		if g, ok := asString(e.Properties["closed_glyph"]); ok && g != "" {
			glyph = g
		}
		l.grid.Set(e.X, e.Y, glyph[0])
		l.dirty = true
	}
}

// asInt reads a numeric property. Yaml documents decode ints, json
// and lua hand back float64.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
