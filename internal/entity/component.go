package entity

import "time"

// Kind names one component in an entity's bag. Kinds are open-ended;
// the resource kinds below are the ones the tick handler regenerates.
type Kind string

const (
	KindHealth  Kind = "health"
	KindMana    Kind = "mana"
	KindStamina Kind = "stamina"
)

// Regenerates reports whether components of this kind recover on ticks.
func (k Kind) Regenerates() bool {
	switch k {
	case KindHealth, KindMana, KindStamina:
		return true
	}
	return false
}

// Component is one named stat block. Regeneration keeps Current within
// [0, Max]; explicit field updates are allowed to overfill (temporary
// buffs), and an overfilled component simply stops regenerating.
type Component struct {
	Current   int       `json:"current" yaml:"current"`
	Max       int       `json:"max" yaml:"max"`
	RegenRate int       `json:"regen_rate" yaml:"regen_rate"`
	LastRegen time.Time `json:"last_regen,omitempty" yaml:"-"`
}

// Normalize clamps the component into its invariant range.
func (c *Component) Normalize() {
	if c.Max < 0 {
		c.Max = 0
	}
	if c.RegenRate < 0 {
		c.RegenRate = 0
	}
	if c.Current < 0 {
		c.Current = 0
	}
	if c.Current > c.Max {
		c.Current = c.Max
	}
}

// Regenerate applies one tick of recovery and returns the amount
// restored: min(RegenRate, Max-Current), zero for a full (or
// overfilled) component. A zero-delta tick leaves LastRegen untouched.
func (c *Component) Regenerate(now time.Time) int {
	if c.Current >= c.Max || c.RegenRate <= 0 {
		return 0
	}
	delta := c.RegenRate
	if rest := c.Max - c.Current; delta > rest {
		delta = rest
	}
	c.Current += delta
	c.LastRegen = now
	return delta
}

// Full reports whether Current has reached Max.
func (c *Component) Full() bool { return c.Current >= c.Max }
