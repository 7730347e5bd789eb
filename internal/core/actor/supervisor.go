package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RestartPolicy governs what a supervisor does when a child exits
// abnormally.
type RestartPolicy int

const (
	// RestartAlways brings the child back after any crash, within the
	// intensity budget.
	RestartAlways RestartPolicy = iota
	// RestartOnDemand leaves the child down after a crash until it is
	// started or restarted explicitly.
	RestartOnDemand
)

func (p RestartPolicy) String() string {
	switch p {
	case RestartAlways:
		return "always"
	case RestartOnDemand:
		return "on_demand"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ChildSpec describes how to (re)build one supervised actor. Factory
// must return a fresh Behavior each call; restarts never reuse crashed
// state.
type ChildSpec struct {
	ID      string
	Policy  RestartPolicy
	Factory func() Behavior
	Mailbox int // 0 means the runtime default
}

var (
	// ErrChildExists is returned when a child with the same identity is
	// already running. At most one live instance per identity.
	ErrChildExists = errors.New("child already exists")
	// ErrChildNotFound is returned for operations on unknown children.
	ErrChildNotFound = errors.New("child not found")
	// ErrTooManyRestarts is returned when a child has tripped the
	// restart intensity cap and is parked until restarted explicitly.
	ErrTooManyRestarts = errors.New("restart intensity exceeded")
	// ErrSupervisorClosed is returned once Shutdown has begun.
	ErrSupervisorClosed = errors.New("supervisor closed")
)

const (
	// DefaultMaxRestarts and DefaultRestartWindow bound how often a
	// child may crash before the supervisor parks it.
	DefaultMaxRestarts   = 5
	DefaultRestartWindow = 30 * time.Second
)

type child struct {
	spec     ChildSpec
	ref      *Ref
	gen      uint64 // bumped on every (re)start; stale exits are ignored
	crashes  []time.Time
	disabled bool
}

// Supervisor owns a set of actors and restarts them per policy. A crash
// of one child never takes down its siblings.
type Supervisor struct {
	name   string
	log    *zap.Logger
	ctx    context.Context
	maxRst int
	window time.Duration

	mu       sync.Mutex
	children map[string]*child
	closed   bool
}

// ChildInfo is a point-in-time description of one child.
type ChildInfo struct {
	ID       string        `json:"id"`
	Policy   RestartPolicy `json:"-"`
	Alive    bool          `json:"alive"`
	Crashes  int           `json:"crashes"`
	Disabled bool          `json:"disabled"`
}

// NewSupervisor builds a supervisor. maxRestarts abnormal exits of the
// same child within window park it; zero values select the defaults.
// Children are spawned under ctx, so cancelling ctx shuts them all down.
func NewSupervisor(ctx context.Context, name string, log *zap.Logger, maxRestarts int, window time.Duration) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestarts
	}
	if window <= 0 {
		window = DefaultRestartWindow
	}
	return &Supervisor{
		name:     name,
		log:      log.With(zap.String("supervisor", name)),
		ctx:      ctx,
		maxRst:   maxRestarts,
		window:   window,
		children: make(map[string]*child),
	}
}

// StartChild spawns a new child. It fails with ErrChildExists if an
// instance with the same ID is running, and with ErrTooManyRestarts if
// the identity is parked.
//
// The spec's Factory and the behavior's Init both run with the
// supervisor lock held: Init must not call back into this supervisor.
func (s *Supervisor) StartChild(spec ChildSpec) (*Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(spec)
}

func (s *Supervisor) startLocked(spec ChildSpec) (*Ref, error) {
	if s.closed {
		return nil, ErrSupervisorClosed
	}
	if spec.ID == "" || spec.Factory == nil {
		return nil, errors.New("supervisor: child spec needs an id and a factory")
	}
	c := s.children[spec.ID]
	if c != nil {
		if c.ref != nil && c.ref.Alive() {
			return nil, fmt.Errorf("%w: %s", ErrChildExists, spec.ID)
		}
		if c.disabled {
			return nil, fmt.Errorf("%w: %s", ErrTooManyRestarts, spec.ID)
		}
	} else {
		c = &child{}
		s.children[spec.ID] = c
	}
	c.spec = spec
	c.gen++
	gen := c.gen

	opts := []Option{
		WithLogger(s.log),
		WithOnExit(func(_ string, reason error) { s.childExited(spec.ID, gen, reason) }),
	}
	if spec.Mailbox > 0 {
		opts = append(opts, WithMailboxSize(spec.Mailbox))
	}
	ref, err := Spawn(s.ctx, spec.ID, spec.Factory(), opts...)
	if err != nil {
		if c.ref == nil && len(c.crashes) == 0 {
			delete(s.children, spec.ID)
		}
		return nil, err
	}
	c.ref = ref
	return ref, nil
}

// childExited runs on the dying child's goroutine after Terminate.
func (s *Supervisor) childExited(id string, gen uint64, reason error) {
	s.mu.Lock()
	c, ok := s.children[id]
	if !ok || c.gen != gen {
		s.mu.Unlock()
		return
	}
	c.ref = nil
	if s.closed || reason == nil || errors.Is(reason, context.Canceled) {
		delete(s.children, id)
		s.mu.Unlock()
		return
	}

	now := time.Now()
	c.crashes = append(c.crashes, now)
	c.crashes = pruneBefore(c.crashes, now.Add(-s.window))
	if len(c.crashes) > s.maxRst {
		c.disabled = true
		s.mu.Unlock()
		s.log.Error("child crashed too often, leaving it down",
			zap.String("child", id),
			zap.Int("crashes", len(c.crashes)),
			zap.Duration("window", s.window),
			zap.Error(reason))
		return
	}
	if c.spec.Policy == RestartOnDemand {
		s.mu.Unlock()
		s.log.Warn("child down until next explicit start",
			zap.String("child", id), zap.Error(reason))
		return
	}
	_, err := s.startLocked(c.spec)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("child restart failed", zap.String("child", id), zap.Error(err))
		return
	}
	s.log.Warn("child restarted after crash", zap.String("child", id), zap.Error(reason))
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// StopChild stops a child cleanly and forgets it. Stopping is not a
// crash: the child is not restarted.
func (s *Supervisor) StopChild(ctx context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.children[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChildNotFound, id)
	}
	ref := c.ref
	delete(s.children, id)
	s.mu.Unlock()
	if ref == nil {
		return nil
	}
	return ref.Stop(ctx)
}

// RestartChild stops the child if running and starts a fresh instance
// from its spec. A manual restart clears the crash budget and un-parks
// a disabled child.
func (s *Supervisor) RestartChild(ctx context.Context, id string) (*Ref, error) {
	s.mu.Lock()
	c, ok := s.children[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrChildNotFound, id)
	}
	spec := c.spec
	ref := c.ref
	s.mu.Unlock()

	if ref != nil {
		if err := ref.Stop(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok = s.children[id]
	if !ok {
		// The clean stop removed the entry; re-seed it from the old spec.
		c = &child{}
		s.children[id] = c
	}
	c.spec = spec
	c.crashes = nil
	c.disabled = false
	return s.startLocked(spec)
}

// Child returns the ref of a running child.
func (s *Supervisor) Child(id string) (*Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[id]
	if !ok || c.ref == nil || !c.ref.Alive() {
		return nil, false
	}
	return c.ref, true
}

// Count returns how many children are currently running.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.children {
		if c.ref != nil && c.ref.Alive() {
			n++
		}
	}
	return n
}

// Children lists all known children, running or parked.
func (s *Supervisor) Children() []ChildInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChildInfo, 0, len(s.children))
	for id, c := range s.children {
		out = append(out, ChildInfo{
			ID:       id,
			Policy:   c.spec.Policy,
			Alive:    c.ref != nil && c.ref.Alive(),
			Crashes:  len(c.crashes),
			Disabled: c.disabled,
		})
	}
	return out
}

// Shutdown stops every child and refuses further starts. Children are
// stopped sequentially; ctx bounds the whole sweep.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	refs := make([]*Ref, 0, len(s.children))
	for _, c := range s.children {
		if c.ref != nil {
			refs = append(refs, c.ref)
		}
	}
	s.children = make(map[string]*child)
	s.mu.Unlock()

	var firstErr error
	for _, ref := range refs {
		if err := ref.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
