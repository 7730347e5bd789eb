// Package actor implements the process runtime the simulation runs on.
// Every stateful thing in the world (entities, layers, registries) is an
// actor: state owned by a single goroutine, reached only through a
// mailbox. Single-goroutine access only, so behaviors need no locks.
package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is returned when the target actor is not accepting
// messages: it stopped, crashed, or was never started. Callers must
// treat it as fatal for the request, not retry blindly.
var ErrUnavailable = errors.New("actor unavailable")

// TimerFired is delivered through Receive when the actor's private tick
// timer elapses. Timer messages are serialized with ordinary mail, never
// concurrent with it.
type TimerFired struct {
	At time.Time
}

// Behavior is the state machine an actor runs.
type Behavior interface {
	// Init prepares state before the first message is consumed. self is
	// the ref the runtime hands out for this actor; behaviors that
	// register themselves somewhere do it here, so nothing can observe
	// the actor unregistered. An Init error aborts the spawn and the
	// mailbox never opens.
	Init(ctx context.Context, self *Ref) error

	// Receive handles exactly one message and optionally returns a
	// reply. A panic here crashes the actor.
	Receive(ctx context.Context, msg any) (any, error)

	// TickInterval is the period of the actor's private timer. Zero or
	// negative disables the timer.
	TickInterval() time.Duration

	// Terminate runs exactly once when the actor stops; reason is nil
	// on a clean stop. It must release external resources and tolerate
	// partially initialized state.
	Terminate(reason error)
}

type response struct {
	value any
	err   error
}

type envelope struct {
	msg   any
	reply chan response // nil for fire-and-forget
}

// Ref is a shareable handle to a live actor. All methods are safe for
// concurrent use; a Ref stays valid after the actor dies and simply
// reports the actor as gone.
type Ref struct {
	id      string
	mailbox chan envelope
	quit    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
}

// ID returns the identity the actor was spawned under.
func (r *Ref) ID() string { return r.id }

// Alive reports whether the actor is still running.
func (r *Ref) Alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Done is closed after the actor has fully terminated.
func (r *Ref) Done() <-chan struct{} { return r.done }

// Ask sends msg and waits for the reply. It blocks while the mailbox is
// full; ctx bounds the whole exchange.
func (r *Ref) Ask(ctx context.Context, msg any) (any, error) {
	env := envelope{msg: msg, reply: make(chan response, 1)}
	select {
	case r.mailbox <- env:
	case <-r.done:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, r.id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-env.reply:
		return resp.value, resp.err
	case <-r.done:
		// The actor may have replied in the same instant it exited;
		// prefer the reply if it is there.
		select {
		case resp := <-env.reply:
			return resp.value, resp.err
		default:
		}
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, r.id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Tell enqueues msg without waiting. It reports false when the actor is
// gone or its mailbox is full; the message is dropped in either case.
func (r *Ref) Tell(msg any) bool {
	if !r.Alive() {
		return false
	}
	select {
	case r.mailbox <- envelope{msg: msg}:
		return true
	default:
		return false
	}
}

// Stop asks the actor to exit cleanly and waits until Terminate has run.
// Pending mail is discarded; blocked Asks fail with ErrUnavailable.
func (r *Ref) Stop(ctx context.Context) error {
	if r.stopped.CompareAndSwap(false, true) {
		close(r.quit)
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option tunes a spawn.
type Option func(*options)

type options struct {
	mailbox int
	log     *zap.Logger
	onExit  func(id string, reason error)
}

const defaultMailboxSize = 64

// WithMailboxSize overrides the default mailbox capacity.
func WithMailboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.mailbox = n
		}
	}
}

// WithLogger attaches a logger; the runtime tags it with the actor id.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithOnExit installs a hook called after the actor has fully
// terminated. reason is nil for a clean stop. Supervisors use this to
// observe crashes.
func WithOnExit(fn func(id string, reason error)) Option {
	return func(o *options) { o.onExit = fn }
}

type process struct {
	ref      *Ref
	behavior Behavior
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	onExit   func(id string, reason error)
}

// Spawn starts an actor: Init runs on the calling goroutine, then the
// mailbox loop takes over on its own goroutine. The returned Ref is the
// only way to reach the actor.
func Spawn(ctx context.Context, id string, b Behavior, opts ...Option) (*Ref, error) {
	if id == "" {
		return nil, errors.New("actor: empty id")
	}
	o := options{mailbox: defaultMailboxSize, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	ref := &Ref{
		id:      id,
		mailbox: make(chan envelope, o.mailbox),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	pctx, cancel := context.WithCancel(ctx)
	if err := b.Init(pctx, ref); err != nil {
		cancel()
		close(ref.done)
		return nil, fmt.Errorf("actor %s: init: %w", id, err)
	}

	p := &process{
		ref:      ref,
		behavior: b,
		log:      o.log.With(zap.String("actor", id)),
		ctx:      pctx,
		cancel:   cancel,
		onExit:   o.onExit,
	}
	go p.loop()
	return ref, nil
}

func (p *process) loop() {
	var reason error
	defer func() {
		p.terminate(reason)
		p.cancel()
		close(p.ref.done)
		if p.onExit != nil {
			p.onExit(p.ref.id, reason)
		}
	}()

	var timerC <-chan time.Time
	if d := p.behavior.TickInterval(); d > 0 {
		timer := time.NewTicker(d)
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case <-p.ref.quit:
			return
		case <-p.ctx.Done():
			// Ordered shutdown from above; supervisors do not count
			// this as a crash.
			reason = p.ctx.Err()
			return
		case at := <-timerC:
			if err := p.dispatch(envelope{msg: TimerFired{At: at}}); err != nil {
				reason = err
				return
			}
		case env := <-p.ref.mailbox:
			if err := p.dispatch(env); err != nil {
				reason = err
				return
			}
		}
	}
}

// dispatch runs one message through the behavior. A panic is converted
// into a crash reason; the caller waiting on a reply gets
// ErrUnavailable rather than hanging.
func (p *process) dispatch(env envelope) (crash error) {
	defer func() {
		if r := recover(); r != nil {
			crash = fmt.Errorf("panic: %v", r)
			p.log.Error("actor crashed",
				zap.String("message_type", fmt.Sprintf("%T", env.msg)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			if env.reply != nil {
				env.reply <- response{err: fmt.Errorf("%w: %s crashed", ErrUnavailable, p.ref.id)}
			}
		}
	}()
	value, err := p.behavior.Receive(p.ctx, env.msg)
	if env.reply != nil {
		env.reply <- response{value: value, err: err}
	}
	return nil
}

func (p *process) terminate(reason error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("terminate panicked", zap.Any("panic", r))
		}
	}()
	p.behavior.Terminate(reason)
}
