package actor

import (
	"context"
	"errors"
	"testing"
	"time"
)

// counterBehavior is a minimal behavior driven by string commands.
type counterBehavior struct {
	count    int
	ticks    int
	interval time.Duration
	initErr  error
	exited   chan error
}

func newCounter() *counterBehavior {
	return &counterBehavior{exited: make(chan error, 1)}
}

func (b *counterBehavior) Init(ctx context.Context, self *Ref) error {
	return b.initErr
}

func (b *counterBehavior) Receive(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case TimerFired:
		b.ticks++
		return nil, nil
	case string:
		switch m {
		case "inc":
			b.count++
			return b.count, nil
		case "count":
			return b.count, nil
		case "ticks":
			return b.ticks, nil
		case "fail":
			return nil, errors.New("told to fail")
		case "boom":
			panic("boom requested")
		}
	}
	return nil, nil
}

func (b *counterBehavior) TickInterval() time.Duration { return b.interval }

func (b *counterBehavior) Terminate(reason error) {
	select {
	case b.exited <- reason:
	default:
	}
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAskRoundTrip(t *testing.T) {
	ctx := context.Background()
	ref, err := Spawn(ctx, "counter", newCounter())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer ref.Stop(ctx)

	v, err := ref.Ask(ctx, "inc")
	if err != nil {
		t.Fatalf("ask inc: %v", err)
	}
	if v.(int) != 1 {
		t.Fatalf("inc = %v, want 1", v)
	}

	if _, err := ref.Ask(ctx, "fail"); err == nil || err.Error() != "told to fail" {
		t.Fatalf("ask fail: err = %v, want handler error", err)
	}
	// A handler error is not a crash.
	if !ref.Alive() {
		t.Fatal("actor died on a plain handler error")
	}
}

func TestMailboxPreservesSenderOrder(t *testing.T) {
	ctx := context.Background()
	ref, err := Spawn(ctx, "counter", newCounter())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer ref.Stop(ctx)

	for i := 0; i < 10; i++ {
		if !ref.Tell("inc") {
			t.Fatalf("tell %d rejected", i)
		}
	}
	// The ask is queued behind the tells from this goroutine, so the
	// reply must observe all of them.
	v, err := ref.Ask(ctx, "count")
	if err != nil {
		t.Fatalf("ask count: %v", err)
	}
	if v.(int) != 10 {
		t.Fatalf("count = %v after 10 tells, want 10", v)
	}
}

func TestTimerFiredIsDelivered(t *testing.T) {
	ctx := context.Background()
	b := newCounter()
	b.interval = 5 * time.Millisecond
	ref, err := Spawn(ctx, "ticker", b)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer ref.Stop(ctx)

	waitUntil(t, func() bool {
		v, err := ref.Ask(ctx, "ticks")
		return err == nil && v.(int) >= 2
	}, "two timer fires")
}

func TestPanicCrashesActor(t *testing.T) {
	ctx := context.Background()
	b := newCounter()
	ref, err := Spawn(ctx, "fragile", b)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	_, err = ref.Ask(ctx, "boom")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ask boom: err = %v, want ErrUnavailable", err)
	}

	select {
	case reason := <-b.exited:
		if reason == nil {
			t.Fatal("crash reported a nil terminate reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminate never ran after crash")
	}
	<-ref.Done()
	if ref.Alive() {
		t.Fatal("ref still alive after crash")
	}
	if _, err := ref.Ask(ctx, "count"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ask after crash: err = %v, want ErrUnavailable", err)
	}
	if ref.Tell("inc") {
		t.Fatal("tell accepted after crash")
	}
}

func TestStopRunsTerminateWithNilReason(t *testing.T) {
	ctx := context.Background()
	b := newCounter()
	ref, err := Spawn(ctx, "stoppable", b)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := ref.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case reason := <-b.exited:
		if reason != nil {
			t.Fatalf("clean stop reported reason %v, want nil", reason)
		}
	default:
		t.Fatal("terminate did not run before Stop returned")
	}
}

func TestInitFailureAbortsSpawn(t *testing.T) {
	b := newCounter()
	b.initErr = errors.New("no such entity")
	ref, err := Spawn(context.Background(), "broken", b)
	if err == nil {
		t.Fatal("spawn succeeded despite init error")
	}
	if ref != nil {
		t.Fatal("spawn returned a ref alongside an error")
	}
	select {
	case <-b.exited:
		t.Fatal("terminate ran for an actor that never started")
	default:
	}
}

func TestTellReportsFullMailbox(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	entered := make(chan struct{})
	ref, err := Spawn(ctx, "slow", &gatedBehavior{gate: gate, entered: entered}, WithMailboxSize(2))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer func() {
		close(gate)
		ref.Stop(ctx)
	}()

	if !ref.Tell("block") {
		t.Fatal("first tell rejected")
	}
	<-entered // actor is now parked inside Receive, mailbox drained

	if !ref.Tell("a") || !ref.Tell("b") {
		t.Fatal("buffered tells rejected")
	}
	if ref.Tell("c") {
		t.Fatal("tell accepted on a full mailbox")
	}
}

type gatedBehavior struct {
	gate    chan struct{}
	entered chan struct{}
}

func (b *gatedBehavior) Init(context.Context, *Ref) error { return nil }

func (b *gatedBehavior) Receive(ctx context.Context, msg any) (any, error) {
	if msg == "block" {
		b.entered <- struct{}{}
		<-b.gate
	}
	return nil, nil
}

func (b *gatedBehavior) TickInterval() time.Duration { return 0 }
func (b *gatedBehavior) Terminate(error)             {}
