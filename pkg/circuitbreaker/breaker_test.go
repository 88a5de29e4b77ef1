package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(Config{Threshold: threshold, Cooldown: time.Minute, Now: clock.Now}), clock
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	b := New(Config{Threshold: -1})
	if b.cfg.Threshold != 5 || b.cfg.Cooldown != 30*time.Second || b.cfg.Now == nil {
		t.Errorf("unexpected defaults %+v", b.cfg)
	}
	if b.State() != Closed {
		t.Errorf("initial state = %s, want closed", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3)
	for i := range 2 {
		b.RecordFailure()
		if b.State() != Closed {
			t.Fatalf("opened after %d failures", i+1)
		}
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker allowed a call")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(2)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != Closed || b.Failures() != 1 {
		t.Errorf("state=%s failures=%d, want closed/1", b.State(), b.Failures())
	}
}

func TestBreaker_SingleHalfOpenProbe(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(1)
	b.RecordFailure()
	clock.Advance(time.Minute)

	if !b.Allow() {
		t.Fatal("expected probe to be allowed after cooldown")
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	if b.Allow() {
		t.Error("second caller allowed while probe in flight")
	}

	b.RecordSuccess()
	if b.State() != Closed || !b.Allow() {
		t.Error("successful probe should close the breaker")
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(1)
	b.RecordFailure()
	clock.Advance(2 * time.Minute)
	b.Allow()
	b.RecordFailure()

	if b.State() != Open {
		t.Fatalf("state = %s, want open", b.State())
	}
	clock.Advance(30 * time.Second)
	if b.Allow() {
		t.Error("cooldown should restart from the failed probe")
	}
}

func TestBreaker_Do(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(2)
	boom := errors.New("boom")
	notFound := errors.New("not found")
	ignore := func(err error) bool { return errors.Is(err, notFound) }

	if err := b.Do(func() error { return notFound }, ignore); !errors.Is(err, notFound) {
		t.Fatalf("Do() = %v", err)
	}
	if b.Failures() != 0 {
		t.Error("ignored error counted as failure")
	}

	_ = b.Do(func() error { return boom }, ignore)
	_ = b.Do(func() error { return boom }, ignore)

	called := false
	err := b.Do(func() error { called = true; return nil }, ignore)
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("Do() on open breaker = %v (called=%v), want ErrOpen", err, called)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", state, state.String(), want)
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{Threshold: 1})
	a := r.Get("a.test")
	if r.Get("a.test") != a {
		t.Error("Get should return the same breaker for a key")
	}
	r.Get("b.test")
	a.RecordFailure()

	stats := r.Stats()
	if stats.Total != 2 || stats.Open != 1 || stats.Closed != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}
