package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errRefused = errors.New("connection refused")

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(maxFailures int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: maxFailures, ResetTimeout: 10 * time.Second, Now: clk.Now})
	return b, clk
}

func fail() error    { return errRefused }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.maxFailures != DefaultMaxFailures {
		t.Errorf("maxFailures = %d, want %d", b.maxFailures, DefaultMaxFailures)
	}
	if b.resetTimeout != DefaultResetTimeout {
		t.Errorf("resetTimeout = %v, want %v", b.resetTimeout, DefaultResetTimeout)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(2)

	if err := b.Do(fail); !errors.Is(err, errRefused) {
		t.Fatalf("first call: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after one failure = %v, want closed", b.State())
	}
	_ = b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("state after two failures = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker returned %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(2)

	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed: failures were not consecutive", b.State())
	}
}

func TestBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		trial func() error
		want  State
	}{
		{name: "trial succeeds", trial: succeed, want: StateClosed},
		{name: "trial fails", trial: fail, want: StateOpen},
		{name: "trial cancelled", trial: func() error { return context.Canceled }, want: StateHalfOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b, clk := newTestBreaker(1)
			_ = b.Do(fail)
			clk.Advance(10 * time.Second)

			if b.State() != StateHalfOpen {
				t.Fatalf("state after reset timeout = %v, want half-open", b.State())
			}
			_ = b.Do(tc.trial)
			if got := b.State(); got != tc.want {
				t.Errorf("state after trial call = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBreaker_SingleTrialCall(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(1)
	_ = b.Do(fail)
	clk.Advance(10 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent call during trial = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1)
	if err := b.Do(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1)
	_ = b.Do(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state after Reset = %v, want closed", b.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
