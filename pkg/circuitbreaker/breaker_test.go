package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var errBoom = errors.New("boom")

func fail(ctx context.Context) error { return errBoom }
func ok(ctx context.Context) error   { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("youtube", Config{
		FailureThreshold: 3,
		Timeout:          time.Minute,
		now:              clock.now,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("Execute() #%d err = %v, want errBoom", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() while open err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while breaker open")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := NewCircuitBreaker("youtube", Config{
		MaxRequests:      2,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
		now: clock.now,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.advance(2 * time.Minute)

	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, ok); err != nil {
			t.Fatalf("Execute() half-open err = %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	notCounted := errors.New("quota denied")
	cb := NewCircuitBreaker("youtube", Config{
		FailureThreshold: 1,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, notCounted)
		},
	})

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return notCounted })
	if !errors.Is(err, notCounted) {
		t.Fatalf("Execute() err = %v, want passthrough", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
	if c := cb.Counts(); c.TotalFailures != 0 || c.TotalSuccesses != 1 {
		t.Errorf("Counts() = %+v, want 0 failures and 1 success", c)
	}
}

func TestCircuitBreaker_CanceledContext(t *testing.T) {
	cb := NewCircuitBreaker("youtube", Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Execute(ctx, ok); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() err = %v, want context.Canceled", err)
	}
	if c := cb.Counts(); c.Requests != 0 {
		t.Errorf("Requests = %d, want 0", c.Requests)
	}
}
