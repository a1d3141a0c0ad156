package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_Transitions(t *testing.T) {
	var changes []State
	cb := NewCircuitBreaker("host-a", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(_ string, to State) { changes = append(changes, to) },
	})
	clock := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return clock }

	fail := func() error { return errBoom }
	ok := func() error { return nil }

	for range 2 {
		if err := cb.Execute(fail); !errors.Is(err, errBoom) {
			t.Fatalf("Execute = %v", err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	called := false
	if err := cb.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker let call through: err=%v called=%v", err, called)
	}

	clock = clock.Add(time.Minute)
	if err := cb.Execute(fail); !errors.Is(err, errBoom) {
		t.Fatalf("probe = %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("failed probe left state %s", cb.State())
	}

	clock = clock.Add(time.Minute)
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("probe = %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}

	want := []State{StateOpen, StateHalfOpen, StateOpen, StateHalfOpen, StateClosed}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %s, want %s", i, changes[i], want[i])
		}
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("b", CircuitBreakerConfig{FailureThreshold: 2})
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errBoom })
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestRetry(t *testing.T) {
	fast := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "op", fast, func() error {
			calls++
			if calls < 3 {
				return errBoom
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "op", fast, func() error { calls++; return errBoom })
		if !errors.Is(err, errBoom) || calls != 3 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("open circuit is not retried", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), "op", fast, func() error { calls++; return ErrCircuitOpen })
		if !errors.Is(err, ErrCircuitOpen) || calls != 1 {
			t.Errorf("err=%v calls=%d", err, calls)
		}
	})

	t.Run("custom predicate", func(t *testing.T) {
		cfg := fast
		cfg.Retryable = func(err error) bool { return !errors.Is(err, errBoom) }
		calls := 0
		Retry(context.Background(), "op", cfg, func() error { calls++; return errBoom })
		if calls != 1 {
			t.Errorf("calls = %d", calls)
		}
	})

	t.Run("context cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}
		err := Retry(ctx, "op", cfg, func() error { cancel(); return errBoom })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}

	if err := WithTimeout(context.Background(), 0, "none", func(context.Context) error { return errBoom }); !errors.Is(err, errBoom) {
		t.Errorf("err = %v", err)
	}
}
