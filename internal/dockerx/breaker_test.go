package dockerx

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func connFailure() error {
	return fmt.Errorf("%w: daemon down", ErrConnection)
}

func testBreaker(threshold int, recovery time.Duration) (*CircuitBreaker, *time.Time) {
	b := NewCircuitBreaker("test", threshold, recovery)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	return b, &clock
}

func tripBreaker(t *testing.T, b *CircuitBreaker, threshold int) {
	t.Helper()
	for i := 0; i < threshold; i++ {
		if err := b.Execute(connFailure); !errors.Is(err, ErrConnection) {
			t.Fatalf("failure %d: expected ErrConnection, got %v", i, err)
		}
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(5, time.Minute)

	tripBreaker(t, b, 5)
	mode, failures := b.State()
	if mode != "open" {
		t.Fatalf("expected open after 5 failures, got %s", mode)
	}
	if failures != 5 {
		t.Fatalf("expected 5 recorded failures, got %d", failures)
	}
}

func TestBreaker_FailsFastWithoutInvokingOp(t *testing.T) {
	b, _ := testBreaker(5, time.Minute)
	tripBreaker(t, b, 5)

	calls := 0
	err := b.Execute(func() error {
		calls++
		return nil
	})
	if !IsCircuitOpen(err) {
		t.Fatalf("expected circuit-open rejection, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("op must not run while open, got %d calls", calls)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(5, time.Minute)

	tripBreaker(t, b, 4)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mode, failures := b.State()
	if mode != "closed" || failures != 0 {
		t.Fatalf("expected closed/0 after success, got %s/%d", mode, failures)
	}
}

func TestBreaker_NonRecoverableDoesNotCount(t *testing.T) {
	b, _ := testBreaker(2, time.Minute)

	for i := 0; i < 5; i++ {
		err := b.Execute(func() error {
			return fmt.Errorf("%w: gone", ErrNotFound)
		})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound to pass through, got %v", err)
		}
	}
	mode, _ := b.State()
	if mode != "closed" {
		t.Fatalf("client errors must not open the breaker, got %s", mode)
	}
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b, clock := testBreaker(5, time.Minute)
	tripBreaker(t, b, 5)

	*clock = clock.Add(time.Minute)

	// The trial call runs and, on success, closes the circuit.
	calls := 0
	if err := b.Execute(func() error { calls++; return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected trial op to run once, got %d", calls)
	}
	mode, failures := b.State()
	if mode != "closed" || failures != 0 {
		t.Fatalf("expected closed/0 after successful trial, got %s/%d", mode, failures)
	}
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clock := testBreaker(5, time.Minute)
	tripBreaker(t, b, 5)

	*clock = clock.Add(time.Minute)
	if err := b.Execute(connFailure); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected trial failure to propagate, got %v", err)
	}

	mode, _ := b.State()
	if mode != "open" {
		t.Fatalf("expected open after failed trial, got %s", mode)
	}
	// Still failing fast before the next recovery window.
	if err := b.Execute(func() error { return nil }); !IsCircuitOpen(err) {
		t.Fatalf("expected fail-fast after failed trial, got %v", err)
	}
}

func TestBreaker_SingleTrialInHalfOpen(t *testing.T) {
	b, clock := testBreaker(5, time.Minute)
	tripBreaker(t, b, 5)
	*clock = clock.Add(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// A second call while the trial is in flight is rejected.
	if err := b.Execute(func() error { return nil }); !IsCircuitOpen(err) {
		t.Fatalf("expected concurrent trial rejection, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
}
