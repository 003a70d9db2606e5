package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestCircuitBreakerStates(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SuccessThreshold = 2
	config.MaxProbes = 5
	config.Cooldown = 100 * time.Millisecond

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be closed, got %s", cb.State())
	}

	// Successful calls don't change state
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to remain closed, got %s", cb.State())
	}

	// Failure threshold triggers open state
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return errors.New("test error") }); err == nil {
			t.Error("Expected error, got nil")
		}
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected state to be open, got %s", cb.State())
	}

	// Requests are rejected while open
	if err := cb.Execute(ctx, func() error { return nil }); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}

	// Cooldown elapses and the breaker admits trial calls
	time.Sleep(150 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected state to be half-open, got %s", cb.State())
	}

	// Success threshold in half-open transitions to closed
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to be closed, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.Cooldown = 50 * time.Millisecond

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	time.Sleep(80 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open, got %s", cb.State())
	}

	// First trial failure sends the breaker straight back to open
	cb.Execute(ctx, func() error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Errorf("Expected open after failed trial call, got %s", cb.State())
	}
}

func TestCircuitBreakerMaxProbes(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.MaxProbes = 2
	config.Cooldown = 100 * time.Millisecond
	config.SuccessThreshold = 5 // Make sure it won't transition to closed

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	// Force to half-open state
	cb.mu.Lock()
	cb.state = StateHalfOpen
	cb.epoch++
	cb.counts = Counts{}
	cb.probes = 0
	cb.mu.Unlock()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
	}

	if err := cb.Execute(ctx, func() error { return nil }); err != ErrTooManyRequests {
		t.Errorf("Expected too many requests error, got %v", err)
	}
}

func TestCircuitBreakerCounts(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cb := NewCircuitBreaker("test", DefaultConfig(), logger)
	ctx := context.Background()

	cb.Execute(ctx, func() error { return nil })
	cb.Execute(ctx, func() error { return errors.New("error") })
	cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	if counts.Requests != 3 {
		t.Errorf("Expected 3 requests, got %d", counts.Requests)
	}
	if counts.TotalSuccesses != 2 {
		t.Errorf("Expected 2 successes, got %d", counts.TotalSuccesses)
	}
	if counts.TotalFailures != 1 {
		t.Errorf("Expected 1 failure, got %d", counts.TotalFailures)
	}
}

func TestCircuitBreakerStaleCompletionIgnored(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 1
	config.Cooldown = time.Hour

	cb := NewCircuitBreaker("test", config, logger)

	epoch, err := cb.admit(time.Now())
	if err != nil {
		t.Fatalf("Expected admission, got %v", err)
	}

	// Breaker transitions while the call is in flight
	cb.Execute(context.Background(), func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	// The stale completion must not touch the open episode's counters
	cb.complete(epoch, true)
	counts := cb.Counts()
	if counts.TotalSuccesses != 0 {
		t.Errorf("Expected stale success to be dropped, got %d", counts.TotalSuccesses)
	}
}

func TestCircuitBreakerRejectsCancelledContext(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cb := NewCircuitBreaker("test", DefaultConfig(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	if err == nil {
		t.Error("Expected error for cancelled context")
	}
	if called {
		t.Error("Function must not run under a cancelled context")
	}
	if counts := cb.Counts(); counts.Requests != 0 {
		t.Errorf("Cancelled call must not count as a request, got %d", counts.Requests)
	}
}

func TestStateChangeCallback(t *testing.T) {
	logger := zaptest.NewLogger(t)
	config := DefaultConfig()
	config.FailureThreshold = 2

	var callbackCalled bool
	var fromState, toState State
	config.OnStateChange = func(name string, from State, to State) {
		callbackCalled = true
		fromState = from
		toState = to
	}

	cb := NewCircuitBreaker("test", config, logger)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Execute(ctx, func() error { return errors.New("error") })
	}

	if !callbackCalled {
		t.Error("Expected state change callback to be called")
	}
	if fromState != StateClosed || toState != StateOpen {
		t.Errorf("Expected transition from closed to open, got %s to %s", fromState, toState)
	}
}
