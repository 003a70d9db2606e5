package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker configuration
type Config struct {
	MaxProbes        uint32        // Trial calls admitted per half-open episode
	Cooldown         time.Duration // Time spent open before admitting trial calls
	FailureThreshold uint32        // Consecutive failures that open a closed breaker
	SuccessThreshold uint32        // Consecutive successes that close a half-open breaker
	OnStateChange    func(name string, from State, to State)
}

// DefaultConfig returns sensible defaults for circuit breaker
func DefaultConfig() Config {
	return Config{
		MaxProbes:        3,
		Cooldown:         10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts holds the circuit breaker statistics for the current episode.
// Counters reset on every state transition.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker sheds calls to a failing collaborator. Closed admits
// everything and opens after FailureThreshold consecutive failures; open
// rejects until Cooldown elapses; half-open admits up to MaxProbes trial
// calls and closes after SuccessThreshold consecutive successes, reopening
// on the first failure.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	epoch    uint64 // bumped on every transition; stale completions are ignored
	counts   Counts
	openedAt time.Time
	probes   uint32 // trial calls admitted in the current half-open episode
}

// NewCircuitBreaker creates a new circuit breaker. Zero config fields fall
// back to DefaultConfig values.
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig()
	if config.MaxProbes == 0 {
		config.MaxProbes = def.MaxProbes
	}
	if config.Cooldown == 0 {
		config.Cooldown = def.Cooldown
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// Execute runs fn if the breaker admits the call. A completion that lands
// after the breaker has already transitioned does not feed back into the
// new episode's counters.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	epoch, err := cb.admit(time.Now())
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.complete(epoch, false)
			panic(r)
		}
	}()

	err = fn()
	cb.complete(epoch, err == nil)
	return err
}

// State returns the current state, promoting open to half-open once the
// cooldown has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen(time.Now())
	return cb.state
}

// Counts returns the current episode's counters
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit(now time.Time) (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen(now)

	switch cb.state {
	case StateOpen:
		return cb.epoch, ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.probes >= cb.config.MaxProbes {
			return cb.epoch, ErrTooManyRequests
		}
		cb.probes++
	}

	cb.counts.Requests++
	return cb.epoch, nil
}

func (cb *CircuitBreaker) complete(epoch uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if epoch != cb.epoch {
		return
	}

	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed, time.Now())
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen, time.Now())
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen, time.Now())
		}
	}
}

// maybeHalfOpen promotes an open breaker whose cooldown has elapsed.
// Caller holds cb.mu.
func (cb *CircuitBreaker) maybeHalfOpen(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.config.Cooldown {
		cb.transition(StateHalfOpen, now)
	}
}

// transition moves to a new state, starting a fresh episode.
// Caller holds cb.mu.
func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.epoch++
	cb.counts = Counts{}
	cb.probes = 0
	if to == StateOpen {
		cb.openedAt = now
	} else {
		cb.openedAt = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
