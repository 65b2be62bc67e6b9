package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single trial request is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of failures that trips the breaker
	FailureThreshold int
	// OpenTimeout is the cooldown after the last failure before a trial call is allowed
	OpenTimeout time.Duration
	// ResetOnSuccess clears the failure count on every success while closed.
	// When false only a successful half-open trial clears it.
	ResetOnSuccess bool
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
	// Sink receives transition and rejection events
	Sink Sink
	// Logger overrides the global logger
	Logger *logging.Logger
	// Clock overrides time.Now
	Clock func() time.Time
}

// DefaultCircuitBreakerConfig returns a breaker that opens after 5 failures for 30 seconds
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitSnapshot is a point-in-time copy of the breaker's state
type CircuitSnapshot struct {
	Name             string        `json:"name"`
	State            CircuitState  `json:"-"`
	StateName        string        `json:"state"`
	FailureCount     int           `json:"failure_count"`
	FailureThreshold int           `json:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
	LastFailureTime  *time.Time    `json:"last_failure_time,omitempty"`
}

// CircuitBreaker is a state machine to prevent sending requests that are likely to fail
type CircuitBreaker struct {
	name             string
	failureThreshold int
	openTimeout      time.Duration
	resetOnSuccess   bool
	onStateChange    func(name string, from CircuitState, to CircuitState)
	sink             Sink
	now              func() time.Time

	mutex           sync.Mutex
	state           CircuitState
	generation      uint64
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool

	logger *logging.Logger
}

type transition struct {
	from, to CircuitState
	failures int
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		openTimeout:      config.OpenTimeout,
		resetOnSuccess:   config.ResetOnSuccess,
		onStateChange:    config.OnStateChange,
		sink:             config.Sink,
		now:              config.Clock,
		logger:           config.Logger,
	}

	if cb.failureThreshold <= 0 {
		cb.failureThreshold = 5
	}
	if cb.openTimeout < 0 {
		cb.openTimeout = 0
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	if cb.logger == nil {
		cb.logger = logging.GetLogger()
	}

	return cb
}

// Execute runs the given request if the circuit breaker accepts it.
// A rejected request returns a *CircuitOpenError and req is not invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	generation, err := cb.beforeRequest(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(ctx, generation, false)
			panic(r)
		}
	}()

	result, err := req(ctx)
	cb.afterRequest(ctx, generation, err == nil)
	return result, err
}

// Call is a convenience method that wraps Execute for functions that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// State returns the current state of the circuit breaker. An OPEN breaker
// whose cooldown has elapsed still reports OPEN until the next call.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.state
}

// Snapshot returns a copy of the breaker's state
func (cb *CircuitBreaker) Snapshot() CircuitSnapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	s := CircuitSnapshot{
		Name:             cb.name,
		State:            cb.state,
		StateName:        cb.state.String(),
		FailureCount:     cb.failureCount,
		FailureThreshold: cb.failureThreshold,
		OpenTimeout:      cb.openTimeout,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		s.LastFailureTime = &t
	}
	return s
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset forces the breaker back to CLOSED with a zero failure count.
// Results of calls started before the reset are ignored.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	t, changed := cb.setState(StateClosed)
	cb.generation++
	cb.failureCount = 0
	cb.lastFailureTime = time.Time{}
	cb.trialInFlight = false
	cb.mutex.Unlock()

	if changed {
		cb.notify(context.Background(), t)
	}
}

func (cb *CircuitBreaker) beforeRequest(ctx context.Context) (uint64, error) {
	cb.mutex.Lock()

	var pending []transition
	now := cb.now()

	if cb.state == StateOpen {
		elapsed := now.Sub(cb.lastFailureTime)
		if elapsed < cb.openTimeout {
			generation := cb.generation
			failures := cb.failureCount
			cb.mutex.Unlock()

			err := &CircuitOpenError{Name: cb.name, State: StateOpen, RetryAfter: cb.openTimeout - elapsed}
			cb.reject(ctx, failures, err)
			return generation, err
		}
		if t, ok := cb.setState(StateHalfOpen); ok {
			pending = append(pending, t)
		}
	}

	if cb.state == StateHalfOpen {
		if cb.trialInFlight {
			generation := cb.generation
			failures := cb.failureCount
			cb.mutex.Unlock()

			cb.notify(ctx, pending...)
			err := &CircuitOpenError{Name: cb.name, State: StateHalfOpen}
			cb.reject(ctx, failures, err)
			return generation, err
		}
		cb.trialInFlight = true
	}

	generation := cb.generation
	cb.mutex.Unlock()

	cb.notify(ctx, pending...)
	return generation, nil
}

func (cb *CircuitBreaker) afterRequest(ctx context.Context, before uint64, success bool) {
	cb.mutex.Lock()

	if cb.generation != before {
		cb.mutex.Unlock()
		return
	}

	var pending []transition
	if success {
		pending = cb.onSuccess()
	} else {
		pending = cb.onFailure(cb.now())
	}
	cb.mutex.Unlock()

	cb.notify(ctx, pending...)
}

func (cb *CircuitBreaker) onSuccess() []transition {
	switch cb.state {
	case StateHalfOpen:
		cb.failureCount = 0
		cb.trialInFlight = false
		if t, ok := cb.setState(StateClosed); ok {
			return []transition{t}
		}
	case StateClosed:
		if cb.resetOnSuccess {
			cb.failureCount = 0
		}
	}
	return nil
}

func (cb *CircuitBreaker) onFailure(now time.Time) []transition {
	cb.failureCount++
	cb.lastFailureTime = now

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.failureThreshold {
			if t, ok := cb.setState(StateOpen); ok {
				return []transition{t}
			}
		}
	case StateHalfOpen:
		cb.trialInFlight = false
		if t, ok := cb.setState(StateOpen); ok {
			return []transition{t}
		}
	}
	return nil
}

// setState must be called with the mutex held. Every change starts a new
// generation so results from calls admitted under the old state are dropped.
func (cb *CircuitBreaker) setState(state CircuitState) (transition, bool) {
	if cb.state == state {
		return transition{}, false
	}

	prev := cb.state
	cb.state = state
	cb.generation++

	return transition{from: prev, to: state, failures: cb.failureCount}, true
}

// notify runs callbacks outside the lock
func (cb *CircuitBreaker) notify(ctx context.Context, transitions ...transition) {
	for _, t := range transitions {
		cb.logger.LogCircuitEvent(ctx, cb.name, t.from.String(), t.to.String(), t.failures)

		if cb.onStateChange != nil {
			cb.onStateChange(cb.name, t.from, t.to)
		}

		kind := EventCircuitClosed
		switch t.to {
		case StateOpen:
			kind = EventCircuitOpened
		case StateHalfOpen:
			kind = EventCircuitHalfOpen
		}
		Emit(ctx, cb.sink, Event{
			Kind:     kind,
			Source:   cb.name,
			From:     t.from,
			To:       t.to,
			Failures: t.failures,
		})
	}
}

func (cb *CircuitBreaker) reject(ctx context.Context, failures int, err *CircuitOpenError) {
	Emit(ctx, cb.sink, Event{
		Kind:     EventCallRejected,
		Source:   cb.name,
		From:     err.State,
		To:       err.State,
		Failures: failures,
		Err:      err,
	})
}
