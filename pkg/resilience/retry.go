package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/errors"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// Name identifies the retried operation in telemetry
	Name string
	// Policy computes the attempt ceiling and the delay between attempts
	Policy BackoffPolicy
	// RetryableErrors narrows which errors are retried. When nil every error is retried.
	RetryableErrors func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sink receives attempt events
	Sink Sink
	// Logger overrides the global logger
	Logger *logging.Logger
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Policy: DefaultBackoffPolicy(),
	}
}

// DefaultRetryableErrors is an opt-in predicate that refuses to retry errors
// that cannot succeed on a second attempt
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}

	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if IsCircuitOpen(err) {
		return false
	}

	if errors.IsType(err, errors.ErrorTypeValidation) ||
		errors.IsType(err, errors.ErrorTypeNotFound) {
		return false
	}

	return true
}

// Retrier handles retry logic with exponential backoff. It keeps no state
// between calls to Execute and is safe for concurrent use.
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	config.Policy = config.Policy.withDefaults()

	logger := config.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Retrier{
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Policy returns the effective backoff policy
func (r *Retrier) Policy() BackoffPolicy {
	return r.config.Policy
}

// Execute runs operation until it succeeds, returns a non-retryable error,
// the context ends, or the attempt ceiling is reached. In the last case the
// result is an *ExhaustedRetriesError carrying the final attempt's error.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	maxAttempts := r.config.Policy.MaxAttempts
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return r.abort(ctx, attempt, err, lastErr)
		}

		r.observe(ctx, Event{Kind: EventAttemptStarted, Attempt: attempt + 1})

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retry",
					"operation", r.config.Name,
					"attempt", attempt+1,
					"max_attempts", maxAttempts,
				)
			}
			r.observe(ctx, Event{Kind: EventAttemptSucceeded, Attempt: attempt + 1})
			return nil
		}

		lastErr = err

		if r.config.RetryableErrors != nil && !r.config.RetryableErrors(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"operation", r.config.Name,
				"error", err.Error(),
				"attempt", attempt+1,
			)
			r.observe(ctx, Event{Kind: EventNonRetryable, Attempt: attempt + 1, Err: err})
			return err
		}

		if attempt == maxAttempts-1 {
			r.observe(ctx, Event{Kind: EventAttemptFailed, Attempt: attempt + 1, Err: err})
			break
		}

		delay := r.config.Policy.DelayForAttempt(attempt)

		r.logger.Debug("Operation failed, retrying",
			"operation", r.config.Name,
			"error", err.Error(),
			"attempt", attempt+1,
			"max_attempts", maxAttempts,
			"delay", delay,
		)
		r.observe(ctx, Event{Kind: EventAttemptFailed, Attempt: attempt + 1, Delay: delay, Err: err})

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, err, delay)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return r.abort(ctx, attempt+1, err, lastErr)
		}
	}

	exhausted := &ExhaustedRetriesError{Attempts: maxAttempts, LastErr: lastErr}

	r.logger.Error("Operation failed after all retry attempts",
		"operation", r.config.Name,
		"error", lastErr.Error(),
		"attempts", maxAttempts,
	)
	r.observe(ctx, Event{Kind: EventRetriesExhausted, Attempt: maxAttempts, Err: exhausted})

	return exhausted
}

// ExecuteWithResult executes the given function with retry logic and returns a result
func (r *Retrier) ExecuteWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Retrier) abort(ctx context.Context, attempts int, ctxErr, lastErr error) error {
	if attempts == 0 || lastErr == nil {
		r.observe(ctx, Event{Kind: EventRetryAborted, Err: ctxErr})
		return ctxErr
	}

	err := fmt.Errorf("retry aborted after %d attempts: %w", attempts, stderrors.Join(ctxErr, lastErr))
	r.observe(ctx, Event{Kind: EventRetryAborted, Attempt: attempts, Err: err})
	return err
}

func (r *Retrier) observe(ctx context.Context, event Event) {
	if r.config.Sink == nil {
		return
	}
	event.Source = r.config.Name
	event.MaxAttempts = r.config.Policy.MaxAttempts
	Emit(ctx, r.config.Sink, event)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryWithConfig is a convenience function to execute an operation with retry
func RetryWithConfig(ctx context.Context, config RetryConfig, operation func(context.Context) error) error {
	return NewRetrier(config).Execute(ctx, operation)
}

// Retry is a convenience function to execute an operation with default retry configuration
func Retry(ctx context.Context, operation func(context.Context) error) error {
	return RetryWithConfig(ctx, DefaultRetryConfig(), operation)
}

// RetryableOperation guards a retried operation with a circuit breaker.
// The breaker wraps the whole retry sequence, so an exhausted sequence counts
// as a single breaker failure and an open breaker short-circuits every attempt.
type RetryableOperation struct {
	circuitBreaker *CircuitBreaker
	retrier        *Retrier
}

// NewRetryableOperation creates a new retryable operation with circuit breaker and retry logic
func NewRetryableOperation(name string, cbConfig CircuitBreakerConfig, retryConfig RetryConfig) *RetryableOperation {
	if cbConfig.Name == "" {
		cbConfig.Name = name
	}
	if retryConfig.Name == "" {
		retryConfig.Name = name
	}

	return &RetryableOperation{
		circuitBreaker: NewCircuitBreaker(cbConfig),
		retrier:        NewRetrier(retryConfig),
	}
}

// Execute executes an operation with both circuit breaker and retry logic
func (ro *RetryableOperation) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	return ro.circuitBreaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return ro.retrier.ExecuteWithResult(ctx, operation)
	})
}

// ExecuteVoid executes an operation that doesn't return a result
func (ro *RetryableOperation) ExecuteVoid(ctx context.Context, operation func(context.Context) error) error {
	_, err := ro.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, operation(ctx)
	})
	return err
}

// CircuitBreaker returns the breaker guarding the operation
func (ro *RetryableOperation) CircuitBreaker() *CircuitBreaker {
	return ro.circuitBreaker
}

// State returns the current state of the circuit breaker
func (ro *RetryableOperation) State() CircuitState {
	return ro.circuitBreaker.State()
}
