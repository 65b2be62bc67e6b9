package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/NikhilSetiya/resilience-toolkit/pkg/errors"
)

// ExhaustedRetriesError is returned by a Retrier when every allowed attempt failed
type ExhaustedRetriesError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the error of the final attempt
func (e *ExhaustedRetriesError) Unwrap() error {
	return e.LastErr
}

// Type classifies the error for pkg/errors
func (e *ExhaustedRetriesError) Type() appErrors.ErrorType {
	return appErrors.ErrorTypeExhausted
}

// CircuitOpenError is returned when a circuit breaker rejects a call without running it
type CircuitOpenError struct {
	Name  string
	State CircuitState
	// RetryAfter is the remaining cooldown when the breaker is OPEN, zero otherwise
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.State == StateHalfOpen {
		return fmt.Sprintf("circuit breaker '%s' is HALF_OPEN and a trial call is in flight", e.Name)
	}
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State.String())
}

// Type classifies the error for pkg/errors
func (e *CircuitOpenError) Type() appErrors.ErrorType {
	return appErrors.ErrorTypeUnavailable
}

// TimeoutError is recorded when a health check does not finish within its timeout
type TimeoutError struct {
	Target  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("check for target '%s' timed out after %s", e.Target, e.Timeout)
}

// Unwrap lets errors.Is(err, context.DeadlineExceeded) match
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// Type classifies the error for pkg/errors
func (e *TimeoutError) Type() appErrors.ErrorType {
	return appErrors.ErrorTypeTimeout
}

// IsExhaustedRetries reports whether err is or wraps an ExhaustedRetriesError
func IsExhaustedRetries(err error) bool {
	var target *ExhaustedRetriesError
	return errors.As(err, &target)
}

// IsCircuitOpen reports whether err is or wraps a CircuitOpenError
func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is or wraps a TimeoutError
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}
