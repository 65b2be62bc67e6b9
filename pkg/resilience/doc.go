// Package resilience provides retry with backoff, a circuit breaker and an
// error aggregator for guarding calls to unreliable dependencies.
//
// # Backoff
//
// A BackoffPolicy is a deterministic delay sequence. The delay after the
// failure of attempt n (0-based) is BaseDelay * Multiplier^n. There is no jitter.
//
//	policy, err := resilience.NewBackoffPolicy(4, time.Second, 2.0)
//	policy.Delays() // [1s 2s 4s 8s]
//
// # Retry
//
// A Retrier runs an operation up to MaxAttempts times. When every attempt
// fails it returns an *ExhaustedRetriesError wrapping the last error.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Circuit Breaker
//
// A CircuitBreaker opens after FailureThreshold failures and rejects calls
// with a *CircuitOpenError until OpenTimeout has passed since the last
// failure. The next call is then a single HALF_OPEN trial.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "external-service",
//		FailureThreshold: 3,
//		OpenTimeout:      30 * time.Second,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return externalService.Call(ctx, data)
//	})
//
// # Error Aggregation
//
// An ErrorAggregator records failures and summarizes them over a sliding window.
// AggregatorSink feeds it from retry and breaker events.
//
//	agg := resilience.NewErrorAggregator(resilience.AggregatorConfig{})
//	agg.RecordError(err, map[string]string{"component": "billing"})
//	summary := agg.Summarize(5 * time.Minute)
//
// # Combined Usage
//
// RetryableOperation wraps a retried operation in a circuit breaker:
//
//	op := resilience.NewRetryableOperation("service-name", cbConfig, retryConfig)
//	result, err := op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return externalService.Call(ctx, data)
//	})
//
// All types in this package are safe for concurrent use.
package resilience
