package resilience

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/NikhilSetiya/resilience-toolkit/pkg/errors"
)

// mockExternalService simulates a dependency that fails on demand
type mockExternalService struct {
	name         string
	mutex        sync.Mutex
	requestCount int
	failureCount int
	forceFailure bool
}

func newMockExternalService(name string) *mockExternalService {
	return &mockExternalService{name: name}
}

func (m *mockExternalService) Call(ctx context.Context, data string) (interface{}, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requestCount++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.forceFailure {
		m.failureCount++
		return nil, appErrors.NewExternalError(m.name, fmt.Sprintf("simulated failure for request %d", m.requestCount))
	}
	return fmt.Sprintf("success-%s-%d", data, m.requestCount), nil
}

func (m *mockExternalService) SetForceFailure(force bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.forceFailure = force
}

func (m *mockExternalService) Stats() (int, int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.requestCount, m.failureCount
}

// TestIntegration_ErrorHandlingWorkflow drives a breaker-wrapped retrier through
// failure, rejection and recovery while an aggregator collects the failures.
func TestIntegration_ErrorHandlingWorkflow(t *testing.T) {
	clock := newFakeClock()
	agg := NewErrorAggregator(AggregatorConfig{Clock: clock.Now})
	events := &recordingSink{}
	sink := MultiSink(NewAggregatorSink(agg), events)

	op := NewRetryableOperation("user-service",
		CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: 30 * time.Second, Clock: clock.Now, Sink: sink},
		RetryConfig{Policy: BackoffPolicy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Multiplier: 2}, Sink: sink},
	)
	op.retrier.sleep = func(context.Context, time.Duration) error { return nil }

	service := newMockExternalService("user-service")
	call := func() (interface{}, error) {
		return op.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			return service.Call(ctx, "data")
		})
	}

	t.Run("healthy service", func(t *testing.T) {
		result, err := call()
		require.NoError(t, err)
		assert.Equal(t, "success-data-1", result)
		assert.Equal(t, StateClosed, op.State())
	})

	t.Run("failures trip the breaker", func(t *testing.T) {
		service.SetForceFailure(true)

		for i := 0; i < 2; i++ {
			_, err := call()
			require.Error(t, err)
			assert.True(t, IsExhaustedRetries(err))
			assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeExhausted))
		}
		assert.Equal(t, StateOpen, op.State())

		requests, failures := service.Stats()
		assert.Equal(t, 7, requests)
		assert.Equal(t, 6, failures)
	})

	t.Run("open breaker rejects without calling", func(t *testing.T) {
		_, err := call()
		require.Error(t, err)
		assert.True(t, IsCircuitOpen(err))
		assert.False(t, IsExhaustedRetries(err))

		requests, _ := service.Stats()
		assert.Equal(t, 7, requests)
	})

	t.Run("recovery after cooldown", func(t *testing.T) {
		service.SetForceFailure(false)
		clock.Advance(30 * time.Second)

		result, err := call()
		require.NoError(t, err)
		assert.Equal(t, "success-data-8", result)
		assert.Equal(t, StateClosed, op.State())
		assert.Equal(t, 0, op.CircuitBreaker().Snapshot().FailureCount)
	})

	t.Run("aggregated failures", func(t *testing.T) {
		summary := agg.Summarize(time.Minute)
		// two exhausted sequences, one circuit opening, one rejection
		assert.Equal(t, 4, summary.TotalErrors)
		require.NotEmpty(t, summary.TopKinds)
		assert.Equal(t, KindCount{Kind: "exhausted", Count: 2}, summary.TopKinds[0])
		assert.Equal(t, 1, agg.Counts()["unavailable"])
		assert.Equal(t, 1, agg.Counts()["circuit_opened"])
	})

	assert.Contains(t, events.kinds(), EventCircuitHalfOpen)
	assert.Contains(t, events.kinds(), EventCircuitClosed)
}

// TestIntegration_ConcurrentFailures hammers one breaker from many goroutines
// and checks that it opens and then rejects every caller.
func TestIntegration_ConcurrentFailures(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "concurrent",
		FailureThreshold: 5,
		OpenTimeout:      time.Minute,
		Clock:            clock.Now,
	})

	service := newMockExternalService("concurrent")
	service.SetForceFailure(true)

	var wg sync.WaitGroup
	var mu sync.Mutex
	rejected, failed := 0, 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
				return service.Call(ctx, "data")
			})

			mu.Lock()
			defer mu.Unlock()
			if IsCircuitOpen(err) {
				rejected++
			} else if err != nil {
				failed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, rejected+failed)
	assert.GreaterOrEqual(t, failed, 5)
	assert.Equal(t, StateOpen, cb.State())

	requests, _ := service.Stats()
	assert.Equal(t, failed, requests)
}

// TestIntegration_RetryInsideBreakerWithContext shows cancellation ending a
// retry sequence counts as a single breaker failure
func TestIntegration_RetryInsideBreakerWithContext(t *testing.T) {
	op := NewRetryableOperation("slow",
		CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour},
		RetryConfig{Policy: BackoffPolicy{MaxAttempts: 10, BaseDelay: time.Second, Multiplier: 1}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	service := newMockExternalService("slow")
	service.SetForceFailure(true)

	_, err := op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return service.Call(ctx, "data")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, op.State())
}
