package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/resilience"
)

func sleepingTarget(id string, d time.Duration) Target {
	return Target{
		ID: id,
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func hangingTarget(id string) Target {
	return Target{
		ID: id,
		// ignores its context on purpose
		Check: func(ctx context.Context) error {
			time.Sleep(5 * time.Second)
			return nil
		},
	}
}

func TestChecker_PartialFailureIsolation(t *testing.T) {
	checker := NewChecker(CheckerConfig{Timeout: 200 * time.Millisecond})

	targets := []Target{
		sleepingTarget("t1", 10*time.Millisecond),
		sleepingTarget("t2", 50*time.Millisecond),
		hangingTarget("t3"),
		sleepingTarget("t4", 100*time.Millisecond),
		sleepingTarget("t5", 20*time.Millisecond),
	}

	start := time.Now()
	results := checker.CheckAll(context.Background(), targets)
	elapsed := time.Since(start)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, targets[i].ID, r.Target, "results keep input order")
	}

	healthy := 0
	for _, r := range results {
		if r.Healthy {
			healthy++
		}
	}
	assert.Equal(t, 4, healthy)

	assert.False(t, results[2].Healthy)
	assert.Equal(t, "timeout", results[2].Error)
	assert.True(t, resilience.IsTimeout(results[2].Err))
	assert.ErrorIs(t, results[2].Err, context.DeadlineExceeded)

	assert.Less(t, elapsed, time.Second, "checks run concurrently")
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
}

func TestChecker_DeadlineWinsOverCheckError(t *testing.T) {
	checker := NewChecker(CheckerConfig{Timeout: 50 * time.Millisecond})

	results := checker.CheckAll(context.Background(), []Target{{
		ID: "wrapped",
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return fmt.Errorf("dial failed: %w", errors.New("connection reset"))
		},
	}})

	require.Len(t, results, 1)
	assert.Equal(t, "timeout", results[0].Error)
	assert.True(t, resilience.IsTimeout(results[0].Err))
}

func TestChecker_EmptyTargets(t *testing.T) {
	checker := NewChecker(DefaultCheckerConfig())

	results := checker.CheckAll(context.Background(), nil)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestChecker_FailureAndPanicAreContained(t *testing.T) {
	checker := NewChecker(CheckerConfig{Timeout: time.Second})

	results := checker.CheckAll(context.Background(), []Target{
		{ID: "ok", Check: func(context.Context) error { return nil }},
		{ID: "err", Check: func(context.Context) error { return errors.New("connection refused") }},
		{ID: "panic", Check: func(context.Context) error { panic("boom") }},
		{ID: "nil-check"},
	})

	require.Len(t, results, 4)
	assert.True(t, results[0].Healthy)
	assert.Empty(t, results[0].Error)

	assert.False(t, results[1].Healthy)
	assert.Equal(t, "connection refused", results[1].Error)

	assert.False(t, results[2].Healthy)
	assert.Contains(t, results[2].Error, "check panicked: boom")

	assert.False(t, results[3].Healthy)
	assert.Contains(t, results[3].Error, "has no check")
}

func TestChecker_ParentCancellation(t *testing.T) {
	checker := NewChecker(CheckerConfig{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results := checker.CheckAll(ctx, []Target{hangingTarget("slow")})

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, results, 1)
	assert.False(t, results[0].Healthy)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestChecker_ConcurrencyCap(t *testing.T) {
	checker := NewChecker(CheckerConfig{Timeout: time.Second, Concurrency: 2})

	var inFlight, peak int64
	var mu sync.Mutex
	targets := make([]Target, 8)
	for i := range targets {
		targets[i] = Target{
			ID: fmt.Sprintf("t%d", i),
			Check: func(ctx context.Context) error {
				n := atomic.AddInt64(&inFlight, 1)
				mu.Lock()
				if n > peak {
					peak = n
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				return nil
			},
		}
	}

	results := checker.CheckAll(context.Background(), targets)
	require.Len(t, results, 8)
	assert.LessOrEqual(t, peak, int64(2))
}

func TestChecker_RetriesWithinTimeout(t *testing.T) {
	retrier := resilience.NewRetrier(resilience.RetryConfig{
		Policy: resilience.BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1},
	})
	checker := NewChecker(CheckerConfig{Timeout: time.Second, Retrier: retrier})

	var calls int64
	results := checker.CheckAll(context.Background(), []Target{{
		ID: "flaky",
		Check: func(context.Context) error {
			if atomic.AddInt64(&calls, 1) < 3 {
				return errors.New("not yet")
			}
			return nil
		},
	}})

	assert.True(t, results[0].Healthy)
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestChecker_EmitsCheckEvents(t *testing.T) {
	var mu sync.Mutex
	events := map[string]resilience.Event{}
	sink := resilience.SinkFunc(func(_ context.Context, e resilience.Event) {
		mu.Lock()
		defer mu.Unlock()
		events[e.Source] = e
	})

	agg := resilience.NewErrorAggregator(resilience.AggregatorConfig{})
	checker := NewChecker(CheckerConfig{
		Timeout: 50 * time.Millisecond,
		Sink:    resilience.MultiSink(sink, resilience.NewAggregatorSink(agg)),
	})

	checker.CheckAll(context.Background(), []Target{
		{ID: "up", Check: func(context.Context) error { return nil }},
		hangingTarget("down"),
	})

	require.Len(t, events, 2)
	assert.Equal(t, resilience.EventCheckCompleted, events["up"].Kind)
	assert.True(t, events["up"].Healthy)
	assert.False(t, events["down"].Healthy)
	assert.True(t, resilience.IsTimeout(events["down"].Err))

	assert.Equal(t, map[string]int{"timeout": 1}, agg.Counts())
}

func TestChecker_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	checker := NewChecker(CheckerConfig{Timeout: time.Second, Tracer: provider.Tracer("test")})
	checker.CheckAll(context.Background(), []Target{
		{ID: "up", Check: func(context.Context) error { return nil }},
		{ID: "down", Check: func(context.Context) error { return errors.New("refused") }},
	})

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	byTarget := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		assert.Equal(t, "health.check", s.Name())
		for _, attr := range s.Attributes() {
			if attr.Key == "health.target" {
				byTarget[attr.Value.AsString()] = s
			}
		}
	}

	assert.Equal(t, codes.Ok, byTarget["up"].Status().Code)
	assert.Equal(t, codes.Error, byTarget["down"].Status().Code)
	assert.Equal(t, "refused", byTarget["down"].Status().Description)
}

func TestChecker_Run(t *testing.T) {
	checker := NewChecker(CheckerConfig{Timeout: time.Second})

	report := checker.Run(context.Background(), []Target{
		{ID: "a", Check: func(context.Context) error { return nil }},
		{ID: "b", Check: func(context.Context) error { return errors.New("down") }},
	})

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, 1, report.Healthy)
	assert.Equal(t, 1, report.Unhealthy)
	assert.Len(t, report.Results, 2)
	assert.Greater(t, report.Duration, time.Duration(0))
}
