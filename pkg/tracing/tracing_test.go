package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/resilience"
)

func newTestService(t *testing.T) (*TracingService, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ts := NewWithProvider(tp, nil)
	t.Cleanup(func() { _ = ts.Shutdown(context.Background()) })
	return ts, recorder
}

func TestNewTracingService_Disabled(t *testing.T) {
	ts, err := NewTracingService(nil)
	require.NoError(t, err)
	assert.NotNil(t, ts.Tracer())
	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestTraceOperation(t *testing.T) {
	ts, recorder := newTestService(t)

	require.NoError(t, ts.TraceOperation(context.Background(), "ok", func(ctx context.Context) error {
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEmpty(t, GetSpanID(ctx))
		return nil
	}))
	err := ts.TraceOperation(context.Background(), "fails", func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "ok", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}

func TestTraceOperationWithResult(t *testing.T) {
	ts, recorder := newTestService(t)

	v, err := TraceOperationWithResult(context.Background(), ts, "answer", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Len(t, recorder.Ended(), 1)
}

func TestSink_AnnotatesSpan(t *testing.T) {
	ts, recorder := newTestService(t)

	retrier := resilience.NewRetrier(resilience.RetryConfig{
		Name:   "fetch",
		Policy: resilience.BackoffPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 1},
		Sink:   NewSink(),
	})

	_ = ts.TraceOperation(context.Background(), "fetch", func(ctx context.Context) error {
		return retrier.Execute(ctx, func(context.Context) error { return errors.New("refused") })
	})

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	var names []string
	for _, e := range spans[0].Events() {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "attempt_started")
	assert.Contains(t, names, "attempt_failed")
	assert.Contains(t, names, "retries_exhausted")
}

func TestSink_NoSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		NewSink().Observe(context.Background(), resilience.Event{Kind: resilience.EventCircuitOpened})
	})
}

func TestTracingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts, recorder := newTestService(t)

	router := gin.New()
	router.Use(ts.TracingMiddleware())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /health", spans[0].Name())
	assert.NotEmpty(t, w.Header().Get("Traceparent"))
}

func TestInstrumentHTTPClient(t *testing.T) {
	ts, recorder := newTestService(t)

	var traceparent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	client := ts.InstrumentHTTPClient(server.Client())
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, traceparent)
}
