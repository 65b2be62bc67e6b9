package tracing

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/resilience"
)

// Config holds tracing configuration
type Config struct {
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	JaegerEndpoint string  `json:"jaeger_endpoint" yaml:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate" yaml:"sampling_rate"`
	Enabled        bool    `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns default tracing configuration. Tracing is off until enabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "resilience-toolkit",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		JaegerEndpoint: "http://localhost:14268/api/traces",
		SamplingRate:   1.0,
		Enabled:        false,
	}
}

// TracingService manages distributed tracing
type TracingService struct {
	tracer     oteltrace.Tracer
	propagator propagation.TextMapPropagator
	config     *Config
	provider   *sdktrace.TracerProvider
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// NewTracingService creates a tracing service exporting to Jaeger and installs
// it as the global tracer provider
func NewTracingService(config *Config) (*TracingService, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &TracingService{
			tracer:     otel.Tracer(config.ServiceName),
			propagator: newPropagator(),
			config:     config,
		}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("deployment.environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))),
	)

	ts := NewWithProvider(tp, config)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(ts.propagator)

	return ts, nil
}

// NewWithProvider wraps an existing provider. Shutdown shuts the provider down.
func NewWithProvider(tp *sdktrace.TracerProvider, config *Config) *TracingService {
	if config == nil {
		config = DefaultConfig()
		config.Enabled = true
	}
	return &TracingService{
		tracer:     tp.Tracer(config.ServiceName),
		propagator: newPropagator(),
		config:     config,
		provider:   tp,
	}
}

// Tracer returns the tracer used for spans
func (ts *TracingService) Tracer() oteltrace.Tracer {
	return ts.tracer
}

// Shutdown flushes and shuts down the tracing service
func (ts *TracingService) Shutdown(ctx context.Context) error {
	if ts.provider != nil {
		return ts.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func (ts *TracingService) StartSpan(ctx context.Context, name string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, name, opts...)
}

// StartHTTPSpan starts a span for HTTP requests
func (ts *TracingService) StartHTTPSpan(ctx context.Context, method, path string) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.HTTPRoute(path),
		),
	)
}

// RecordError records an error in span and marks it failed
func RecordError(span oteltrace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceOperation runs fn inside a span named name
func (ts *TracingService) TraceOperation(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := ts.StartSpan(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		RecordError(span, err)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// TraceOperationWithResult runs fn inside a span and returns its result
func TraceOperationWithResult[T any](ctx context.Context, ts *TracingService, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := ts.StartSpan(ctx, name)
	defer span.End()

	result, err := fn(ctx)
	if err != nil {
		RecordError(span, err)
		return result, err
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// TracingMiddleware creates a middleware for distributed tracing
func (ts *TracingService) TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ts.config.Enabled {
			c.Next()
			return
		}

		ctx := ts.propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := ts.StartHTTPSpan(ctx, c.Request.Method, c.FullPath())
		defer span.End()

		span.SetAttributes(
			semconv.URLFull(c.Request.URL.String()),
			semconv.UserAgentOriginal(c.Request.UserAgent()),
			semconv.ClientAddress(c.ClientIP()),
		)

		c.Request = c.Request.WithContext(ctx)
		ts.propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Next()

		span.SetAttributes(semconv.HTTPResponseStatusCode(c.Writer.Status()))

		if c.Writer.Status() >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", c.Writer.Status()))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		for _, err := range c.Errors {
			RecordError(span, err.Err)
		}
	}
}

// InstrumentHTTPClient instruments an HTTP client for tracing
func (ts *TracingService) InstrumentHTTPClient(client *http.Client) *http.Client {
	if !ts.config.Enabled {
		return client
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	instrumented := *client
	instrumented.Transport = &tracingTransport{
		base:    base,
		service: ts,
	}
	return &instrumented
}

// tracingTransport wraps http.RoundTripper for tracing
type tracingTransport struct {
	base    http.RoundTripper
	service *TracingService
}

// RoundTrip implements http.RoundTripper
func (tt *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := tt.service.tracer.Start(req.Context(), fmt.Sprintf("HTTP %s", req.Method),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLFull(req.URL.String()),
		),
	)
	defer span.End()

	req = req.Clone(ctx)
	tt.service.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := tt.base.RoundTrip(req)
	if err != nil {
		RecordError(span, err)
		return resp, err
	}

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return resp, nil
}

// Sink annotates the span in the event's context with toolkit events
type Sink struct{}

// NewSink creates a span-annotating sink
func NewSink() *Sink {
	return &Sink{}
}

// Observe implements resilience.Sink
func (s *Sink) Observe(ctx context.Context, event resilience.Event) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("resilience.source", event.Source),
	}
	if event.Attempt > 0 {
		attrs = append(attrs, attribute.Int("resilience.attempt", event.Attempt))
	}
	if event.Delay > 0 {
		attrs = append(attrs, attribute.Int64("resilience.delay_ms", event.Delay.Milliseconds()))
	}
	if event.From != event.To {
		attrs = append(attrs,
			attribute.String("resilience.from", event.From.String()),
			attribute.String("resilience.to", event.To.String()),
		)
	}
	if event.Err != nil {
		attrs = append(attrs, attribute.String("resilience.error", event.Err.Error()))
	}

	span.AddEvent(string(event.Kind), oteltrace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the context
func GetTraceID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the context
func GetSpanID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
