package health

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/resilience"
)

// TimeoutMessage is the Result.Error of a check that exceeded its timeout
const TimeoutMessage = "timeout"

// Target is a single dependency to probe
type Target struct {
	ID string
	// Check returns nil when the target is healthy. It must honor ctx.
	Check func(ctx context.Context) error
	// Critical targets make the whole report unhealthy when they fail
	Critical bool
	Metadata map[string]string
}

// Result is the outcome of checking one target
type Result struct {
	Target    string            `json:"target"`
	Healthy   bool              `json:"healthy"`
	Critical  bool              `json:"critical,omitempty"`
	Latency   time.Duration     `json:"latency"`
	Error     string            `json:"error,omitempty"`
	Err       error             `json:"-"`
	CheckedAt time.Time         `json:"checked_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CheckerConfig configures a Checker
type CheckerConfig struct {
	// Timeout bounds each target's check
	Timeout time.Duration
	// Concurrency caps the number of checks in flight. Zero means unbounded.
	Concurrency int
	// Retrier, when set, retries each target's check within its timeout
	Retrier *resilience.Retrier
	// Sink receives a check_completed event per target
	Sink resilience.Sink
	// Tracer starts a span per target. Defaults to the global tracer provider.
	Tracer trace.Tracer
	// Logger overrides the global logger
	Logger *logging.Logger
}

// DefaultCheckerConfig returns a 5 second per-target timeout with unbounded concurrency
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		Timeout: 5 * time.Second,
	}
}

// Checker runs health checks against many targets concurrently.
// It holds no per-call state and is safe for concurrent use.
type Checker struct {
	timeout     time.Duration
	concurrency int
	retrier     *resilience.Retrier
	sink        resilience.Sink
	tracer      trace.Tracer
	logger      *logging.Logger
}

// NewChecker creates a checker
func NewChecker(config CheckerConfig) *Checker {
	c := &Checker{
		timeout:     config.Timeout,
		concurrency: config.Concurrency,
		retrier:     config.Retrier,
		sink:        config.Sink,
		tracer:      config.Tracer,
		logger:      config.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.concurrency < 0 {
		c.concurrency = 0
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/NikhilSetiya/resilience-toolkit/pkg/health")
	}
	if c.logger == nil {
		c.logger = logging.GetLogger()
	}
	return c
}

// Timeout returns the per-target timeout
func (c *Checker) Timeout() time.Duration {
	return c.timeout
}

// CheckAll checks every target and returns one result per target in input order.
// A failing, panicking or slow target only affects its own result.
func (c *Checker) CheckAll(ctx context.Context, targets []Target) []Result {
	results := make([]Result, len(targets))
	if len(targets) == 0 {
		return results
	}

	var g errgroup.Group
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}

	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			results[i] = c.check(ctx, target)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Run checks every target and summarizes the results
func (c *Checker) Run(ctx context.Context, targets []Target) Report {
	start := time.Now()
	results := c.CheckAll(ctx, targets)
	report := Summarize(results)
	report.Duration = time.Since(start)
	return report
}

func (c *Checker) check(ctx context.Context, target Target) Result {
	ctx, span := c.tracer.Start(ctx, "health.check", trace.WithAttributes(
		attribute.String("health.target", target.ID),
		attribute.Bool("health.critical", target.Critical),
	))
	defer span.End()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := Result{
		Target:    target.ID,
		Critical:  target.Critical,
		CheckedAt: time.Now(),
		Metadata:  target.Metadata,
	}

	// Buffered so an abandoned check can still finish and exit
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- c.probe(checkCtx, target)
	}()

	var err error
	select {
	case err = <-done:
	case <-checkCtx.Done():
		err = checkCtx.Err()
	}
	// Once the check context is done, expiry wins over whatever the check
	// returned. A real error that races the deadline is still reported as a
	// timeout, and a parent cancellation is reported as itself.
	if err != nil && checkCtx.Err() != nil {
		if stderrors.Is(ctx.Err(), context.Canceled) {
			err = ctx.Err()
		} else if stderrors.Is(checkCtx.Err(), context.DeadlineExceeded) {
			err = &resilience.TimeoutError{Target: target.ID, Timeout: c.timeout}
		}
	}
	result.Latency = time.Since(result.CheckedAt)

	switch {
	case err == nil:
		result.Healthy = true
	case resilience.IsTimeout(err):
		result.Error = TimeoutMessage
		result.Err = err
	default:
		result.Error = err.Error()
		result.Err = err
	}

	span.SetAttributes(
		attribute.Bool("health.healthy", result.Healthy),
		attribute.Int64("health.latency_ms", result.Latency.Milliseconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	c.logger.LogCheckEvent(ctx, target.ID, result.Healthy, result.Latency, result.Error)
	resilience.Emit(ctx, c.sink, resilience.Event{
		Kind:    resilience.EventCheckCompleted,
		Source:  target.ID,
		Time:    result.CheckedAt,
		Healthy: result.Healthy,
		Latency: result.Latency,
		Err:     result.Err,
	})

	return result
}

func (c *Checker) probe(ctx context.Context, target Target) error {
	if target.Check == nil {
		return fmt.Errorf("target '%s' has no check", target.ID)
	}
	if c.retrier == nil {
		return target.Check(ctx)
	}
	return c.retrier.Execute(ctx, target.Check)
}
