package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
)

// EventKind identifies an observability event emitted by the toolkit
type EventKind string

const (
	EventAttemptStarted   EventKind = "attempt_started"
	EventAttemptFailed    EventKind = "attempt_failed"
	EventAttemptSucceeded EventKind = "attempt_succeeded"
	EventRetriesExhausted EventKind = "retries_exhausted"
	EventRetryAborted     EventKind = "retry_aborted"
	EventNonRetryable     EventKind = "non_retryable"
	EventCircuitOpened    EventKind = "circuit_opened"
	EventCircuitHalfOpen  EventKind = "circuit_half_open"
	EventCircuitClosed    EventKind = "circuit_closed"
	EventCallRejected     EventKind = "call_rejected"
	EventCheckCompleted   EventKind = "check_completed"
)

// Event is a single observation. Only the fields relevant to Kind are set.
type Event struct {
	Kind   EventKind
	Source string
	Time   time.Time

	// Attempt is the 1-based number of the attempt the event refers to
	Attempt     int
	MaxAttempts int
	Delay       time.Duration

	From     CircuitState
	To       CircuitState
	Failures int

	Healthy bool
	Latency time.Duration

	Err error
}

// Failure reports whether the event describes a failed outcome
func (e Event) Failure() bool {
	switch e.Kind {
	case EventAttemptFailed, EventRetriesExhausted, EventRetryAborted, EventNonRetryable, EventCircuitOpened, EventCallRejected:
		return true
	case EventCheckCompleted:
		return !e.Healthy
	default:
		return false
	}
}

// Sink receives toolkit events. Implementations must be safe for concurrent use
// and must not block for long; they run on the caller's goroutine.
type Sink interface {
	Observe(ctx context.Context, event Event)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, event Event)

// Observe calls f
func (f SinkFunc) Observe(ctx context.Context, event Event) {
	f(ctx, event)
}

type nopSink struct{}

func (nopSink) Observe(context.Context, Event) {}

// NopSink discards every event
func NopSink() Sink {
	return nopSink{}
}

type multiSink []Sink

func (m multiSink) Observe(ctx context.Context, event Event) {
	for _, s := range m {
		Emit(ctx, s, event)
	}
}

// MultiSink fans an event out to every non-nil sink in order
func MultiSink(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Emit delivers an event to sink, filling Time when unset. Sink panics are
// logged and swallowed.
func Emit(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Error("Telemetry sink panicked",
				"event", string(event.Kind),
				"source", event.Source,
				"panic", r,
			)
		}
	}()
	sink.Observe(ctx, event)
}

// LoggerSink writes events to the structured logger
type LoggerSink struct {
	logger *logging.Logger
}

// NewLoggerSink creates a sink backed by logger, or by the global logger when nil
func NewLoggerSink(logger *logging.Logger) *LoggerSink {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LoggerSink{logger: logger}
}

// Observe logs the event
func (s *LoggerSink) Observe(ctx context.Context, event Event) {
	switch event.Kind {
	case EventAttemptStarted, EventAttemptSucceeded, EventAttemptFailed, EventRetriesExhausted, EventRetryAborted, EventNonRetryable:
		s.logger.LogRetryEvent(ctx, string(event.Kind), event.Attempt, event.MaxAttempts, event.Delay, event.Err)
	case EventCircuitOpened, EventCircuitHalfOpen, EventCircuitClosed:
		s.logger.LogCircuitEvent(ctx, event.Source, event.From.String(), event.To.String(), event.Failures)
	case EventCallRejected:
		s.logger.WithContext(ctx).WithField("breaker", event.Source).Debug("Call rejected by open circuit")
	case EventCheckCompleted:
		msg := ""
		if event.Err != nil {
			msg = event.Err.Error()
		}
		s.logger.LogCheckEvent(ctx, event.Source, event.Healthy, event.Latency, msg)
	}
}

// ZapSink writes events to a zap logger
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a sink backed by logger, or by zap's global logger when nil
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.L()
	}
	return &ZapSink{logger: logger}
}

// Observe logs the event
func (s *ZapSink) Observe(_ context.Context, event Event) {
	fields := []zap.Field{
		zap.String("event", string(event.Kind)),
		zap.String("source", event.Source),
	}
	if event.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", event.Attempt))
	}
	if event.MaxAttempts > 0 {
		fields = append(fields, zap.Int("max_attempts", event.MaxAttempts))
	}
	if event.Delay > 0 {
		fields = append(fields, zap.Duration("delay", event.Delay))
	}
	if event.Kind == EventCheckCompleted {
		fields = append(fields, zap.Bool("healthy", event.Healthy), zap.Duration("latency", event.Latency))
	}
	if event.From != event.To {
		fields = append(fields, zap.String("from", event.From.String()), zap.String("to", event.To.String()))
	}
	if event.Err != nil {
		fields = append(fields, zap.Error(event.Err))
	}

	if event.Failure() {
		s.logger.Warn("resilience event", fields...)
		return
	}
	s.logger.Info("resilience event", fields...)
}

// AggregatorSink records failure events into an ErrorAggregator
type AggregatorSink struct {
	aggregator *ErrorAggregator
}

// NewAggregatorSink creates a sink that feeds aggregator
func NewAggregatorSink(aggregator *ErrorAggregator) *AggregatorSink {
	return &AggregatorSink{aggregator: aggregator}
}

// Observe records failures; successes and intermediate transitions are ignored
func (s *AggregatorSink) Observe(_ context.Context, event Event) {
	if s.aggregator == nil || !event.Failure() {
		return
	}
	// Individual attempt failures are covered by the terminal event
	if event.Kind == EventAttemptFailed {
		return
	}

	kind, message := string(event.Kind), string(event.Kind)
	if event.Err != nil {
		kind, message = errorKind(event.Err), event.Err.Error()
	}
	s.aggregator.Record(kind, message, map[string]string{
		"event":  string(event.Kind),
		"source": event.Source,
	})
}
