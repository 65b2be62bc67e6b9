package resilience

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/errors"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
)

const unknownErrorKind = "unknown"

// ErrorRecord is a single recorded error occurrence
type ErrorRecord struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// KindCount pairs an error kind with its number of occurrences
type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// ErrorSummary describes the errors recorded within a window ending now
type ErrorSummary struct {
	TotalErrors        int           `json:"total_errors"`
	ErrorRatePerMinute float64       `json:"error_rate_per_minute"`
	TopKinds           []KindCount   `json:"top_kinds"`
	Window             time.Duration `json:"window"`
}

// AggregatorConfig configures an ErrorAggregator
type AggregatorConfig struct {
	// TopKinds caps the number of kinds returned by Summarize
	TopKinds int
	// Clock overrides time.Now
	Clock func() time.Time
	// Logger overrides the global logger
	Logger *logging.Logger
}

// ErrorAggregator records error occurrences and summarizes them over a sliding window.
// It is safe for concurrent use.
type ErrorAggregator struct {
	topKinds int
	now      func() time.Time
	logger   *logging.Logger

	mu      sync.RWMutex
	records []ErrorRecord
	counts  map[string]int
}

// NewErrorAggregator creates an empty aggregator
func NewErrorAggregator(config AggregatorConfig) *ErrorAggregator {
	a := &ErrorAggregator{
		topKinds: config.TopKinds,
		now:      config.Clock,
		logger:   config.Logger,
		counts:   make(map[string]int),
	}
	if a.topKinds <= 0 {
		a.topKinds = 5
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = logging.GetLogger()
	}
	return a
}

// Record appends an occurrence. It never fails: an empty kind is stored as
// "unknown" and an ID generation failure leaves the ID empty.
func (a *ErrorAggregator) Record(kind, message string, context map[string]string) ErrorRecord {
	if kind == "" {
		kind = unknownErrorKind
	}

	record := ErrorRecord{
		Timestamp: a.now(),
		Kind:      kind,
		Message:   message,
	}
	if id, err := uuid.NewRandom(); err == nil {
		record.ID = id.String()
	}
	if len(context) > 0 {
		record.Context = make(map[string]string, len(context))
		for k, v := range context {
			record.Context[k] = v
		}
	}

	a.mu.Lock()
	a.records = append(a.records, record)
	a.counts[kind]++
	a.mu.Unlock()

	a.logger.Debug("Error recorded",
		"kind", kind,
		"message", message,
	)

	return record
}

// RecordError records err under its classified kind
func (a *ErrorAggregator) RecordError(err error, context map[string]string) ErrorRecord {
	if err == nil {
		return a.Record(unknownErrorKind, "nil error recorded", context)
	}
	return a.Record(errorKind(err), err.Error(), context)
}

// Summarize reports the records whose timestamp lies within window of now.
// It does not modify the aggregator.
func (a *ErrorAggregator) Summarize(window time.Duration) ErrorSummary {
	summary := ErrorSummary{
		TopKinds: []KindCount{},
		Window:   window,
	}
	if window <= 0 {
		return summary
	}

	now := a.now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	counts := make(map[string]int)
	var order []string
	for _, r := range a.records {
		age := now.Sub(r.Timestamp)
		if age < 0 || age > window {
			continue
		}
		if _, seen := counts[r.Kind]; !seen {
			order = append(order, r.Kind)
		}
		counts[r.Kind]++
		summary.TotalErrors++
	}

	summary.ErrorRatePerMinute = float64(summary.TotalErrors) / window.Minutes()

	kinds := make([]KindCount, 0, len(order))
	for _, k := range order {
		kinds = append(kinds, KindCount{Kind: k, Count: counts[k]})
	}
	// Stable so ties keep first-seen order
	sort.SliceStable(kinds, func(i, j int) bool {
		return kinds[i].Count > kinds[j].Count
	})
	if len(kinds) > a.topKinds {
		kinds = kinds[:a.topKinds]
	}
	summary.TopKinds = kinds

	return summary
}

// Counts returns the cumulative count per kind since creation
func (a *ErrorAggregator) Counts() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// Records returns a copy of every record in insertion order
func (a *ErrorAggregator) Records() []ErrorRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]ErrorRecord, len(a.records))
	copy(out, a.records)
	return out
}

// Len returns the number of records
func (a *ErrorAggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.records)
}

// errorKind names err by the first classified error in its chain, or by its Go type
func errorKind(err error) string {
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		switch v := e.(type) {
		case *errors.AppError:
			return string(v.Type)
		case errors.Typed:
			return string(v.Type())
		}
	}
	return fmt.Sprintf("%T", err)
}
