package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/resilience"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Retry metrics
	RetryAttemptsTotal *prometheus.CounterVec
	RetryOutcomesTotal *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitState       *prometheus.GaugeVec
	CircuitTransitions *prometheus.CounterVec
	CircuitRejections  *prometheus.CounterVec

	// Health check metrics
	CheckDuration *prometheus.HistogramVec
	CheckHealthy  *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal        *prometheus.CounterVec
	ErrorRatePerMinute prometheus.Gauge
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Subsystem string `json:"subsystem" yaml:"subsystem"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "resilience",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates all Prometheus metrics on a private registry.
// Go runtime and process collectors are registered alongside them.
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: counter("http_requests_total", "Total number of HTTP requests",
			"method", "path", "status_code"),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: gauge("http_requests_in_flight", "Number of HTTP requests currently being processed",
			"method", "path"),

		RetryAttemptsTotal: counter("retry_attempts_total", "Total number of attempts made by retriers",
			"operation", "result"),
		RetryOutcomesTotal: counter("retry_outcomes_total", "Total number of finished retry sequences by outcome",
			"operation", "outcome"),

		CircuitState: gauge("circuit_breaker_state", "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			"breaker"),
		CircuitTransitions: counter("circuit_breaker_transitions_total", "Total number of circuit breaker state transitions",
			"breaker", "from", "to"),
		CircuitRejections: counter("circuit_breaker_rejections_total", "Total number of calls rejected by a circuit breaker",
			"breaker"),

		CheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "health_check_duration_seconds",
				Help:      "Health check duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"target", "healthy"},
		),
		CheckHealthy: gauge("health_check_up", "Whether the last check of a target succeeded (1) or not (0)",
			"target"),

		ErrorsTotal: counter("errors_total", "Total number of failures by source and kind",
			"source", "kind"),
		ErrorRatePerMinute: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "error_rate_per_minute",
			Help:      "Errors per minute over the aggregator window",
		}),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RetryAttemptsTotal,
		m.RetryOutcomesTotal,
		m.CircuitState,
		m.CircuitTransitions,
		m.CircuitRejections,
		m.CheckDuration,
		m.CheckHealthy,
		m.ErrorsTotal,
		m.ErrorRatePerMinute,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordError records error metrics
func (m *Metrics) RecordError(source, kind string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(source, kind).Inc()
}

// UpdateCircuitState sets the state gauge for a breaker
func (m *Metrics) UpdateCircuitState(breaker string, state resilience.CircuitState) {
	if m.CircuitState == nil {
		return
	}

	m.CircuitState.WithLabelValues(breaker).Set(float64(state))
}

// Observe implements resilience.Sink
func (m *Metrics) Observe(_ context.Context, event resilience.Event) {
	if m.registry == nil {
		return
	}

	switch event.Kind {
	case resilience.EventAttemptSucceeded:
		m.RetryAttemptsTotal.WithLabelValues(event.Source, "success").Inc()
		m.RetryOutcomesTotal.WithLabelValues(event.Source, "success").Inc()
	case resilience.EventAttemptFailed:
		m.RetryAttemptsTotal.WithLabelValues(event.Source, "failure").Inc()
	case resilience.EventNonRetryable:
		m.RetryAttemptsTotal.WithLabelValues(event.Source, "failure").Inc()
		m.RetryOutcomesTotal.WithLabelValues(event.Source, "non_retryable").Inc()
	case resilience.EventRetriesExhausted:
		m.RetryOutcomesTotal.WithLabelValues(event.Source, "exhausted").Inc()
	case resilience.EventRetryAborted:
		m.RetryOutcomesTotal.WithLabelValues(event.Source, "aborted").Inc()
	case resilience.EventCircuitOpened, resilience.EventCircuitHalfOpen, resilience.EventCircuitClosed:
		m.CircuitTransitions.WithLabelValues(event.Source, event.From.String(), event.To.String()).Inc()
		m.UpdateCircuitState(event.Source, event.To)
	case resilience.EventCallRejected:
		m.CircuitRejections.WithLabelValues(event.Source).Inc()
	case resilience.EventCheckCompleted:
		m.CheckDuration.WithLabelValues(event.Source, strconv.FormatBool(event.Healthy)).Observe(event.Latency.Seconds())
		up := 0.0
		if event.Healthy {
			up = 1
		}
		m.CheckHealthy.WithLabelValues(event.Source).Set(up)
	}

	if event.Failure() && event.Kind != resilience.EventAttemptFailed {
		m.RecordError(event.Source, string(event.Kind))
	}
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MetricsCollector periodically copies breaker and aggregator state into gauges
type MetricsCollector struct {
	metrics    *Metrics
	interval   time.Duration
	window     time.Duration
	aggregator *resilience.ErrorAggregator
	breakers   []*resilience.CircuitBreaker

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector. The error rate gauge is
// computed over window.
func NewMetricsCollector(metrics *Metrics, interval, window time.Duration, aggregator *resilience.ErrorAggregator, breakers ...*resilience.CircuitBreaker) *MetricsCollector {
	return &MetricsCollector{
		metrics:    metrics,
		interval:   interval,
		window:     window,
		aggregator: aggregator,
		breakers:   breakers,
		stopCh:     make(chan struct{}),
	}
}

// Start begins metrics collection and blocks until ctx ends or Stop is called
func (mc *MetricsCollector) Start(ctx context.Context) {
	mc.Collect()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-mc.stopCh:
			return
		case <-ticker.C:
			mc.Collect()
		}
	}
}

// Stop stops metrics collection
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
}

// Collect updates the gauges once
func (mc *MetricsCollector) Collect() {
	for _, cb := range mc.breakers {
		mc.metrics.UpdateCircuitState(cb.Name(), cb.State())
	}

	if mc.aggregator != nil && mc.metrics.ErrorRatePerMinute != nil {
		mc.metrics.ErrorRatePerMinute.Set(mc.aggregator.Summarize(mc.window).ErrorRatePerMinute)
	}
}
