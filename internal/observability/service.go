package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/resilience-toolkit/internal/server"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/config"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/health"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/metrics"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/resilience"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/tracing"
)

// Service wires the logger, metrics, tracing, error aggregation and health
// checking into one unit
type Service struct {
	config     *config.Config
	version    string
	logger     *logging.Logger
	metrics    *metrics.Metrics
	tracing    *tracing.TracingService
	aggregator *resilience.ErrorAggregator
	sink       resilience.Sink
	health     *health.Service
	breakers   []*resilience.CircuitBreaker
	closers    []func() error
}

// Option customizes a Service before its targets are registered
type Option func(*Service)

// WithLogger replaces the logger built from the configuration
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTracing replaces the tracing service built from the configuration
func WithTracing(ts *tracing.TracingService) Option {
	return func(s *Service) { s.tracing = ts }
}

// NewService creates a new observability service and registers the targets
// named by the configuration
func NewService(cfg *config.Config, version string, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Service{config: cfg, version: version}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		logger, err := logging.NewLogger(LoggerConfig(cfg, version))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		s.logger = logger
	}

	s.metrics = metrics.NewMetrics(MetricsConfig(cfg))

	if s.tracing == nil {
		ts, err := tracing.NewTracingService(TracingConfig(cfg, version))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		s.tracing = ts
	}

	aggConfig := AggregatorConfig(cfg)
	aggConfig.Logger = s.logger
	s.aggregator = resilience.NewErrorAggregator(aggConfig)

	s.sink = resilience.MultiSink(
		s.metrics,
		tracing.NewSink(),
		resilience.NewAggregatorSink(s.aggregator),
	)

	checkerConfig := CheckerConfig(cfg)
	checkerConfig.Sink = s.sink
	checkerConfig.Logger = s.logger
	checkerConfig.Tracer = s.tracing.Tracer()
	if cfg.Health.Retry {
		checkerConfig.Retrier = resilience.NewRetrier(resilience.RetryConfig{
			Name:            "health",
			Policy:          BackoffPolicy(cfg),
			RetryableErrors: resilience.DefaultRetryableErrors,
			Sink:            s.sink,
			Logger:          s.logger,
		})
	}

	s.health = health.NewService(health.NewChecker(checkerConfig), s.logger).
		WithMetadata(map[string]string{
			"service": cfg.Tracing.ServiceName,
			"version": version,
		})

	if err := s.setupHealthChecks(); err != nil {
		_ = s.close()
		return nil, err
	}

	return s, nil
}

// setupHealthChecks registers the HTTP, Redis and SQL targets from the configuration
func (s *Service) setupHealthChecks() error {
	client := s.tracing.InstrumentHTTPClient(&http.Client{})
	for _, target := range health.HTTPTargets(s.config.Health.Targets, client) {
		s.register(target)
	}

	if s.config.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     s.config.Redis.Addr,
			Password: s.config.Redis.Password,
			DB:       s.config.Redis.DB,
		})
		s.closers = append(s.closers, rdb.Close)

		target := health.RedisTarget("redis", rdb)
		if s.config.Redis.Critical {
			target = health.Critical(target)
		}
		s.register(target)
	}

	if s.config.Database.Driver != "" {
		db, err := health.OpenSQL(s.config.Database.Driver, s.config.Database.DSN)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, db.Close)

		target := health.SQLTarget("database", db)
		if s.config.Database.Critical {
			target = health.Critical(target)
		}
		s.register(target)
	}

	if len(s.health.Targets()) == 0 {
		s.logger.Warn("No health targets configured",
			"hint", "set HEALTH_TARGETS, REDIS_ADDR or DATABASE_DRIVER",
		)
	}
	return nil
}

// register guards target with a breaker of the same name before adding it
func (s *Service) register(target health.Target) {
	cb := s.NewBreaker(target.ID)
	s.breakers = append(s.breakers, cb)
	s.health.RegisterTarget(health.Guard(target, cb))
}

// Logger returns the logger instance
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Metrics returns the metrics instance
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Health returns the health service instance
func (s *Service) Health() *health.Service {
	return s.health
}

// Tracing returns the tracing service instance
func (s *Service) Tracing() *tracing.TracingService {
	return s.tracing
}

// Aggregator returns the error aggregator fed by every component's failures
func (s *Service) Aggregator() *resilience.ErrorAggregator {
	return s.aggregator
}

// Sink returns the sink that fans events out to metrics, spans and the aggregator
func (s *Service) Sink() resilience.Sink {
	return s.sink
}

// Breakers returns the breakers guarding the registered targets
func (s *Service) Breakers() []*resilience.CircuitBreaker {
	out := make([]*resilience.CircuitBreaker, len(s.breakers))
	copy(out, s.breakers)
	return out
}

// NewBreaker creates a circuit breaker configured from the breaker section and
// reporting to the service sink
func (s *Service) NewBreaker(name string) *resilience.CircuitBreaker {
	cbConfig := BreakerConfig(s.config, name)
	cbConfig.Sink = s.sink
	cbConfig.Logger = s.logger
	return resilience.NewCircuitBreaker(cbConfig)
}

// Router builds the HTTP router exposing health, metrics and error summaries.
// The target breakers are always listed; extra adds caller-owned ones.
func (s *Service) Router(extra ...*resilience.CircuitBreaker) *gin.Engine {
	breakers := append(s.Breakers(), extra...)
	return server.NewRouter(server.Dependencies{
		Health:         s.health,
		Aggregator:     s.aggregator,
		Breakers:       breakers,
		Metrics:        s.metrics,
		Tracing:        s.tracing,
		Logger:         s.logger,
		AllowedOrigins: s.config.Server.AllowedOrigins,
		Window:         s.config.Aggregator.Window,
		Debug:          s.config.Logging.Level == "debug",
	})
}

// CheckOnce runs every registered check a single time
func (s *Service) CheckOnce(ctx context.Context) health.Report {
	return s.health.CheckHealth(ctx)
}

// Serve runs the HTTP server, the metrics collector and the background health
// monitor until ctx is cancelled
func (s *Service) Serve(ctx context.Context, extra ...*resilience.CircuitBreaker) error {
	breakers := append(s.Breakers(), extra...)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.config.Metrics.Enabled {
		collector := metrics.NewMetricsCollector(s.metrics, s.config.Metrics.Interval, s.config.Aggregator.Window, s.aggregator, breakers...)
		go collector.Start(ctx)
		defer collector.Stop()

		go s.MonitorSystemHealth(ctx, s.config.Metrics.Interval)
	}

	return server.New(s.config.Server, s.Router(extra...), s.logger).Run(ctx)
}

// MonitorSystemHealth periodically checks every target so that gauges and the
// aggregator stay current without HTTP traffic
func (s *Service) MonitorSystemHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAndReport(ctx)
		}
	}
}

func (s *Service) checkAndReport(ctx context.Context) {
	report := s.health.CheckHealth(ctx)

	switch report.Status {
	case health.StatusUnhealthy:
		s.logger.Error("System unhealthy",
			"level", report.Level.String(),
			"unhealthy", report.Unhealthy,
		)
	case health.StatusDegraded:
		s.logger.Warn("System degraded",
			"level", report.Level.String(),
			"unhealthy", report.Unhealthy,
		)
	}
}

// Shutdown flushes tracing and releases target connections
func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.WithContext(ctx).Info("Shutting down observability service")

	if err := s.tracing.Shutdown(ctx); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to shutdown tracing service")
		_ = s.close()
		return err
	}

	return s.close()
}

func (s *Service) close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}
