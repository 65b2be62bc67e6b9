package observability

import (
	"github.com/NikhilSetiya/resilience-toolkit/pkg/config"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/health"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/metrics"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/resilience"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/tracing"
)

// BackoffPolicy returns the retry policy
func BackoffPolicy(cfg *config.Config) resilience.BackoffPolicy {
	return resilience.BackoffPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
	}
}

// BreakerConfig returns a circuit breaker configuration named name
func BreakerConfig(cfg *config.Config, name string) resilience.CircuitBreakerConfig {
	cbConfig := resilience.DefaultCircuitBreakerConfig(name)
	cbConfig.FailureThreshold = cfg.Breaker.FailureThreshold
	cbConfig.OpenTimeout = cfg.Breaker.OpenTimeout
	cbConfig.ResetOnSuccess = cfg.Breaker.ResetOnSuccess
	return cbConfig
}

// CheckerConfig returns the health checker configuration. Retrying, sinks
// and tracing are wired by the caller.
func CheckerConfig(cfg *config.Config) health.CheckerConfig {
	return health.CheckerConfig{
		Timeout:     cfg.Health.Timeout,
		Concurrency: cfg.Health.Concurrency,
	}
}

// AggregatorConfig returns the error aggregator configuration
func AggregatorConfig(cfg *config.Config) resilience.AggregatorConfig {
	return resilience.AggregatorConfig{TopKinds: cfg.Aggregator.TopKinds}
}

// LoggerConfig returns the logger configuration
func LoggerConfig(cfg *config.Config, version string) *logging.Config {
	return &logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	}
}

// MetricsConfig returns the Prometheus configuration
func MetricsConfig(cfg *config.Config) *metrics.Config {
	return &metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	}
}

// TracingConfig returns the OpenTelemetry configuration
func TracingConfig(cfg *config.Config, version string) *tracing.Config {
	tc := tracing.DefaultConfig()
	tc.Enabled = cfg.Tracing.Enabled
	tc.ServiceName = cfg.Tracing.ServiceName
	tc.ServiceVersion = version
	tc.JaegerEndpoint = cfg.Tracing.JaegerEndpoint
	tc.SamplingRate = cfg.Tracing.SamplingRate
	return tc
}
