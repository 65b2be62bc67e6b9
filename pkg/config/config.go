package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Retry      RetryConfig      `json:"retry" yaml:"retry"`
	Breaker    BreakerConfig    `json:"breaker" yaml:"breaker"`
	Health     HealthConfig     `json:"health" yaml:"health"`
	Aggregator AggregatorConfig `json:"aggregator" yaml:"aggregator"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `json:"format" yaml:"format" validate:"oneof=json text"`
	Output string `json:"output" yaml:"output" validate:"required"`
}

// RetryConfig contains the backoff policy used by retriers
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay" validate:"gt=0"`
	Multiplier  float64       `json:"multiplier" yaml:"multiplier" validate:"gte=1"`
}

// BreakerConfig contains circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" validate:"gte=1"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout" validate:"gt=0"`
	ResetOnSuccess   bool          `json:"reset_on_success" yaml:"reset_on_success"`
}

// HealthConfig contains health checker configuration
type HealthConfig struct {
	Timeout     time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	Concurrency int           `json:"concurrency" yaml:"concurrency" validate:"gte=0"`
	// Targets is a comma-separated list of URLs probed with GET
	Targets string `json:"targets" yaml:"targets"`
	// Retry enables retrying each check with the retry policy
	Retry bool `json:"retry" yaml:"retry"`
}

// AggregatorConfig contains error aggregator configuration
type AggregatorConfig struct {
	Window   time.Duration `json:"window" yaml:"window" validate:"gt=0"`
	TopKinds int           `json:"top_kinds" yaml:"top_kinds" validate:"gte=1"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins"`
}

// RedisConfig contains the Redis server probed as a health target
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db" validate:"gte=0"`
	Critical bool   `json:"critical" yaml:"critical"`
}

// DatabaseConfig contains the database probed as a health target
type DatabaseConfig struct {
	Driver   string `json:"driver" yaml:"driver" validate:"omitempty,oneof=postgres mysql"`
	DSN      string `json:"dsn" yaml:"dsn"`
	Critical bool   `json:"critical" yaml:"critical"`
}

// MetricsConfig contains Prometheus configuration
type MetricsConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Namespace string        `json:"namespace" yaml:"namespace"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	JaegerEndpoint string  `json:"jaeger_endpoint" yaml:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate" yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			Multiplier:  2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Health: HealthConfig{
			Timeout: 5 * time.Second,
		},
		Aggregator: AggregatorConfig{
			Window:   5 * time.Minute,
			TopKinds: 5,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "resilience",
			Interval:  15 * time.Second,
		},
		Tracing: TracingConfig{
			ServiceName:    "resilience-toolkit",
			JaegerEndpoint: "http://localhost:14268/api/traces",
			SamplingRate:   1.0,
		},
	}
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := Default()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadFile reads a YAML configuration file. Environment variables override
// values from the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() {
	c.Logging.Level = getEnvString("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvString("LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnvString("LOG_OUTPUT", c.Logging.Output)

	c.Retry.MaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.BaseDelay = getEnvDuration("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.Multiplier = getEnvFloat("RETRY_MULTIPLIER", c.Retry.Multiplier)

	c.Breaker.FailureThreshold = getEnvInt("BREAKER_FAILURE_THRESHOLD", c.Breaker.FailureThreshold)
	c.Breaker.OpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", c.Breaker.OpenTimeout)
	c.Breaker.ResetOnSuccess = getEnvBool("BREAKER_RESET_ON_SUCCESS", c.Breaker.ResetOnSuccess)

	c.Health.Timeout = getEnvDuration("HEALTH_TIMEOUT", c.Health.Timeout)
	c.Health.Concurrency = getEnvInt("HEALTH_CONCURRENCY", c.Health.Concurrency)
	c.Health.Targets = getEnvString("HEALTH_TARGETS", c.Health.Targets)
	c.Health.Retry = getEnvBool("HEALTH_RETRY", c.Health.Retry)

	c.Aggregator.Window = getEnvDuration("AGGREGATOR_WINDOW", c.Aggregator.Window)
	c.Aggregator.TopKinds = getEnvInt("AGGREGATOR_TOP_KINDS", c.Aggregator.TopKinds)

	c.Server.Host = getEnvString("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Redis.Addr = getEnvString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvString("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.Critical = getEnvBool("REDIS_CRITICAL", c.Redis.Critical)

	c.Database.Driver = getEnvString("DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnvString("DATABASE_DSN", c.Database.DSN)
	c.Database.Critical = getEnvBool("DATABASE_CRITICAL", c.Database.Critical)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Namespace = getEnvString("METRICS_NAMESPACE", c.Metrics.Namespace)
	c.Metrics.Interval = getEnvDuration("METRICS_INTERVAL", c.Metrics.Interval)

	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.ServiceName = getEnvString("TRACING_SERVICE_NAME", c.Tracing.ServiceName)
	c.Tracing.JaegerEndpoint = getEnvString("JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)
	c.Tracing.SamplingRate = getEnvFloat("TRACING_SAMPLING_RATE", c.Tracing.SamplingRate)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration. Every violation is reported, not just the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := validate.Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				result = multierror.Append(result, fmt.Errorf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	if c.Database.Driver != "" && c.Database.DSN == "" {
		result = multierror.Append(result, fmt.Errorf("database DSN is required when a driver is set"))
	}
	if c.Database.DSN != "" && c.Database.Driver == "" {
		result = multierror.Append(result, fmt.Errorf("database driver is required when a DSN is set"))
	}
	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		result = multierror.Append(result, fmt.Errorf("metrics interval must be positive"))
	}

	return result.ErrorOrNil()
}

// Address returns the host:port the HTTP server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
