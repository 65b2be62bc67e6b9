package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, config.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, config.Retry.BaseDelay)
	assert.Equal(t, 5, config.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, config.Breaker.OpenTimeout)
	assert.Equal(t, 5*time.Second, config.Health.Timeout)
	assert.Equal(t, "0.0.0.0:8080", config.Address())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "4")
	t.Setenv("RETRY_BASE_DELAY", "1s")
	t.Setenv("BREAKER_RESET_ON_SUCCESS", "true")
	t.Setenv("HEALTH_TARGETS", "http://a, http://b")
	t.Setenv("HEALTH_CONCURRENCY", "2")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://one.example, https://two.example")
	t.Setenv("SERVER_PORT", "not-a-number")

	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, config.Retry.MaxAttempts)
	assert.Equal(t, time.Second, config.Retry.BaseDelay)
	assert.True(t, config.Breaker.ResetOnSuccess)
	assert.Equal(t, "http://a, http://b", config.Health.Targets)
	assert.Equal(t, 2, config.Health.Concurrency)
	assert.Equal(t, []string{"https://one.example", "https://two.example"}, config.Server.AllowedOrigins)
	assert.Equal(t, 8080, config.Server.Port, "unparsable values keep the default")
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")
	t.Setenv("RETRY_MULTIPLIER", "0.5")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxAttempts")
	assert.Contains(t, err.Error(), "Multiplier")
	assert.Contains(t, err.Error(), "FailureThreshold")
}

func TestValidate_DatabasePair(t *testing.T) {
	config := Default()
	config.Database.Driver = "postgres"
	assert.ErrorContains(t, config.Validate(), "DSN is required")

	config.Database.Driver = ""
	config.Database.DSN = "postgres://localhost/db"
	assert.ErrorContains(t, config.Validate(), "driver is required")

	config.Database.Driver = "sqlite"
	assert.ErrorContains(t, config.Validate(), "Driver")

	config.Database.Driver = "mysql"
	assert.NoError(t, config.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
retry:
  max_attempts: 5
  base_delay: 250ms
  multiplier: 3
breaker:
  failure_threshold: 2
  open_timeout: 1m
health:
  timeout: 2s
  targets: http://svc/health
redis:
  addr: localhost:6379
  critical: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "7")

	config, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, config.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, config.Retry.BaseDelay)
	assert.Equal(t, 3.0, config.Retry.Multiplier)
	assert.Equal(t, 7, config.Breaker.FailureThreshold, "environment wins over the file")
	assert.Equal(t, time.Minute, config.Breaker.OpenTimeout)
	assert.Equal(t, 2*time.Second, config.Health.Timeout)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.True(t, config.Redis.Critical)
	assert.Equal(t, "json", config.Logging.Format, "unset keys keep defaults")
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry: [unclosed"), 0o600))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}
