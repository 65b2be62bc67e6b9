package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t testing.TB, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)
	return logger, &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	return logEntry
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			config:  &Config{Level: "invalid", Format: "json", Output: "stdout"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  &Config{Level: "info", Format: "invalid", Output: "stdout"},
			wantErr: true,
		},
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTarget(ctx, "db")

	logger.WithContext(ctx).Info("test message")

	logEntry := decode(t, buf)
	assert.Equal(t, "test-correlation-id", logEntry["correlation_id"])
	assert.Equal(t, "req-1", logEntry["request_id"])
	assert.Equal(t, "db", logEntry["target"])
	assert.Equal(t, "test-service", logEntry["service"])
	assert.Equal(t, "1.0.0", logEntry["version"])
	assert.Equal(t, "test message", logEntry["message"])
}

func TestLogger_LogRequest(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogRequest(ctx, "GET", "/health", "test-agent", "127.0.0.1", 200, 100*time.Millisecond)

	logEntry := decode(t, buf)
	assert.Equal(t, "GET", logEntry["http_method"])
	assert.Equal(t, "/health", logEntry["http_path"])
	assert.Equal(t, float64(200), logEntry["http_status"])
	assert.Equal(t, "test-agent", logEntry["user_agent"])
	assert.Equal(t, "127.0.0.1", logEntry["client_ip"])
	assert.Equal(t, float64(100), logEntry["response_time_ms"])
}

func TestLogger_LogRetryEvent(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.LogRetryEvent(context.Background(), "attempt_failed", 1, 3, 200*time.Millisecond, errors.New("refused"))

	logEntry := decode(t, buf)
	assert.Equal(t, "attempt_failed", logEntry["event"])
	assert.Equal(t, float64(1), logEntry["attempt"])
	assert.Equal(t, float64(3), logEntry["max_attempts"])
	assert.Equal(t, "200ms", logEntry["delay"])
	assert.Equal(t, "refused", logEntry["error"])
	assert.Equal(t, "warning", logEntry["level"])
}

func TestLogger_LogRetryEvent_SuccessIsDebug(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.LogRetryEvent(context.Background(), "attempt_succeeded", 2, 3, 0, nil)
	assert.Empty(t, buf.String())
}

func TestLogger_LogCircuitEvent(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.LogCircuitEvent(context.Background(), "payments", "CLOSED", "OPEN", 3)

	logEntry := decode(t, buf)
	assert.Equal(t, "payments", logEntry["breaker"])
	assert.Equal(t, "CLOSED", logEntry["from"])
	assert.Equal(t, "OPEN", logEntry["to"])
	assert.Equal(t, float64(3), logEntry["failure_count"])
	assert.Equal(t, "error", logEntry["level"])
}

func TestLogger_LogCheckEvent(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.LogCheckEvent(context.Background(), "cache", false, 50*time.Millisecond, "timeout")

	logEntry := decode(t, buf)
	assert.Equal(t, "cache", logEntry["target"])
	assert.Equal(t, false, logEntry["healthy"])
	assert.Equal(t, float64(50), logEntry["latency_ms"])
	assert.Equal(t, "timeout", logEntry["error"])
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newTestLogger(t, "debug")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	testErr := assert.AnError

	logger.LogError(ctx, testErr, "test error message", logrus.Fields{"component": "test-component"})

	logEntry := decode(t, buf)
	assert.Equal(t, "test error message", logEntry["message"])
	assert.Equal(t, testErr.Error(), logEntry["error"])
	assert.Equal(t, "test-component", logEntry["component"])
	assert.Contains(t, logEntry, "stack_trace")
}

func TestCorrelationIDFunctions(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	assert.Equal(t, "test-correlation-id", GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))

	ctx = WithRequestID(context.Background(), "req-9")
	assert.Equal(t, "req-9", GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestLogger_KeyValueHelpers(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.Info("kv message", "attempt", 2, "dangling")

	logEntry := decode(t, buf)
	assert.Equal(t, "kv message", logEntry["message"])
	assert.Equal(t, float64(2), logEntry["attempt"])
	assert.NotContains(t, logEntry, "dangling")
}

func TestLogger_WithError(t *testing.T) {
	logger, buf := newTestLogger(t, "info")

	logger.WithError(assert.AnError).Error("error occurred")

	logEntry := decode(t, buf)
	assert.Equal(t, assert.AnError.Error(), logEntry["error"])
	assert.Contains(t, logEntry["error_type"], "errors.errorString")
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "text",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)

	logger.WithFields(logrus.Fields{"test_field": "test_value"}).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "test_field=test_value")
	assert.Contains(t, output, "service=test-service")
}

func TestSetGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetGlobalLogger(original)

	logger, _ := newTestLogger(t, "debug")
	SetGlobalLogger(logger)
	assert.Same(t, logger, GetLogger())

	SetGlobalLogger(nil)
	assert.Same(t, logger, GetLogger())
}

func BenchmarkLogger_WithContext(b *testing.B) {
	logger, _ := newTestLogger(b, "info")
	ctx := WithCorrelationID(context.Background(), "test-correlation-id")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithContext(ctx).Info("benchmark message")
	}
}
