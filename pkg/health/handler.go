package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
)

// Service owns a set of registered targets and serves their health over HTTP
type Service struct {
	checker  *Checker
	logger   *logging.Logger
	metadata map[string]string

	mutex   sync.RWMutex
	targets []Target
}

// NewService creates a new health check service
func NewService(checker *Checker, logger *logging.Logger) *Service {
	if checker == nil {
		checker = NewChecker(DefaultCheckerConfig())
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Service{
		checker:  checker,
		logger:   logger,
		metadata: make(map[string]string),
	}
}

// WithMetadata sets metadata returned by the health endpoint
func (s *Service) WithMetadata(metadata map[string]string) *Service {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.metadata = metadata
	return s
}

// RegisterTarget adds a target, replacing any target with the same ID
func (s *Service) RegisterTarget(target Target) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, t := range s.targets {
		if t.ID == target.ID {
			s.targets[i] = target
			return
		}
	}
	s.targets = append(s.targets, target)
}

// UnregisterTarget removes the target with id
func (s *Service) UnregisterTarget(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, t := range s.targets {
		if t.ID == id {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			return
		}
	}
}

// Targets returns a copy of the registered targets in registration order
func (s *Service) Targets() []Target {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]Target, len(s.targets))
	copy(out, s.targets)
	return out
}

// CheckHealth performs all health checks
func (s *Service) CheckHealth(ctx context.Context) Report {
	report := s.checker.Run(ctx, s.Targets())

	s.logger.WithContext(ctx).WithField("status", report.Status).
		WithField("level", report.Level.String()).
		WithField("unhealthy", report.Unhealthy).
		Debug("Health report computed")

	return report
}

type healthResponse struct {
	Report
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Handler returns a Gin handler for health checks
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout())
		defer cancel()

		report := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		switch report.Status {
		case StatusUnhealthy:
			statusCode = http.StatusServiceUnavailable
		case StatusDegraded:
			statusCode = http.StatusPartialContent
		}

		s.mutex.RLock()
		metadata := s.metadata
		s.mutex.RUnlock()

		c.JSON(statusCode, healthResponse{Report: report, Metadata: metadata})
	}
}

// LivenessHandler returns a simple liveness check handler
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// ReadinessHandler returns a readiness check handler
func (s *Service) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout())
		defer cancel()

		report := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		if !report.Ready() {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    report.Status,
			"level":     report.Level,
			"timestamp": report.Timestamp,
			"ready":     report.Ready(),
		})
	}
}

// requestTimeout leaves headroom over the per-target timeout for the fan-out itself
func (s *Service) requestTimeout() time.Duration {
	return s.checker.Timeout() + time.Second
}
