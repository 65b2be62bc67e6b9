package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/resilience-toolkit/internal/middleware"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/health"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/logging"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/metrics"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/resilience"
	"github.com/NikhilSetiya/resilience-toolkit/pkg/tracing"
)

// Dependencies are the components exposed over HTTP. Only Health is required.
type Dependencies struct {
	Health         *health.Service
	Aggregator     *resilience.ErrorAggregator
	Breakers       []*resilience.CircuitBreaker
	Metrics        *metrics.Metrics
	Tracing        *tracing.TracingService
	Logger         *logging.Logger
	AllowedOrigins []string
	// Window is the default error summary window for /errors
	Window time.Duration
	Debug  bool
}

// NewRouter creates and configures the probe router
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = logging.GetLogger()
	}
	if deps.Window <= 0 {
		deps.Window = 5 * time.Minute
	}

	router := gin.New()

	router.Use(middleware.LoggingMiddleware(deps.Logger))
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.ErrorLoggingMiddleware(deps.Logger))
	router.Use(middleware.CORSMiddleware(deps.AllowedOrigins))
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/health", deps.Health.Handler())
	router.GET("/live", deps.Health.LivenessHandler())
	router.GET("/ready", deps.Health.ReadinessHandler())

	h := &handlers{deps: deps}
	router.GET("/errors", h.errorSummary)
	router.GET("/breakers", h.breakers)

	return router
}

type handlers struct {
	deps Dependencies
}

// errorSummary serves the aggregator summary. The window can be overridden
// with ?window=<duration>.
func (h *handlers) errorSummary(c *gin.Context) {
	if h.deps.Aggregator == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "error aggregation is not enabled"})
		return
	}

	window := h.deps.Window
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_window",
				"message": "window must be a positive duration such as 30s or 5m",
			})
			return
		}
		window = parsed
	}

	c.JSON(http.StatusOK, h.deps.Aggregator.Summarize(window))
}

func (h *handlers) breakers(c *gin.Context) {
	snapshots := make([]resilience.CircuitSnapshot, 0, len(h.deps.Breakers))
	for _, cb := range h.deps.Breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"breakers": snapshots})
}
