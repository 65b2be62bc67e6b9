package health

import (
	"time"
)

// Status represents the health status of a report
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// Level describes how much of the checked system is unavailable
type Level int

const (
	// LevelNormal - fewer than a quarter of the targets are unhealthy
	LevelNormal Level = iota
	// LevelPartial - at least a quarter of the targets are unhealthy
	LevelPartial
	// LevelSevere - at least half of the targets are unhealthy
	LevelSevere
	// LevelCritical - at least three quarters of the targets are unhealthy
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelPartial:
		return "PARTIAL"
	case LevelSevere:
		return "SEVERE"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the level by name in JSON output
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Report is the aggregate outcome of a CheckAll run
type Report struct {
	Status    Status        `json:"status"`
	Level     Level         `json:"level"`
	Healthy   int           `json:"healthy"`
	Unhealthy int           `json:"unhealthy"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Results   []Result      `json:"results"`
}

// Ready reports whether the checked system can serve traffic
func (r Report) Ready() bool {
	return r.Status != StatusUnhealthy
}

// Summarize aggregates per-target results. Any failing critical target makes
// the report unhealthy, any other failure makes it degraded. An empty result
// set is unknown.
func Summarize(results []Result) Report {
	report := Report{
		Status:    StatusHealthy,
		Level:     LevelNormal,
		Timestamp: time.Now(),
		Results:   results,
	}
	if report.Results == nil {
		report.Results = []Result{}
	}

	if len(results) == 0 {
		report.Status = StatusUnknown
		return report
	}

	for _, r := range results {
		if r.Healthy {
			report.Healthy++
			continue
		}

		report.Unhealthy++
		if r.Critical {
			report.Status = StatusUnhealthy
		} else if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}

	report.Level = levelFor(float64(report.Unhealthy) / float64(len(results)))
	return report
}

func levelFor(unhealthyShare float64) Level {
	switch {
	case unhealthyShare >= 0.75:
		return LevelCritical
	case unhealthyShare >= 0.5:
		return LevelSevere
	case unhealthyShare >= 0.25:
		return LevelPartial
	default:
		return LevelNormal
	}
}
