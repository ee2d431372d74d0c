package registry

import (
	"net/url"
	"sync"
	"time"
)

// Status is the registry's view of a backend, derived purely from the
// error score and the outcome of the most recent poll.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusDown      Status = "down"
)

// gaugeValue maps a status onto the ordinal used by the metrics gauge.
func (s Status) gaugeValue() float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 3
	case StatusDown:
		return 4
	default:
		return 0
	}
}

// ServiceDescriptor is the static configuration for one backend.
// Immutable after load.
type ServiceDescriptor struct {
	Name             string
	BaseURL          *url.URL
	HealthPath       string
	Timeout          time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenQuota    int
}

// HealthRecord is a point-in-time copy of one backend's health state.
type HealthRecord struct {
	Name               string     `json:"name"`
	Status             Status     `json:"status"`
	LastSeen           *time.Time `json:"last_seen,omitempty"`
	LastResponseTimeMs int64      `json:"last_response_time_ms"`
	ErrorScore         int        `json:"error_score"`
	SuccessCount       uint64     `json:"success_count"`
	TotalPolls         uint64     `json:"total_polls"`
	UptimeRatio        float64    `json:"uptime_ratio"`
}

// serviceState is the mutable record behind a HealthRecord. Each state
// has its own mutex so polls of different backends never contend.
type serviceState struct {
	mutex            sync.Mutex
	descriptor       ServiceDescriptor
	status           Status
	lastSeen         time.Time
	lastResponseTime time.Duration
	errorScore       int
	successCount     uint64
	totalPolls       uint64
}

// statusFor derives the status from the decaying error score and whether
// a successful poll has ever been observed.
func statusFor(score int, everSucceeded bool) Status {
	switch {
	case score >= 5:
		return StatusDown
	case score >= 3:
		return StatusUnhealthy
	case score >= 1:
		return StatusDegraded
	case everSucceeded:
		return StatusHealthy
	default:
		return StatusUnknown
	}
}

// snapshot must be called with the state mutex held.
func (s *serviceState) snapshot() HealthRecord {
	record := HealthRecord{
		Name:               s.descriptor.Name,
		Status:             s.status,
		LastSeen:           nullableTime(s.lastSeen),
		LastResponseTimeMs: s.lastResponseTime.Milliseconds(),
		ErrorScore:         s.errorScore,
		SuccessCount:       s.successCount,
		TotalPolls:         s.totalPolls,
	}
	if s.totalPolls > 0 {
		record.UptimeRatio = float64(s.successCount) / float64(s.totalPolls)
	}
	return record
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
