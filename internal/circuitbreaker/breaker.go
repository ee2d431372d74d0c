package circuitbreaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/metrics"
)

type Phase int

const (
	PhaseClosed   Phase = iota // Normal operation
	PhaseOpen                  // Fast-failing requests
	PhaseHalfOpen              // Probing for recovery
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseOpen:
		return "open"
	case PhaseHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultHalfOpenQuota    = 3
)

// Config holds per-backend breaker tuning. Zero values fall back to the
// defaults when a Breaker is created.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenQuota    int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		HalfOpenQuota:    DefaultHalfOpenQuota,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.HalfOpenQuota <= 0 {
		c.HalfOpenQuota = DefaultHalfOpenQuota
	}
	return c
}

// Stats are cumulative totals kept for observability. They survive phase
// transitions and manual resets.
type Stats struct {
	Requests  uint64 `json:"requests"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
	Opens     uint64 `json:"opens"`
	Closes    uint64 `json:"closes"`
}

// Snapshot is a point-in-time copy of a breaker's state.
type Snapshot struct {
	Name            string     `json:"name"`
	Phase           string     `json:"phase"`
	FailureCount    int        `json:"failure_count"`
	SuccessCount    int        `json:"success_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime *time.Time `json:"last_success_time,omitempty"`
	NextAttemptTime *time.Time `json:"next_attempt_time,omitempty"`
	Stats           Stats      `json:"stats"`
}

// Breaker guards live calls to a single backend. All transitions happen
// under the mutex; the OPEN to HALF_OPEN move is evaluated lazily inside
// Allow rather than by a background timer.
type Breaker struct {
	name   string
	config Config
	logger *slog.Logger

	mutex           sync.Mutex
	phase           Phase
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastSuccessTime time.Time
	nextAttemptTime time.Time
	stats           Stats
}

func NewBreaker(name string, config Config, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:   name,
		config: config.withDefaults(),
		logger: logger,
		phase:  PhaseClosed,
	}
}

// Allow reports whether a call to the backend is permitted. An open
// breaker whose recovery timeout has elapsed transitions to half-open as
// a side effect and lets the call through as a probe.
func (b *Breaker) Allow() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch b.phase {
	case PhaseClosed:
		return true
	case PhaseOpen:
		if !time.Now().Before(b.nextAttemptTime) {
			b.transitionTo(PhaseHalfOpen)
			b.failureCount = 0
			b.successCount = 0
			return true
		}
		return false
	case PhaseHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess applies the outcome of a successful proxied call.
func (b *Breaker) RecordSuccess() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.lastSuccessTime = time.Now()
	b.stats.Requests++
	b.stats.Successes++

	switch b.phase {
	case PhaseClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	case PhaseHalfOpen:
		b.successCount++
		if b.successCount >= b.config.HalfOpenQuota {
			b.transitionTo(PhaseClosed)
			b.stats.Closes++
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

// RecordFailure applies the outcome of a failed proxied call.
func (b *Breaker) RecordFailure() {
	now := time.Now()

	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.lastFailureTime = now
	b.stats.Requests++
	b.stats.Failures++

	switch b.phase {
	case PhaseClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.open(now)
		}
	case PhaseHalfOpen:
		// A single failure during the trial phase reopens the circuit.
		b.open(now)
	case PhaseOpen:
		b.failureCount++
	}
}

func (b *Breaker) open(now time.Time) {
	b.transitionTo(PhaseOpen)
	b.stats.Opens++
	b.nextAttemptTime = now.Add(b.config.RecoveryTimeout)
}

// transitionTo must be called with the mutex held.
func (b *Breaker) transitionTo(next Phase) {
	prev := b.phase
	if prev == next {
		return
	}
	b.phase = next

	b.logger.Warn("Circuit phase changed",
		slog.String("backend", b.name),
		slog.String("from", prev.String()),
		slog.String("to", next.String()))

	metrics.RecordCircuitTransition(b.name, prev.String(), next.String(), float64(next))
}

// Reset forces the breaker back to closed with zeroed counters. The
// cumulative stats are preserved.
func (b *Breaker) Reset() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.transitionTo(PhaseClosed)
	b.failureCount = 0
	b.successCount = 0
	b.lastFailureTime = time.Time{}
	b.lastSuccessTime = time.Time{}
	b.nextAttemptTime = time.Time{}
}

// Phase returns the current phase without evaluating the recovery check.
func (b *Breaker) Phase() Phase {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.phase
}

// NextAttempt returns when an open breaker will next permit a probe.
// The zero time means the breaker has never opened.
func (b *Breaker) NextAttempt() time.Time {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.nextAttemptTime
}

// Snapshot returns a copy of the breaker state for the admin surface.
func (b *Breaker) Snapshot() Snapshot {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return Snapshot{
		Name:            b.name,
		Phase:           b.phase.String(),
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: nullableTime(b.lastFailureTime),
		LastSuccessTime: nullableTime(b.lastSuccessTime),
		NextAttemptTime: nullableTime(b.nextAttemptTime),
		Stats:           b.stats,
	}
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
