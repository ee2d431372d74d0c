package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DispatchRequestsTotal counts requests handled by the dispatcher,
	// labelled with the resolved backend and the dispatch outcome.
	DispatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_dispatch_requests_total",
			Help: "Total number of requests handled by the dispatcher",
		},
		[]string{"backend", "outcome"},
	)

	// DispatchDuration observes end-to-end proxied call latency.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_dispatch_duration_seconds",
			Help:    "Duration of proxied backend calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// CircuitPhase shows the current circuit breaker phase per backend.
	CircuitPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_phase",
			Help: "Current circuit breaker phase (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)

	// CircuitTransitionsTotal counts circuit breaker phase changes.
	CircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_transitions_total",
			Help: "Total number of circuit breaker phase transitions",
		},
		[]string{"backend", "from", "to"},
	)

	// CircuitRejectedTotal counts requests fast-failed on an open circuit.
	CircuitRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_rejected_total",
			Help: "Total number of requests rejected because the circuit was open",
		},
		[]string{"backend"},
	)

	// RegistryPollsTotal counts health polls per backend and result.
	RegistryPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_registry_polls_total",
			Help: "Total number of health polls issued by the service registry",
		},
		[]string{"backend", "result"},
	)

	// RegistryPollDuration observes health poll latency.
	RegistryPollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_registry_poll_duration_seconds",
			Help:    "Duration of health polls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// RegistryStatus shows the registry health status per backend.
	RegistryStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_registry_status",
			Help: "Registry health status (0=unknown, 1=healthy, 2=degraded, 3=unhealthy, 4=down)",
		},
		[]string{"backend"},
	)
)

// RecordDispatch records one completed dispatch attempt.
func RecordDispatch(backend, outcome string, duration time.Duration) {
	DispatchRequestsTotal.WithLabelValues(backend, outcome).Inc()
	if duration > 0 {
		DispatchDuration.WithLabelValues(backend).Observe(duration.Seconds())
	}
}

// RecordCircuitRejection records a fast-failed request.
func RecordCircuitRejection(backend string) {
	CircuitRejectedTotal.WithLabelValues(backend).Inc()
}

// RecordCircuitTransition records a phase change and updates the phase gauge.
func RecordCircuitTransition(backend, from, to string, phaseValue float64) {
	CircuitTransitionsTotal.WithLabelValues(backend, from, to).Inc()
	CircuitPhase.WithLabelValues(backend).Set(phaseValue)
}

// RecordPoll records one health poll outcome.
func RecordPoll(backend, result string, duration time.Duration) {
	RegistryPollsTotal.WithLabelValues(backend, result).Inc()
	RegistryPollDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// SetRegistryStatus updates the health status gauge for a backend.
func SetRegistryStatus(backend string, statusValue float64) {
	RegistryStatus.WithLabelValues(backend).Set(statusValue)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
