package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/api-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/api-gateway/internal/metrics"
	"github.com/angeloszaimis/api-gateway/internal/registry"
)

// target is one proxied backend: its reverse proxy and call budget.
type target struct {
	name    string
	proxy   *httputil.ReverseProxy
	timeout time.Duration
}

// Dispatcher resolves inbound requests to backends, guards them with the
// circuit breaker, proxies them, and reports the outcome. It never
// consults the registry to gate a request.
type Dispatcher struct {
	logger    *slog.Logger
	routes    *RouteTable
	targets   map[string]*target
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
}

// outcomeKey carries the proxy transport error from the per-target
// ErrorHandler back to ServeHTTP.
type outcomeKey struct{}

type proxyOutcome struct {
	err error
}

func New(
	logger *slog.Logger,
	routes *RouteTable,
	descriptors []registry.ServiceDescriptor,
	breakers *circuitbreaker.Registry,
	collector *metrics.Collector,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:    logger,
		routes:    routes,
		targets:   make(map[string]*target, len(descriptors)),
		breakers:  breakers,
		collector: collector,
	}

	for _, descriptor := range descriptors {
		d.targets[descriptor.Name] = d.newTarget(descriptor)
	}
	return d
}

func (d *Dispatcher) newTarget(descriptor registry.ServiceDescriptor) *target {
	t := &target{
		name:    descriptor.Name,
		proxy:   httputil.NewSingleHostReverseProxy(descriptor.BaseURL),
		timeout: descriptor.Timeout,
	}
	t.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if outcome, ok := r.Context().Value(outcomeKey{}).(*proxyOutcome); ok {
			outcome.err = err
		}
		category, status := classifyProxyError(err)
		writeError(w, status, ErrorBody{
			Error:    fmt.Sprintf("backend call failed: %v", err),
			Category: category,
			Backend:  t.name,
		})
	}
	return t
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set("X-Request-Id", requestID)
	}
	w.Header().Set("X-Request-Id", requestID)

	log := d.logger.With(
		slog.String("request_id", requestID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))

	name, ok := d.routes.Match(r.URL.Path)
	if !ok {
		log.Warn("No route matches request path")
		writeError(w, http.StatusNotFound, ErrorBody{
			Error:    "route not found",
			Category: CategoryRouteNotFound,
		})
		d.emit(metrics.DispatchEvent{
			Type:      metrics.EventRouteMiss,
			Timestamp: time.Now(),
			Outcome:   CategoryRouteNotFound,
		})
		return
	}

	t, ok := d.targets[name]
	if !ok {
		// A route naming an unconfigured backend is a wiring bug; the
		// config loader rejects it, so treat it like a missing route.
		log.Error("Route resolves to unknown backend", slog.String("backend", name))
		writeError(w, http.StatusNotFound, ErrorBody{
			Error:    "route not found",
			Category: CategoryRouteNotFound,
		})
		return
	}

	breaker := d.breakers.Get(name)
	if !breaker.Allow() {
		retryAfter := retryAfterSeconds(breaker.NextAttempt())
		log.Warn("Circuit open, fast-failing request",
			slog.String("backend", name),
			slog.Int("retry_after_seconds", retryAfter))

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusServiceUnavailable, ErrorBody{
			Error:    "circuit open for backend",
			Category: CategoryCircuitOpen,
			Backend:  name,
		})
		d.emit(metrics.DispatchEvent{
			Type:      metrics.EventCircuitRejected,
			Timestamp: time.Now(),
			Backend:   name,
			Outcome:   CategoryCircuitOpen,
		})
		return
	}

	inbound := r.Context()
	ctx, cancel := context.WithTimeout(inbound, t.timeout)
	defer cancel()

	outcome := &proxyOutcome{}
	r = r.WithContext(context.WithValue(ctx, outcomeKey{}, outcome))

	w.Header().Set("X-Gateway-Backend", name)

	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	start := time.Now()
	t.proxy.ServeHTTP(wrapped, r)
	duration := time.Since(start)

	result := d.report(breaker, outcome.err, inbound.Err() != nil, wrapped.statusCode)

	log.Info("Request dispatched",
		slog.String("backend", name),
		slog.Int("status", wrapped.statusCode),
		slog.String("outcome", result),
		slog.Duration("duration", duration))

	d.emit(metrics.DispatchEvent{
		Type:       metrics.EventDispatchCompleted,
		Timestamp:  time.Now(),
		Backend:    name,
		Outcome:    result,
		Duration:   duration,
		StatusCode: wrapped.statusCode,
	})
}

// outcomeClientClosed labels dispatches aborted by the caller. It is a
// log and metrics outcome only, never an error-body category.
const outcomeClientClosed = "client_closed"

// report drives the breaker from the call outcome and names the result.
// A backend 5xx counts as a failure even though its body was forwarded
// verbatim to the caller. A call that died because the caller canceled
// or disconnected proves nothing about the backend, so the breaker sees
// no record at all.
func (d *Dispatcher) report(breaker *circuitbreaker.Breaker, proxyErr error, clientGone bool, statusCode int) string {
	switch {
	case proxyErr != nil && clientGone:
		return outcomeClientClosed
	case proxyErr != nil:
		breaker.RecordFailure()
		category, _ := classifyProxyError(proxyErr)
		return category
	case statusCode >= http.StatusInternalServerError:
		breaker.RecordFailure()
		return CategoryBackendError
	default:
		breaker.RecordSuccess()
		return "ok"
	}
}

func (d *Dispatcher) emit(event metrics.DispatchEvent) {
	if d.collector == nil {
		return
	}
	d.collector.Emit(event)
}

// classifyProxyError buckets a transport error into a failure category
// and the HTTP status surfaced to the caller.
func classifyProxyError(err error) (category string, status int) {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return CategoryBackendTimeout, http.StatusGatewayTimeout
	}
	return CategoryBackendUnreachable, http.StatusBadGateway
}

func retryAfterSeconds(nextAttempt time.Time) int {
	remaining := time.Until(nextAttempt)
	if remaining <= 0 {
		// Window elapsed between the breaker check and now; the next
		// request will be a probe, so hint the minimum wait.
		return 1
	}
	// Round up so callers never retry early.
	return int((remaining + time.Second - 1) / time.Second)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
