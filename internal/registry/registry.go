package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/angeloszaimis/api-gateway/internal/metrics"
)

// ErrUnknownService is returned for operations on a name that was never
// registered.
var ErrUnknownService = errors.New("unknown service")

// Stats counts registered backends per status bucket.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// Registry owns the canonical health state of every known backend. It
// polls each backend's health endpoint out of band and never gates live
// traffic.
type Registry struct {
	mutex    sync.RWMutex
	services map[string]*serviceState
	client   *http.Client
	logger   *slog.Logger

	pollMutex sync.Mutex
	cancel    context.CancelFunc
	pollWG    sync.WaitGroup
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		services: make(map[string]*serviceState),
		// Per-poll deadlines come from each descriptor's timeout via
		// request context, so the shared client carries none.
		client: &http.Client{},
		logger: logger,
	}
}

// RegisterAll seeds one health record per descriptor. Re-registering a
// name overwrites its configuration but preserves its counters.
func (r *Registry) RegisterAll(descriptors []ServiceDescriptor) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, d := range descriptors {
		if existing, ok := r.services[d.Name]; ok {
			existing.mutex.Lock()
			existing.descriptor = d
			existing.mutex.Unlock()
			continue
		}
		r.services[d.Name] = &serviceState{
			descriptor: d,
			status:     StatusUnknown,
		}
		metrics.SetRegistryStatus(d.Name, StatusUnknown.gaugeValue())
	}
}

func (r *Registry) lookup(name string) (*serviceState, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	st, ok := r.services[name]
	return st, ok
}

// PollOnce issues one bounded-timeout health request to the named
// backend and folds the outcome into its record. Poll failures only
// degrade the record; they are never returned as errors.
func (r *Registry) PollOnce(ctx context.Context, name string) error {
	st, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	st.mutex.Lock()
	descriptor := st.descriptor
	st.mutex.Unlock()

	// JoinPath keeps any path prefix on the base URL, so health polls
	// hit the same prefix proxied traffic does.
	healthURL := descriptor.BaseURL.JoinPath(descriptor.HealthPath)

	pollCtx, cancel := context.WithTimeout(ctx, descriptor.Timeout)
	defer cancel()

	start := time.Now()
	success, failureClass := r.probe(pollCtx, healthURL.String())
	elapsed := time.Since(start)

	r.apply(st, success, failureClass, elapsed, start)
	return nil
}

// probe performs the HTTP request. Any response below 500 counts as a
// health success; the body is not interpreted.
func (r *Registry) probe(ctx context.Context, healthURL string) (success bool, failureClass string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false, "request"
	}

	res, err := r.client.Do(req)
	if err != nil {
		return false, classifyNetworkError(err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError {
		return false, "server_error"
	}
	return true, ""
}

// apply folds one poll outcome into the record and logs transitions.
func (r *Registry) apply(st *serviceState, success bool, failureClass string, elapsed time.Duration, polledAt time.Time) {
	st.mutex.Lock()

	name := st.descriptor.Name
	prev := st.status

	st.totalPolls++
	st.lastResponseTime = elapsed
	if success {
		st.successCount++
		st.lastSeen = polledAt
		if st.errorScore > 0 {
			st.errorScore--
		}
	} else {
		st.errorScore++
	}
	st.status = statusFor(st.errorScore, !st.lastSeen.IsZero())

	next := st.status
	score := st.errorScore
	st.mutex.Unlock()

	result := "success"
	if !success {
		result = failureClass
	}
	metrics.RecordPoll(name, result, elapsed)
	metrics.SetRegistryStatus(name, next.gaugeValue())

	if prev != next {
		r.logger.Info("Service status changed",
			slog.String("service", name),
			slog.String("from", string(prev)),
			slog.String("to", string(next)),
			slog.Int("error_score", score),
			slog.String("poll_result", result))
	}
}

// classifyNetworkError buckets a poll error for diagnostics. The class
// never changes the status transition rule.
func classifyNetworkError(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "unresolved"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "refused"
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	return "network"
}

// PollAll fans out PollOnce concurrently across every registered
// backend. Each poll is isolated: a slow or failing backend never delays
// or corrupts another backend's record.
func (r *Registry) PollAll(ctx context.Context) {
	r.mutex.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mutex.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.PollOnce(ctx, name)
		}()
	}
	wg.Wait()
}

// StartPeriodicPolling launches the background poll loop. Calling it
// while a loop is already running is a no-op.
func (r *Registry) StartPeriodicPolling(interval time.Duration) {
	r.pollMutex.Lock()
	defer r.pollMutex.Unlock()

	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.pollWG.Add(1)

	go func() {
		defer r.pollWG.Done()

		r.logger.Info("Periodic health polling started",
			slog.Duration("interval", interval))
		defer r.logger.Info("Periodic health polling stopped")

		// Poll immediately so records leave the unknown state without
		// waiting a full interval.
		r.PollAll(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.PollAll(ctx)
			}
		}
	}()
}

// Stop cancels periodic polling and waits for the in-flight cycle to
// finish. No poll mutates a record after Stop returns. Safe to call
// concurrently and more than once.
func (r *Registry) Stop() {
	r.pollMutex.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.pollMutex.Unlock()

	if cancel != nil {
		cancel()
	}
	r.pollWG.Wait()
}

// TriggerPoll runs one immediate poll of the named backend, outside the
// periodic cadence.
func (r *Registry) TriggerPoll(ctx context.Context, name string) error {
	return r.PollOnce(ctx, name)
}

// ResetErrors clears the named backend's error score. The status is
// re-derived from the cleared score, so a backend that has ever been
// seen healthy returns to healthy.
func (r *Registry) ResetErrors(name string) error {
	st, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	st.mutex.Lock()
	st.errorScore = 0
	st.status = statusFor(0, !st.lastSeen.IsZero())
	next := st.status
	st.mutex.Unlock()

	metrics.SetRegistryStatus(name, next.gaugeValue())
	r.logger.Info("Service error score reset",
		slog.String("service", name),
		slog.String("status", string(next)))
	return nil
}

// GetStatus returns a copy of the named backend's health record.
func (r *Registry) GetStatus(name string) (HealthRecord, bool) {
	st, ok := r.lookup(name)
	if !ok {
		return HealthRecord{}, false
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()
	return st.snapshot(), true
}

// GetAll returns every health record, sorted by service name.
func (r *Registry) GetAll() []HealthRecord {
	r.mutex.RLock()
	states := make([]*serviceState, 0, len(r.services))
	for _, st := range r.services {
		states = append(states, st)
	}
	r.mutex.RUnlock()

	records := make([]HealthRecord, 0, len(states))
	for _, st := range states {
		st.mutex.Lock()
		records = append(records, st.snapshot())
		st.mutex.Unlock()
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records
}

// GetStats returns fleet-level counts per status bucket.
func (r *Registry) GetStats() Stats {
	records := r.GetAll()

	stats := Stats{
		Total:    len(records),
		ByStatus: make(map[Status]int),
	}
	for _, record := range records {
		stats.ByStatus[record.Status]++
	}
	return stats
}

// Descriptor returns the static configuration for the named backend.
func (r *Registry) Descriptor(name string) (ServiceDescriptor, bool) {
	st, ok := r.lookup(name)
	if !ok {
		return ServiceDescriptor{}, false
	}

	st.mutex.Lock()
	defer st.mutex.Unlock()
	return st.descriptor, true
}
