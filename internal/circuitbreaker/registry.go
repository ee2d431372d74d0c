package circuitbreaker

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry holds one Breaker per backend name. Breakers are created
// lazily on first reference and live for the process lifetime.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*Breaker
	overrides map[string]Config
	defaults  Config
	logger    *slog.Logger
}

func NewRegistry(defaults Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		breakers:  make(map[string]*Breaker),
		overrides: make(map[string]Config),
		defaults:  defaults.withDefaults(),
		logger:    logger,
	}
}

// Configure sets a per-backend config override. It must be called before
// the backend's breaker is first referenced; later calls have no effect
// on an already created breaker.
func (r *Registry) Configure(name string, config Config) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.overrides[name] = config
}

// Get returns the breaker for the named backend, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mutex.RLock()
	b, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return b
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if b, exists = r.breakers[name]; exists {
		return b
	}

	config := r.defaults
	if override, ok := r.overrides[name]; ok {
		config = mergeConfig(r.defaults, override)
	}

	b = NewBreaker(name, config, r.logger)
	r.breakers[name] = b
	return b
}

// mergeConfig overlays the non-zero fields of the override on the defaults.
func mergeConfig(defaults, override Config) Config {
	merged := defaults
	if override.FailureThreshold > 0 {
		merged.FailureThreshold = override.FailureThreshold
	}
	if override.RecoveryTimeout > 0 {
		merged.RecoveryTimeout = override.RecoveryTimeout
	}
	if override.HalfOpenQuota > 0 {
		merged.HalfOpenQuota = override.HalfOpenQuota
	}
	return merged
}

// GetState returns a snapshot of the named backend's breaker, creating
// the breaker if it has never been referenced (implicitly closed).
func (r *Registry) GetState(name string) Snapshot {
	return r.Get(name).Snapshot()
}

// AllStates returns snapshots of every created breaker, sorted by name.
func (r *Registry) AllStates() []Snapshot {
	r.mutex.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mutex.RUnlock()

	states := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		states = append(states, b.Snapshot())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Name < states[j].Name
	})
	return states
}

// Reset forces the named backend's breaker back to closed.
func (r *Registry) Reset(name string) {
	r.Get(name).Reset()
}

// ResetAll resets every created breaker.
func (r *Registry) ResetAll() {
	r.mutex.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mutex.RUnlock()

	for _, b := range breakers {
		b.Reset()
	}
}
