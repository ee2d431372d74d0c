// Package circuitbreaker implements per-backend failure isolation for
// live proxied calls.
//
// A breaker converts repeated failures into fast rejection instead of
// cascading latency. It has three phases:
//
//   - closed: normal operation, calls pass through
//   - open: backend failing, calls rejected without contacting it
//   - half-open: limited trial phase probing for recovery
//
// The breaker is counter-based, not rate-based: in the closed phase each
// failure increments and each success decrements the failure count, and
// only reaching the threshold opens the circuit. Callers needing
// time-windowed breaking must wrap calls with their own windowing.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), logger)
//	cb := registry.Get("orders")
//	if cb.Allow() {
//	    // Make the call...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
