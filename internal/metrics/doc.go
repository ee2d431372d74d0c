// Package metrics exposes gateway observability counters in Prometheus
// exposition format.
//
// Two paths feed the collectors:
//   - The registry and circuit breaker record polls, status changes and
//     phase transitions directly as they happen.
//   - The dispatcher emits DispatchEvents into a buffered channel consumed
//     by a Collector goroutine, so request handling never blocks on
//     metric bookkeeping. Events are dropped rather than queued when the
//     buffer is full.
//
// Example usage:
//
//	collector := metrics.NewCollector(1024, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.DispatchEvent{
//		Type:       metrics.EventDispatchCompleted,
//		Backend:    "orders",
//		Outcome:    "ok",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
// The /metrics endpooint is served by Handler(). The collector supports
// graceful shutdown with event draining to prevent data loss.
package metrics
