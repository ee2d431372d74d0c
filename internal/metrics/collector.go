package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventDispatchCompleted EventType = "dispatch_completed"
	EventCircuitRejected   EventType = "circuit_rejected"
	EventRouteMiss         EventType = "route_miss"
)

// DispatchEvent is one observation emitted by the dispatcher. Events are
// applied to the Prometheus collectors off the request path.
type DispatchEvent struct {
	Type       EventType
	Timestamp  time.Time
	Backend    string
	Outcome    string
	Duration   time.Duration
	StatusCode int
}

// Collector consumes dispatch events from a buffered channel so that
// metric bookkeeping never blocks request handling.
type Collector struct {
	eventCh chan DispatchEvent
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		eventCh: make(chan DispatchEvent, bufferSize),
		logger:  logger,
	}
}

// Emit enqueues an event without blocking. Events are dropped when the
// buffer is full; metrics are advisory and must never slow a request.
func (c *Collector) Emit(event DispatchEvent) {
	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event DispatchEvent) {
	switch event.Type {
	case EventDispatchCompleted:
		RecordDispatch(event.Backend, event.Outcome, event.Duration)

	case EventCircuitRejected:
		RecordDispatch(event.Backend, event.Outcome, 0)
		RecordCircuitRejection(event.Backend)

	case EventRouteMiss:
		DispatchRequestsTotal.WithLabelValues("none", event.Outcome).Inc()
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}
