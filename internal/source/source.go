// Package source implements leader-fill detection: a polling source over the
// Data-API, an on-chain source over Polygon exchange logs, and a composite
// coordinator that merges and deduplicates their event streams.
package source

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// FillHandler receives normalized leader-fill events.
type FillHandler func(domain.LeaderFillEvent)

// FillSource is the contract every fill-detection path implements. A source
// owns its connection or polling state, normalizes whatever it observes into
// LeaderFillEvents, and reports its own health.
type FillSource interface {
	// Kind identifies the detection path.
	Kind() domain.FillSourceKind

	// Start begins detection. It does not block; events are delivered to
	// registered handlers until Stop.
	Start(ctx context.Context) error

	// Stop shuts the source down. No handler is invoked after Stop returns;
	// in-flight deliveries are allowed to complete first.
	Stop() error

	IsHealthy() bool
	HealthSummary() domain.HealthSummary

	// OnFill registers a handler and returns its unsubscribe function.
	OnFill(h FillHandler) (unsubscribe func())

	// Poll runs one manual catch-up sweep and returns the number of new
	// events found. Sources without a polling path return 0.
	Poll(ctx context.Context) (int, error)
}

// --------------------------------------------------------------------------
// Shared source internals
// --------------------------------------------------------------------------

// emitter is a handler registry with unsubscribe tokens. Emissions hold the
// read lock while invoking handlers, so closing the emitter (write lock)
// waits out in-flight deliveries; after close returns, no handler runs again.
type emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]FillHandler
	closed   bool
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[int]FillHandler)}
}

// subscribe registers h and returns its unsubscribe function.
func (e *emitter) subscribe(h FillHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.handlers[id] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

// emit delivers ev to every registered handler, unless the emitter has been
// closed.
func (e *emitter) emit(ev domain.LeaderFillEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}
	for _, h := range e.handlers {
		h(ev)
	}
}

// close prevents all further emissions. It blocks until in-flight deliveries
// have drained.
func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// health tracks a source's process-lifetime health counters. All methods are
// safe for concurrent use; reads never block on source I/O.
type health struct {
	mu      sync.RWMutex
	name    string
	healthy bool
	last    time.Time
	events  int64
	errors  int64
}

func newHealth(name string, healthy bool) *health {
	return &health{name: name, healthy: healthy}
}

func (h *health) recordEvent(ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events++
	if ts.After(h.last) {
		h.last = ts
	}
}

func (h *health) recordError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors++
}

func (h *health) setHealthy(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = v
}

func (h *health) isHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.healthy
}

func (h *health) summary() domain.HealthSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return domain.HealthSummary{
		Name:            h.name,
		Healthy:         h.healthy,
		LastEventAt:     h.last,
		EventsProcessed: h.events,
		ErrorCount:      h.errors,
	}
}
