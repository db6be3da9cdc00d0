package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// cleanupInterval is how often the coordinator evicts expired dedupe keys.
const cleanupInterval = time.Minute

// Coordinator runs one or more fill sources concurrently, collapses
// duplicate reports of the same economic fill by dedupe key, and exposes a
// unified event stream and health view.
//
// Events pass through in each source's own emission order; no total order is
// imposed across sources.
//
// Deduplication only collapses reports carrying the same key. The polling
// and on-chain sources derive their keys from different identities (trade
// terms vs. tx hash and log index), so a fill observed by both sources can
// pass through twice; the downstream per-condition exposure lock and caps
// bound the effect.
type Coordinator struct {
	sources []FillSource
	dedup   *dedupWindow
	emitter *emitter
	logger  *slog.Logger

	unsubs []func()

	mu      sync.Mutex
	started bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCoordinator creates a Coordinator over the given sources with the given
// dedupe retention window.
func NewCoordinator(sources []FillSource, window time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		sources: sources,
		dedup:   newDedupWindow(window),
		emitter: newEmitter(),
		logger:  logger.With(slog.String("component", "fill_coordinator")),
		stop:    make(chan struct{}),
	}
}

// Start subscribes to every member source and starts them. Startup is
// all-or-nothing: if any source fails to start, those already running are
// stopped again.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("coordinator: already started")
	}
	if len(c.sources) == 0 {
		return fmt.Errorf("coordinator: no sources configured")
	}

	for _, src := range c.sources {
		c.unsubs = append(c.unsubs, src.OnFill(c.forward))
	}

	for i, src := range c.sources {
		if err := src.Start(ctx); err != nil {
			for j := 0; j < i; j++ {
				_ = c.sources[j].Stop()
			}
			return fmt.Errorf("coordinator: start %s source: %w", src.Kind(), err)
		}
	}

	c.started = true
	c.wg.Add(1)
	go c.cleanupLoop()

	kinds := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		kinds = append(kinds, string(src.Kind()))
	}
	c.logger.Info("fill coordinator started", slog.Any("sources", kinds))
	return nil
}

// Stop stops every member source, then closes the coordinator's own stream.
// After Stop returns, no downstream handler is invoked again.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.mu.Unlock()

	var firstErr error
	for _, src := range c.sources {
		if err := src.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, unsub := range c.unsubs {
		unsub()
	}

	close(c.stop)
	c.wg.Wait()
	c.emitter.close()

	c.logger.Info("fill coordinator stopped")
	return firstErr
}

// OnFill registers a downstream handler for the deduplicated stream and
// returns its unsubscribe function.
func (c *Coordinator) OnFill(h FillHandler) func() {
	return c.emitter.subscribe(h)
}

// Poll runs a manual catch-up sweep on every source and returns the total
// number of new events found.
func (c *Coordinator) Poll(ctx context.Context) (int, error) {
	var total int
	for _, src := range c.sources {
		n, err := src.Poll(ctx)
		if err != nil {
			return total, fmt.Errorf("coordinator: poll %s source: %w", src.Kind(), err)
		}
		total += n
	}
	return total, nil
}

// IsHealthy reports whether every member source is healthy.
func (c *Coordinator) IsHealthy() bool {
	for _, src := range c.sources {
		if !src.IsHealthy() {
			return false
		}
	}
	return true
}

// SourceHealthy reports the health of the member source of the given kind.
// Absent sources report false.
func (c *Coordinator) SourceHealthy(kind domain.FillSourceKind) bool {
	for _, src := range c.sources {
		if src.Kind() == kind {
			return src.IsHealthy()
		}
	}
	return false
}

// HasSource reports whether a source of the given kind is configured.
func (c *Coordinator) HasSource(kind domain.FillSourceKind) bool {
	for _, src := range c.sources {
		if src.Kind() == kind {
			return true
		}
	}
	return false
}

// HealthSummaries returns the per-source health views.
func (c *Coordinator) HealthSummaries() []domain.HealthSummary {
	out := make([]domain.HealthSummary, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, src.HealthSummary())
	}
	return out
}

// forward applies the dedupe filter to one upstream event and re-emits the
// survivors downstream.
func (c *Coordinator) forward(ev domain.LeaderFillEvent) {
	if c.dedup.isDuplicate(ev.DedupeKey) {
		c.logger.Debug("dropping duplicate fill",
			slog.String("dedupe_key", ev.DedupeKey),
			slog.String("source", string(ev.Source)),
		)
		return
	}
	c.emitter.emit(ev)
}

// cleanupLoop periodically evicts expired dedupe keys.
func (c *Coordinator) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.dedup.cleanup()
		}
	}
}
