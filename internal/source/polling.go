package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/platform/polymarket"
)

// PollingConfig tunes the Data-API polling source.
type PollingConfig struct {
	// Interval between polling sweeps.
	Interval time.Duration

	// Lookback is how far back the first sweep reaches; everything it finds
	// is flagged as backfill.
	Lookback time.Duration

	// MaxConsecutiveFailures flips the source unhealthy. The next successful
	// sweep recovers it.
	MaxConsecutiveFailures int
}

// dataAPIRateKey is the shared rate-limit bucket for Data-API requests.
const (
	dataAPIRateKey    = "data-api"
	dataAPIRateLimit  = 10
	dataAPIRateWindow = time.Second
)

// PollingSource detects leader fills by periodically querying the Data-API
// trade history per followed leader. It has no chain identity to work with,
// so dedupe keys are derived from trade terms.
type PollingSource struct {
	client  *polymarket.DataClient
	leaders []domain.Leader
	cfg     PollingConfig
	limiter domain.RateLimiter
	logger  *slog.Logger

	health  *health
	emitter *emitter

	mu       sync.Mutex
	cursors  map[string]time.Time // leader ID -> next since cursor
	failures int
	started  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewPollingSource creates a PollingSource for the given leaders. limiter
// may be nil, in which case sweeps run unthrottled.
func NewPollingSource(client *polymarket.DataClient, leaders []domain.Leader, cfg PollingConfig, limiter domain.RateLimiter, logger *slog.Logger) *PollingSource {
	return &PollingSource{
		client:  client,
		leaders: leaders,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "polling_source")),
		health:  newHealth("polling", true),
		emitter: newEmitter(),
		cursors: make(map[string]time.Time, len(leaders)),
		stop:    make(chan struct{}),
	}
}

// Kind implements FillSource.
func (s *PollingSource) Kind() domain.FillSourceKind { return domain.FillSourcePolling }

// Start begins the polling loop. The first sweep covers the configured
// lookback and is flagged as backfill.
func (s *PollingSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("polling source: already started")
	}
	s.started = true
	since := time.Now().Add(-s.cfg.Lookback)
	for _, l := range s.leaders {
		s.cursors[l.ID] = since
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("polling source started",
		slog.Int("leaders", len(s.leaders)),
		slog.Duration("interval", s.cfg.Interval),
	)
	return nil
}

// Stop halts the polling loop and waits for any in-flight sweep to finish.
// No handler is invoked after Stop returns.
func (s *PollingSource) Stop() error {
	select {
	case <-s.stop:
		return nil // already stopped
	default:
	}
	close(s.stop)
	s.wg.Wait()
	s.emitter.close()
	s.logger.Info("polling source stopped")
	return nil
}

// IsHealthy implements FillSource.
func (s *PollingSource) IsHealthy() bool { return s.health.isHealthy() }

// HealthSummary implements FillSource.
func (s *PollingSource) HealthSummary() domain.HealthSummary { return s.health.summary() }

// OnFill implements FillSource.
func (s *PollingSource) OnFill(h FillHandler) func() { return s.emitter.subscribe(h) }

// Poll runs one manual sweep, returning the number of new events emitted.
func (s *PollingSource) Poll(ctx context.Context) (int, error) {
	return s.sweep(ctx, false)
}

// loop runs sweeps at the configured interval until stopped. The initial
// sweep runs immediately and back-fills the lookback window.
func (s *PollingSource) loop(ctx context.Context) {
	defer s.wg.Done()

	if _, err := s.sweep(ctx, true); err != nil {
		s.logger.Warn("initial backfill sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.sweep(ctx, false); err != nil {
				s.logger.Warn("polling sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// sweep queries every leader's trade history since its cursor, emits new
// events, and advances the cursors. A fully failed sweep counts toward the
// unhealthy threshold; any success resets it.
func (s *PollingSource) sweep(ctx context.Context, backfill bool) (int, error) {
	var (
		emitted  int
		firstErr error
		anyOK    bool
	)

	for _, leader := range s.leaders {
		select {
		case <-s.stop:
			return emitted, domain.ErrSourceStopped
		default:
		}

		s.mu.Lock()
		since := s.cursors[leader.ID]
		s.mu.Unlock()

		if err := s.throttle(ctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		page, err := s.client.GetTrades(ctx, leader.Wallet, since)
		if err != nil {
			s.health.recordError()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		anyOK = true

		now := time.Now()
		cursor := since
		for i, t := range page.Trades {
			ev := t.ToLeaderFill(leader, now)
			ev.Raw = page.Raw[i]
			ev.IsBackfill = backfill

			s.emitter.emit(ev)
			s.health.recordEvent(now)
			emitted++

			// Advance past this fill so the next sweep does not refetch it.
			if next := ev.FillTs.Add(time.Second); next.After(cursor) {
				cursor = next
			}
		}

		s.mu.Lock()
		s.cursors[leader.ID] = cursor
		s.mu.Unlock()
	}

	s.updateHealth(anyOK)

	if !anyOK && firstErr != nil {
		return emitted, fmt.Errorf("polling source: sweep: %w", firstErr)
	}
	return emitted, nil
}

// throttle waits for rate-limit headroom via the shared limiter. A limiter
// error degrades to an unthrottled request rather than failing the sweep.
func (s *PollingSource) throttle(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}

	for {
		allowed, err := s.limiter.Allow(ctx, dataAPIRateKey, dataAPIRateLimit, dataAPIRateWindow)
		if err != nil {
			s.logger.Debug("rate limiter unavailable", slog.String("error", err.Error()))
			return nil
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("polling source: throttle: %w", ctx.Err())
		case <-s.stop:
			return domain.ErrSourceStopped
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// updateHealth applies the consecutive-failure policy: N failed sweeps in a
// row flip the source unhealthy, one success recovers it.
func (s *PollingSource) updateHealth(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok {
		if s.failures >= s.cfg.MaxConsecutiveFailures {
			s.logger.Info("polling source recovered")
		}
		s.failures = 0
		s.health.setHealthy(true)
		return
	}

	s.failures++
	if s.failures >= s.cfg.MaxConsecutiveFailures {
		s.health.setHealthy(false)
	}
}
