// Package book maintains the freshest known best bid/ask per tracked token
// and classifies quote staleness for the risk engine.
package book

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/platform/polymarket"
)

// Mode selects which data paths feed the store.
type Mode string

const (
	// ModeWS uses only the streaming feed.
	ModeWS Mode = "ws"

	// ModeWSRest streams, with periodic REST snapshots as a fallback for
	// tokens that stop receiving updates.
	ModeWSRest Mode = "ws+rest"

	// ModeRest polls REST snapshots only.
	ModeRest Mode = "rest"
)

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeWS, ModeWSRest, ModeRest:
		return Mode(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("book: unknown mode %q", s)
}

// UsesStreaming reports whether the mode includes the streaming path.
func (m Mode) UsesStreaming() bool { return m == ModeWS || m == ModeWSRest }

// UsesSnapshots reports whether the mode includes the REST snapshot path.
func (m Mode) UsesSnapshots() bool { return m == ModeWSRest || m == ModeRest }

// Config tunes the store's data paths and staleness thresholds. Thresholds
// are deployment policy, not design constants.
type Config struct {
	Mode             Mode
	SnapshotInterval time.Duration

	FreshThreshold     time.Duration
	SoftStaleThreshold time.Duration
}

// entry is the stored state for one token.
type entry struct {
	quote     domain.Quote
	updatedAt time.Time // wall time of the last accepted update
}

// Store tracks per-token quotes from a streaming feed with an optional REST
// snapshot fallback. Reads never block on I/O.
type Store struct {
	cfg    Config
	ws     *polymarket.WSClient
	rest   *polymarket.DataClient
	cache  domain.QuoteCache
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	tracked map[string]bool

	healthMu    sync.RWMutex
	wsConnected bool
	restOK      bool
	lastEventAt time.Time
	events      int64
	errors      int64

	now func() time.Time

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a Store. ws may be nil for ModeRest; rest may be nil for ModeWS.
func New(cfg Config, ws *polymarket.WSClient, rest *polymarket.DataClient, cache domain.QuoteCache, logger *slog.Logger) *Store {
	s := &Store{
		cfg:     cfg,
		ws:      ws,
		rest:    rest,
		cache:   cache,
		logger:  logger.With(slog.String("component", "book_store")),
		entries: make(map[string]*entry),
		tracked: make(map[string]bool),
		restOK:  true,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if cfg.Mode.UsesStreaming() && ws != nil {
		ws.OnQuote(s.applyStream)
		ws.OnStateChange(func(connected bool) {
			s.healthMu.Lock()
			s.wsConnected = connected
			if !connected {
				s.errors++
			}
			s.healthMu.Unlock()
		})
	}

	return s
}

// Start connects the streaming feed (when the mode uses one) and launches
// the snapshot loop (when the mode uses snapshots).
func (s *Store) Start(ctx context.Context) error {
	if s.started {
		return fmt.Errorf("book: already started")
	}
	s.started = true

	if s.cfg.Mode.UsesStreaming() {
		if err := s.ws.Connect(ctx); err != nil {
			return fmt.Errorf("book: connect stream: %w", err)
		}
	}

	if s.cfg.Mode.UsesSnapshots() {
		s.wg.Add(1)
		go s.snapshotLoop(ctx)
	}

	s.logger.Info("book store started", slog.String("mode", string(s.cfg.Mode)))
	return nil
}

// Stop shuts down the feed and the snapshot loop.
func (s *Store) Stop() error {
	select {
	case <-s.stop:
		return nil
	default:
	}
	close(s.stop)
	s.wg.Wait()

	if s.cfg.Mode.UsesStreaming() && s.ws != nil {
		return s.ws.Close()
	}
	return nil
}

// Track registers tokens with the store, subscribing the streaming feed to
// them when one is in use. Tracking an already-tracked token is a no-op.
func (s *Store) Track(ctx context.Context, tokenIDs ...string) error {
	fresh := make([]string, 0, len(tokenIDs))

	s.mu.Lock()
	for _, id := range tokenIDs {
		if id == "" || s.tracked[id] {
			continue
		}
		s.tracked[id] = true
		fresh = append(fresh, id)
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	s.seedFromCache(ctx, fresh)

	if !s.cfg.Mode.UsesStreaming() {
		return nil
	}
	if err := s.ws.Subscribe(ctx, fresh); err != nil {
		return fmt.Errorf("book: subscribe %d tokens: %w", len(fresh), err)
	}
	return nil
}

// seedFromCache restores cached quotes for newly tracked tokens so a restart
// is not blind until the first live update. The cached capture time drives
// the seeded entry's staleness, so an old cache entry classifies as stale
// rather than masquerading as fresh.
func (s *Store) seedFromCache(ctx context.Context, tokenIDs []string) {
	if s.cache == nil {
		return
	}

	for _, id := range tokenIDs {
		q, err := s.cache.GetQuote(ctx, id)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.logger.Debug("quote cache read failed",
					slog.String("token_id", id),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		s.mu.Lock()
		if _, ok := s.entries[id]; !ok {
			s.entries[id] = &entry{quote: q, updatedAt: q.CapturedAt}
		}
		s.mu.Unlock()
	}
}

// GetQuote returns the stored quote for a token and whether one exists.
func (s *Store) GetQuote(tokenID string) (domain.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[tokenID]
	if !ok {
		return domain.Quote{}, false
	}
	return e.quote, true
}

// QuoteAge classifies the staleness of a token's quote relative to the
// configured thresholds. Tokens with no observed update yet are hard stale.
func (s *Store) QuoteAge(tokenID string) domain.QuoteAge {
	s.mu.RLock()
	e, ok := s.entries[tokenID]
	s.mu.RUnlock()

	if !ok {
		return domain.QuoteHardStale
	}

	age := s.now().Sub(e.updatedAt)
	switch {
	case age <= s.cfg.FreshThreshold:
		return domain.QuoteFresh
	case age <= s.cfg.SoftStaleThreshold:
		return domain.QuoteSoftStale
	default:
		return domain.QuoteHardStale
	}
}

// IsHealthy reports the store's mode-aware health: streaming modes require a
// live connection, pure REST requires the last snapshot cycle to have
// succeeded.
func (s *Store) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()

	if s.cfg.Mode.UsesStreaming() {
		return s.wsConnected
	}
	return s.restOK
}

// HealthSummary returns the store's health counters.
func (s *Store) HealthSummary() domain.HealthSummary {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()

	healthy := s.restOK
	if s.cfg.Mode.UsesStreaming() {
		healthy = s.wsConnected
	}

	return domain.HealthSummary{
		Name:            "book_store",
		Healthy:         healthy,
		LastEventAt:     s.lastEventAt,
		EventsProcessed: s.events,
		ErrorCount:      s.errors,
	}
}

// applyStream stores a streaming quote, overwriting whatever is held.
func (s *Store) applyStream(q domain.Quote) {
	if q.TokenID == "" {
		return
	}
	now := s.now()

	s.mu.Lock()
	s.entries[q.TokenID] = &entry{quote: q, updatedAt: now}
	s.mu.Unlock()

	s.recordEvent(now)
	s.writeThrough(q)
}

// applySnapshot merges a REST snapshot in without clobbering a strictly
// newer streaming update.
func (s *Store) applySnapshot(q domain.Quote) {
	if q.TokenID == "" {
		return
	}
	now := s.now()

	s.mu.Lock()
	if e, ok := s.entries[q.TokenID]; ok && e.quote.CapturedAt.After(q.CapturedAt) {
		s.mu.Unlock()
		return
	}
	s.entries[q.TokenID] = &entry{quote: q, updatedAt: now}
	s.mu.Unlock()

	s.recordEvent(now)
	s.writeThrough(q)
}

// snapshotLoop periodically REST-fetches books for tracked tokens lacking
// recent updates. In pure REST mode every tracked token is fetched.
func (s *Store) snapshotLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshotSweep(ctx)
		}
	}
}

// snapshotSweep fetches one round of snapshots and updates REST health.
func (s *Store) snapshotSweep(ctx context.Context) {
	var stale []string
	s.mu.RLock()
	for id := range s.tracked {
		e, ok := s.entries[id]
		if !ok || !s.cfg.Mode.UsesStreaming() || s.now().Sub(e.updatedAt) > s.cfg.FreshThreshold {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return
	}

	ok := true
	for _, id := range stale {
		q, err := s.rest.GetBook(ctx, id)
		if err != nil {
			ok = false
			s.healthMu.Lock()
			s.errors++
			s.healthMu.Unlock()
			s.logger.Warn("book snapshot failed",
				slog.String("token_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.applySnapshot(q)
	}

	s.healthMu.Lock()
	s.restOK = ok
	s.healthMu.Unlock()
}

// recordEvent bumps the health counters for one accepted update.
func (s *Store) recordEvent(ts time.Time) {
	s.healthMu.Lock()
	s.events++
	if ts.After(s.lastEventAt) {
		s.lastEventAt = ts
	}
	s.healthMu.Unlock()
}

// writeThrough pushes an accepted quote to the shared cache for external
// readers. Cache failures are logged, never propagated.
func (s *Store) writeThrough(q domain.Quote) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.cache.SetQuote(ctx, q); err != nil {
		s.logger.Debug("quote cache write failed",
			slog.String("token_id", q.TokenID),
			slog.String("error", err.Error()),
		)
	}
}
