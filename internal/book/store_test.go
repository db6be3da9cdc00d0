package book

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore builds a REST-mode store with a controllable clock and no
// transports; updates are applied directly.
func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s := New(Config{
		Mode:               ModeRest,
		SnapshotInterval:   30 * time.Second,
		FreshThreshold:     30 * time.Second,
		SoftStaleThreshold: 2 * time.Minute,
	}, nil, nil, nil, testLogger())
	s.now = func() time.Time { return now }
	return s, &now
}

func quote(tokenID string, bid, ask string, capturedAt time.Time) domain.Quote {
	return domain.Quote{
		TokenID:    tokenID,
		BidPrice:   decimal.RequireFromString(bid),
		BidSize:    decimal.NewFromInt(100),
		AskPrice:   decimal.RequireFromString(ask),
		AskSize:    decimal.NewFromInt(100),
		CapturedAt: capturedAt,
	}
}

// fakeQuoteCache serves canned quotes by token and records write-throughs.
type fakeQuoteCache struct {
	quotes map[string]domain.Quote
}

func (f *fakeQuoteCache) SetQuote(_ context.Context, q domain.Quote) error {
	if f.quotes == nil {
		f.quotes = make(map[string]domain.Quote)
	}
	f.quotes[q.TokenID] = q
	return nil
}

func (f *fakeQuoteCache) GetQuote(_ context.Context, tokenID string) (domain.Quote, error) {
	q, ok := f.quotes[tokenID]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"ws", "ws+rest", "rest", "WS+REST"} {
		m, err := ParseMode(s)
		require.NoError(t, err, s)
		assert.NotEmpty(t, m)
	}

	_, err := ParseMode("none")
	assert.Error(t, err, "deployments without a book store skip construction entirely")

	assert.True(t, ModeWS.UsesStreaming())
	assert.True(t, ModeWSRest.UsesStreaming())
	assert.False(t, ModeRest.UsesStreaming())
	assert.True(t, ModeRest.UsesSnapshots())
	assert.False(t, ModeWS.UsesSnapshots())
}

func TestStore_GetQuote(t *testing.T) {
	s, clock := newTestStore(t)

	_, ok := s.GetQuote("tok")
	assert.False(t, ok)

	s.applySnapshot(quote("tok", "0.48", "0.52", *clock))
	got, ok := s.GetQuote("tok")
	require.True(t, ok)
	assert.True(t, got.AskPrice.Equal(decimal.RequireFromString("0.52")))
}

func TestStore_QuoteAgeThresholds(t *testing.T) {
	s, clock := newTestStore(t)

	assert.Equal(t, domain.QuoteHardStale, s.QuoteAge("tok"), "never-seen tokens are hard stale")

	s.applySnapshot(quote("tok", "0.48", "0.52", *clock))
	assert.Equal(t, domain.QuoteFresh, s.QuoteAge("tok"))

	*clock = clock.Add(30 * time.Second)
	assert.Equal(t, domain.QuoteFresh, s.QuoteAge("tok"), "fresh threshold is inclusive")

	*clock = clock.Add(time.Second)
	assert.Equal(t, domain.QuoteSoftStale, s.QuoteAge("tok"))

	*clock = clock.Add(2 * time.Minute)
	assert.Equal(t, domain.QuoteHardStale, s.QuoteAge("tok"))
}

func TestStore_AgeFollowsLastAcceptedUpdate(t *testing.T) {
	s, clock := newTestStore(t)

	s.applySnapshot(quote("tok", "0.48", "0.52", *clock))
	*clock = clock.Add(90 * time.Second)
	assert.Equal(t, domain.QuoteSoftStale, s.QuoteAge("tok"))

	// A new update resets the age clock.
	s.applySnapshot(quote("tok", "0.49", "0.53", *clock))
	assert.Equal(t, domain.QuoteFresh, s.QuoteAge("tok"))
}

func TestStore_SnapshotNeverClobbersNewerStream(t *testing.T) {
	s, clock := newTestStore(t)

	streamAt := *clock
	s.applyStream(quote("tok", "0.50", "0.54", streamAt))

	// A REST snapshot captured before the streaming update must not win.
	s.applySnapshot(quote("tok", "0.40", "0.60", streamAt.Add(-10*time.Second)))
	got, ok := s.GetQuote("tok")
	require.True(t, ok)
	assert.True(t, got.AskPrice.Equal(decimal.RequireFromString("0.54")))

	// A newer snapshot wins.
	s.applySnapshot(quote("tok", "0.41", "0.61", streamAt.Add(10*time.Second)))
	got, _ = s.GetQuote("tok")
	assert.True(t, got.AskPrice.Equal(decimal.RequireFromString("0.61")))
}

func TestStore_TrackIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Track(context.Background(), "a", "b", "a", ""))
	require.NoError(t, s.Track(context.Background(), "a"))

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Len(t, s.tracked, 2, "duplicates and empty IDs are ignored")
}

func TestStore_TrackSeedsFromCache(t *testing.T) {
	s, clock := newTestStore(t)
	cache := &fakeQuoteCache{quotes: map[string]domain.Quote{
		"warm": quote("warm", "0.48", "0.52", clock.Add(-10*time.Second)),
		"old":  quote("old", "0.30", "0.70", clock.Add(-10*time.Minute)),
	}}
	s.cache = cache

	require.NoError(t, s.Track(context.Background(), "warm", "old", "cold"))

	got, ok := s.GetQuote("warm")
	require.True(t, ok, "restart regains the cached quote")
	assert.True(t, got.AskPrice.Equal(decimal.RequireFromString("0.52")))
	assert.Equal(t, domain.QuoteFresh, s.QuoteAge("warm"))

	assert.Equal(t, domain.QuoteHardStale, s.QuoteAge("old"),
		"the cached capture time drives staleness")

	_, ok = s.GetQuote("cold")
	assert.False(t, ok, "tokens absent from the cache stay unseen")
}

func TestStore_SeedNeverOverwritesLiveQuote(t *testing.T) {
	s, clock := newTestStore(t)
	s.applyStream(quote("tok", "0.50", "0.54", *clock))

	s.cache = &fakeQuoteCache{quotes: map[string]domain.Quote{
		"tok": quote("tok", "0.10", "0.90", clock.Add(-time.Minute)),
	}}
	require.NoError(t, s.Track(context.Background(), "tok"))

	got, _ := s.GetQuote("tok")
	assert.True(t, got.AskPrice.Equal(decimal.RequireFromString("0.54")))
}

func TestStore_WriteThroughToCache(t *testing.T) {
	s, clock := newTestStore(t)
	cache := &fakeQuoteCache{}
	s.cache = cache

	s.applySnapshot(quote("tok", "0.48", "0.52", *clock))

	q, err := cache.GetQuote(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, q.BidPrice.Equal(decimal.RequireFromString("0.48")))
}

func TestStore_RestModeHealth(t *testing.T) {
	s, _ := newTestStore(t)

	assert.True(t, s.IsHealthy(), "rest mode starts healthy until a sweep fails")

	s.healthMu.Lock()
	s.restOK = false
	s.healthMu.Unlock()
	assert.False(t, s.IsHealthy())

	sum := s.HealthSummary()
	assert.Equal(t, "book_store", sum.Name)
	assert.False(t, sum.Healthy)
}
