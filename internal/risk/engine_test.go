package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/source"
)

type fakeSources struct {
	healthy map[domain.FillSourceKind]bool
}

func (f *fakeSources) SourceHealthy(kind domain.FillSourceKind) bool {
	return f.healthy[kind]
}

func (f *fakeSources) HasSource(kind domain.FillSourceKind) bool {
	_, ok := f.healthy[kind]
	return ok
}

type fakeBook struct {
	healthy bool
	age     domain.QuoteAge
}

func (f *fakeBook) IsHealthy() bool                 { return f.healthy }
func (f *fakeBook) QuoteAge(string) domain.QuoteAge { return f.age }

type fakePositions struct {
	open    []domain.Position
	count   int
	openErr error
}

func (f *fakePositions) GetOpenByCondition(context.Context, string) ([]domain.Position, error) {
	return f.open, f.openErr
}

func (f *fakePositions) CountOpenConditions(context.Context) (int, error) {
	return f.count, nil
}

type engineOpts struct {
	mode      source.TriggerMode
	streaming bool
	sources   *fakeSources
	book      *fakeBook
	positions *fakePositions
}

func newTestEngine(o engineOpts) *Engine {
	if o.mode == "" {
		o.mode = source.TriggerBoth
	}
	if o.sources == nil {
		o.sources = &fakeSources{healthy: map[domain.FillSourceKind]bool{
			domain.FillSourcePolling: true,
			domain.FillSourceOnChain: true,
		}}
	}
	if o.positions == nil {
		o.positions = &fakePositions{}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var book BookView
	if o.book != nil {
		book = o.book
	}
	return New(o.mode, o.streaming, o.sources, book, o.positions, logger)
}

func takerFill(usdc string) domain.LeaderFillEvent {
	return domain.LeaderFillEvent{
		Leader:      domain.Leader{ID: "whale"},
		DedupeKey:   "0xtx:0",
		TokenID:     "tok",
		ConditionID: "cond",
		Side:        domain.SideBuy,
		Role:        domain.RoleTaker,
		Price:       decimal.RequireFromString("0.50"),
		UsdcSize:    decimal.RequireFromString(usdc),
	}
}

func TestEvaluate_ApprovesCleanFill(t *testing.T) {
	e := newTestEngine(engineOpts{book: &fakeBook{healthy: true, age: domain.QuoteFresh}, streaming: true})

	v, err := e.Evaluate(context.Background(), takerFill("1000"), domain.DefaultGuardrails("whale", domain.SideBuy))
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.Empty(t, v.Reason)
	assert.False(t, v.SoftStaleQuote)
}

func TestEvaluate_SkipsMakerFills(t *testing.T) {
	e := newTestEngine(engineOpts{})
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	ev := takerFill("1000")
	ev.Role = domain.RoleMaker

	v, err := e.Evaluate(context.Background(), ev, cfg)
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Equal(t, "SKIP_MAKER_TRADE", v.Reason)

	// Following maker flow is opt-in.
	cfg.SkipMakerTrades = false
	v, err = e.Evaluate(context.Background(), ev, cfg)
	require.NoError(t, err)
	assert.True(t, v.Approved)
}

func TestEvaluate_EventExposureCapIsInclusive(t *testing.T) {
	positions := &fakePositions{open: []domain.Position{
		{ConditionID: "cond", CostBasis: decimal.NewFromInt(95)},
	}}
	e := newTestEngine(engineOpts{positions: positions})
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	// 95 held + 1000 * 0.01 = 105 > 100: rejected.
	v, err := e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.Equal(t, "SKIP_MAX_EVENT_EXPOSURE", v.Reason)

	// 95 + 500 * 0.01 = 100 lands exactly on the cap: allowed.
	v, err = e.Evaluate(context.Background(), takerFill("500"), cfg)
	require.NoError(t, err)
	assert.True(t, v.Approved)
}

func TestEvaluate_PositionCountCap(t *testing.T) {
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	e := newTestEngine(engineOpts{positions: &fakePositions{count: 20}})
	v, err := e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.Equal(t, "SKIP_MAX_POSITIONS", v.Reason)

	// Adding to a condition already open is exempt from the count cap.
	held := &fakePositions{
		open:  []domain.Position{{ConditionID: "cond", CostBasis: decimal.NewFromInt(10)}},
		count: 20,
	}
	e = newTestEngine(engineOpts{positions: held})
	v, err = e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.True(t, v.Approved)
}

func TestEvaluate_BookStoreHealthGate(t *testing.T) {
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	e := newTestEngine(engineOpts{streaming: true, book: &fakeBook{healthy: false, age: domain.QuoteFresh}})
	v, err := e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.Equal(t, "SKIP_BOOKSTORE_UNHEALTHY", v.Reason)

	// Non-streaming deployments do not gate on book health.
	e = newTestEngine(engineOpts{streaming: false, book: &fakeBook{healthy: false, age: domain.QuoteFresh}})
	v, err = e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.True(t, v.Approved)
}

func TestEvaluate_OnChainHealthByTriggerMode(t *testing.T) {
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)
	down := &fakeSources{healthy: map[domain.FillSourceKind]bool{
		domain.FillSourcePolling: true,
		domain.FillSourceOnChain: false,
	}}

	// Pure on-chain mode blocks when the watcher is down.
	e := newTestEngine(engineOpts{mode: source.TriggerOnChain, sources: down})
	v, err := e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.Equal(t, "SKIP_POLYGON_UNHEALTHY", v.Reason)

	// Both mode degrades to polling detection instead of blocking.
	e = newTestEngine(engineOpts{mode: source.TriggerBoth, sources: down})
	v, err = e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.True(t, v.Approved)
}

func TestEvaluate_QuoteStaleness(t *testing.T) {
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	e := newTestEngine(engineOpts{book: &fakeBook{healthy: true, age: domain.QuoteHardStale}})
	v, err := e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.Equal(t, "SKIP_QUOTE_STALE", v.Reason)

	// Soft stale passes, flagged.
	e = newTestEngine(engineOpts{book: &fakeBook{healthy: true, age: domain.QuoteSoftStale}})
	v, err = e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.True(t, v.SoftStaleQuote)

	// No book store deployed: freshness checks pass unconditionally.
	e = newTestEngine(engineOpts{})
	v, err = e.Evaluate(context.Background(), takerFill("1000"), cfg)
	require.NoError(t, err)
	assert.True(t, v.Approved)
}

func TestEvaluate_StoreErrorNeverApproves(t *testing.T) {
	e := newTestEngine(engineOpts{positions: &fakePositions{openErr: errors.New("connection reset")}})

	v, err := e.Evaluate(context.Background(), takerFill("1000"), domain.DefaultGuardrails("whale", domain.SideBuy))
	require.Error(t, err)
	assert.False(t, v.Approved)
	assert.Equal(t, "SKIP_STORE_ERROR", v.Reason)
}
