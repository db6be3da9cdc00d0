package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

type fakePositions struct {
	held    domain.Position
	heldErr error
}

func (f *fakePositions) GetOpenByToken(context.Context, string) (domain.Position, error) {
	if f.heldErr != nil {
		return domain.Position{}, f.heldErr
	}
	return f.held, nil
}

// fakeRiskState grants up to the configured headroom and records requests.
type fakeRiskState struct {
	headroom decimal.Decimal
	err      error

	lastDate   string
	lastAmount decimal.Decimal
}

func (f *fakeRiskState) Reserve(_ context.Context, date string, amount, _ decimal.Decimal) (decimal.Decimal, error) {
	f.lastDate = date
	f.lastAmount = amount
	if f.err != nil {
		return decimal.Zero, f.err
	}
	if amount.LessThanOrEqual(f.headroom) {
		return amount, nil
	}
	return f.headroom, nil
}

func (f *fakeRiskState) Get(context.Context, string) (domain.RiskState, error) {
	return domain.RiskState{}, nil
}

var testNow = time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC)

func newTestEngine(positions *fakePositions, riskState *fakeRiskState) *Engine {
	if positions == nil {
		positions = &fakePositions{heldErr: domain.ErrNotFound}
	}
	if riskState == nil {
		riskState = &fakeRiskState{headroom: decimal.NewFromInt(250)}
	}

	e := New(positions, riskState, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return testNow }
	e.newID = func() string { return "intent-1" }
	return e
}

func buyFill(usdc, price string) domain.LeaderFillEvent {
	return domain.LeaderFillEvent{
		Leader:      domain.Leader{ID: "whale"},
		DedupeKey:   "0xtx:0",
		TokenID:     "tok",
		ConditionID: "cond",
		Side:        domain.SideBuy,
		Price:       decimal.RequireFromString(price),
		UsdcSize:    decimal.RequireFromString(usdc),
	}
}

func quoteAt(bid, ask string) *domain.Quote {
	return &domain.Quote{
		TokenID:    "tok",
		BidPrice:   decimal.RequireFromString(bid),
		AskPrice:   decimal.RequireFromString(ask),
		BidSize:    decimal.NewFromInt(500),
		AskSize:    decimal.NewFromInt(500),
		CapturedAt: testNow,
	}
}

func TestDecide_MirrorsProportionally(t *testing.T) {
	riskState := &fakeRiskState{headroom: decimal.NewFromInt(250)}
	e := newTestEngine(nil, riskState)
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	// Leader buys 1000 USDC at 0.50, ratio 0.01: mirror 10 USDC for 20 tokens.
	intent, err := e.Decide(context.Background(), buyFill("1000", "0.50"), cfg, quoteAt("0.48", "0.50"))
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionTrade, intent.Decision)
	assert.True(t, intent.TargetUsdc.Equal(decimal.NewFromInt(10)), intent.TargetUsdc.String())
	assert.True(t, intent.LimitPrice.Equal(decimal.RequireFromString("0.50")))
	assert.True(t, intent.Size.Equal(decimal.NewFromInt(20)), intent.Size.String())
	assert.Equal(t, "2026-08-29", riskState.lastDate)
	assert.Equal(t, "intent-1", intent.ID)
	assert.Equal(t, testNow, intent.CreatedAt)
}

func TestDecide_IsDeterministic(t *testing.T) {
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)
	q := quoteAt("0.48", "0.50")

	a, err := newTestEngine(nil, nil).Decide(context.Background(), buyFill("1000", "0.50"), cfg, q)
	require.NoError(t, err)
	b, err := newTestEngine(nil, nil).Decide(context.Background(), buyFill("1000", "0.50"), cfg, q)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDecide_PerTradeClamp(t *testing.T) {
	e := newTestEngine(nil, nil)
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	// 10000 * 0.01 = 100, clamped to the 25 USDC per-trade cap.
	intent, err := e.Decide(context.Background(), buyFill("10000", "0.50"), cfg, quoteAt("0.48", "0.50"))
	require.NoError(t, err)
	assert.True(t, intent.TargetUsdc.Equal(decimal.NewFromInt(25)), intent.TargetUsdc.String())
}

func TestDecide_DayCapShrinksAndExhausts(t *testing.T) {
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	// Partial headroom shrinks the order.
	riskState := &fakeRiskState{headroom: decimal.NewFromInt(4)}
	intent, err := newTestEngine(nil, riskState).Decide(context.Background(), buyFill("1000", "0.50"), cfg, quoteAt("0.48", "0.50"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionTrade, intent.Decision)
	assert.True(t, intent.TargetUsdc.Equal(decimal.NewFromInt(4)))
	assert.True(t, intent.Size.Equal(decimal.NewFromInt(8)))

	// Exhausted headroom skips.
	riskState = &fakeRiskState{err: domain.ErrDayCapReached}
	intent, err = newTestEngine(nil, riskState).Decide(context.Background(), buyFill("1000", "0.50"), cfg, quoteAt("0.48", "0.50"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, intent.Decision)
	assert.Equal(t, "SKIP_DAY_CAP", intent.DecisionReason)
}

func TestDecide_PriceMoved(t *testing.T) {
	e := newTestEngine(nil, nil)
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	// Ask drifted past 0.50 * 1.05: abandon instead of chasing.
	intent, err := e.Decide(context.Background(), buyFill("1000", "0.50"), cfg, quoteAt("0.52", "0.56"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, intent.Decision)
	assert.Equal(t, "SKIP_PRICE_MOVED", intent.DecisionReason)

	// Exactly on the tolerance bound still trades.
	intent, err = e.Decide(context.Background(), buyFill("1000", "0.50"), cfg, quoteAt("0.50", "0.525"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionTrade, intent.Decision)
	assert.True(t, intent.LimitPrice.Equal(decimal.RequireFromString("0.525")))
}

func TestDecide_NoQuoteUsesLeaderPrice(t *testing.T) {
	e := newTestEngine(nil, nil)
	cfg := domain.DefaultGuardrails("whale", domain.SideBuy)

	intent, err := e.Decide(context.Background(), buyFill("1000", "0.50"), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionTrade, intent.Decision)
	assert.True(t, intent.LimitPrice.Equal(decimal.RequireFromString("0.50")))
}

func TestDecide_SellWithoutPosition(t *testing.T) {
	e := newTestEngine(&fakePositions{heldErr: domain.ErrNotFound}, nil)
	cfg := domain.DefaultGuardrails("whale", domain.SideSell)

	ev := buyFill("1000", "0.50")
	ev.Side = domain.SideSell

	intent, err := e.Decide(context.Background(), ev, cfg, quoteAt("0.50", "0.52"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, intent.Decision)
	assert.Equal(t, "SKIP_ZERO_POSITION", intent.DecisionReason)
}

func TestDecide_SellClampsToHeldSize(t *testing.T) {
	held := &fakePositions{held: domain.Position{
		TokenID: "tok",
		Size:    decimal.NewFromInt(5),
	}}
	riskState := &fakeRiskState{headroom: decimal.NewFromInt(250)}
	e := newTestEngine(held, riskState)
	cfg := domain.DefaultGuardrails("whale", domain.SideSell)

	ev := buyFill("1000", "0.50")
	ev.Side = domain.SideSell

	// Proportional size would be 20 tokens; only 5 are held.
	intent, err := e.Decide(context.Background(), ev, cfg, quoteAt("0.50", "0.52"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionTrade, intent.Decision)
	assert.True(t, intent.Size.Equal(decimal.NewFromInt(5)), intent.Size.String())
	assert.True(t, intent.TargetUsdc.Equal(decimal.RequireFromString("2.5")), intent.TargetUsdc.String())
	assert.True(t, riskState.lastAmount.Equal(decimal.RequireFromString("2.5")),
		"day spend reserves the clamped notional")
}

func TestDecide_StoreErrorSkips(t *testing.T) {
	riskState := &fakeRiskState{err: errors.New("connection reset")}
	e := newTestEngine(nil, riskState)

	intent, err := e.Decide(context.Background(), buyFill("1000", "0.50"), domain.DefaultGuardrails("whale", domain.SideBuy), nil)
	require.Error(t, err)
	assert.Equal(t, domain.DecisionSkip, intent.Decision)
	assert.Equal(t, "SKIP_STORE_ERROR", intent.DecisionReason)
}
