package decision

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func newTestSimulator() *Simulator {
	s := NewSimulator()
	s.now = func() time.Time { return testNow }
	s.newID = func() string { return "fill-1" }
	return s
}

func tradeIntent(side domain.OrderSide, leaderPrice, limitPrice, size string) domain.PaperIntent {
	return domain.PaperIntent{
		ID:          "intent-1",
		TokenID:     "tok",
		Side:        side,
		Decision:    domain.DecisionTrade,
		LeaderPrice: decimal.RequireFromString(leaderPrice),
		LimitPrice:  decimal.RequireFromString(limitPrice),
		Size:        decimal.RequireFromString(size),
	}
}

func TestSimulate_BuyFillsAtAsk(t *testing.T) {
	s := newTestSimulator()
	intent := tradeIntent(domain.SideBuy, "0.50", "0.52", "20")

	fill := s.Simulate(intent, quoteAt("0.48", "0.51"))

	require.True(t, fill.Filled)
	assert.Equal(t, "intent-1", fill.IntentID)
	assert.True(t, fill.FillPrice.Equal(decimal.RequireFromString("0.51")), "executes at the touch, not the limit")
	assert.True(t, fill.Size.Equal(decimal.NewFromInt(20)))
	assert.False(t, fill.MatchSamePrice)

	// Touch improved on the limit: slippage is negative.
	assert.True(t, fill.SlippagePct.IsNegative(), fill.SlippagePct.String())
}

func TestSimulate_BuyRestsWhenLimitBelowAsk(t *testing.T) {
	s := newTestSimulator()
	intent := tradeIntent(domain.SideBuy, "0.50", "0.50", "20")

	fill := s.Simulate(intent, quoteAt("0.48", "0.51"))

	assert.False(t, fill.Filled)
	assert.True(t, fill.FillPrice.IsZero())
}

func TestSimulate_SellFillsAtBid(t *testing.T) {
	s := newTestSimulator()
	intent := tradeIntent(domain.SideSell, "0.50", "0.48", "20")

	fill := s.Simulate(intent, quoteAt("0.49", "0.51"))

	require.True(t, fill.Filled)
	assert.True(t, fill.FillPrice.Equal(decimal.RequireFromString("0.49")))
}

func TestSimulate_SellRestsWhenLimitAboveBid(t *testing.T) {
	s := newTestSimulator()
	intent := tradeIntent(domain.SideSell, "0.50", "0.50", "20")

	fill := s.Simulate(intent, quoteAt("0.49", "0.51"))

	assert.False(t, fill.Filled)
}

func TestSimulate_NoQuoteRestsUnfilled(t *testing.T) {
	s := newTestSimulator()
	intent := tradeIntent(domain.SideBuy, "0.50", "0.50", "20")

	fill := s.Simulate(intent, nil)

	assert.False(t, fill.Filled)
	assert.Equal(t, "fill-1", fill.ID)
	assert.Equal(t, testNow, fill.CreatedAt)
}

func TestSimulate_MatchSamePrice(t *testing.T) {
	s := newTestSimulator()
	intent := tradeIntent(domain.SideBuy, "0.50", "0.50", "20")

	fill := s.Simulate(intent, quoteAt("0.48", "0.50"))

	require.True(t, fill.Filled)
	assert.True(t, fill.MatchSamePrice)
	assert.True(t, fill.SlippagePct.IsZero(), "same-price fills record no slippage")
}

func TestSimulate_EmptySideOfBook(t *testing.T) {
	s := newTestSimulator()
	intent := tradeIntent(domain.SideBuy, "0.50", "0.60", "20")

	fill := s.Simulate(intent, &domain.Quote{
		TokenID:    "tok",
		BidPrice:   decimal.RequireFromString("0.48"),
		CapturedAt: testNow,
	})

	assert.False(t, fill.Filled, "no ask means nothing to cross")
}
