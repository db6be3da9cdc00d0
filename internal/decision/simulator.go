package decision

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Simulator resolves TRADE intents against observed liquidity without
// placing real orders.
type Simulator struct {
	now   func() time.Time
	newID func() string
}

// NewSimulator builds a Simulator.
func NewSimulator() *Simulator {
	return &Simulator{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Simulate determines whether a TRADE intent would have executed against the
// current quote. A buy fills when the limit crosses the best ask and executes
// at the ask; sells are symmetric against the best bid. Without a quote the
// order rests unfilled.
func (s *Simulator) Simulate(intent domain.PaperIntent, quote *domain.Quote) domain.PaperFill {
	fill := domain.PaperFill{
		ID:        s.newID(),
		IntentID:  intent.ID,
		TokenID:   intent.TokenID,
		Side:      intent.Side,
		CreatedAt: s.now(),
	}

	if quote == nil {
		return fill
	}

	switch intent.Side {
	case domain.SideBuy:
		if !quote.HasAsk() || intent.LimitPrice.LessThan(quote.AskPrice) {
			return fill
		}
		return s.executed(fill, intent, quote.AskPrice)

	case domain.SideSell:
		if !quote.HasBid() || intent.LimitPrice.GreaterThan(quote.BidPrice) {
			return fill
		}
		return s.executed(fill, intent, quote.BidPrice)
	}

	return fill
}

// executed records a fill at the touch price. matchSamePrice marks fills at
// exactly the leader's price; otherwise slippage is recorded relative to the
// limit, negative when the touch improved on it.
func (s *Simulator) executed(fill domain.PaperFill, intent domain.PaperIntent, price decimal.Decimal) domain.PaperFill {
	fill.Filled = true
	fill.FillPrice = price
	fill.Size = intent.Size

	if price.Equal(intent.LeaderPrice) {
		fill.MatchSamePrice = true
		return fill
	}

	if intent.LimitPrice.IsPositive() {
		fill.SlippagePct = price.Sub(intent.LimitPrice).Div(intent.LimitPrice)
	}
	return fill
}
