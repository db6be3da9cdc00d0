package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a best bid/ask snapshot for one token at one point in time.
type Quote struct {
	TokenID    string
	BidPrice   decimal.Decimal
	BidSize    decimal.Decimal
	AskPrice   decimal.Decimal
	AskSize    decimal.Decimal
	CapturedAt time.Time
}

// HasBid reports whether the quote carries a usable bid.
func (q Quote) HasBid() bool {
	return q.BidPrice.IsPositive()
}

// HasAsk reports whether the quote carries a usable ask.
func (q Quote) HasAsk() bool {
	return q.AskPrice.IsPositive()
}

// QuoteAge classifies how out-of-date a token's last quote update is.
type QuoteAge string

const (
	// QuoteFresh means the last update is within the fresh threshold.
	QuoteFresh QuoteAge = "fresh"

	// QuoteSoftStale means the update is past the fresh threshold but still
	// within the secondary threshold; usable, flagged for observability.
	QuoteSoftStale QuoteAge = "soft_stale"

	// QuoteHardStale means the quote is too old to trade against.
	QuoteHardStale QuoteAge = "hard_stale"
)
