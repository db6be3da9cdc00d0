package polymarket

import (
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/shopspring/decimal"
)

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBookLevel is a single price level in a CLOB book response.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the book snapshot returned by GET /book on the CLOB API.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Timestamp string         `json:"timestamp"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
}

// --------------------------------------------------------------------------
// Data-API DTOs
// --------------------------------------------------------------------------

// APITrade is one activity row from the Data-API GET /trades endpoint.
type APITrade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"` // "BUY" or "SELL"
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"`
	Title           string  `json:"title"`
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`
	TransactionHash string  `json:"transactionHash"`
}

// --------------------------------------------------------------------------
// WebSocket subscription commands and messages
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the WebSocket to subscribe/unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// BookMessage is a full book snapshot delivered on the "book" channel.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Timestamp string         `json:"timestamp"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// bookToQuote reduces a set of book levels to a best bid/ask domain.Quote.
func bookToQuote(assetID, timestamp string, bids, asks []APIBookLevel) domain.Quote {
	q := domain.Quote{TokenID: assetID}

	for _, lvl := range bids {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil {
			continue
		}
		if p.GreaterThan(q.BidPrice) {
			q.BidPrice = p
			q.BidSize, _ = decimal.NewFromString(lvl.Size)
		}
	}
	for _, lvl := range asks {
		p, err := decimal.NewFromString(lvl.Price)
		if err != nil || !p.IsPositive() {
			continue
		}
		if q.AskPrice.IsZero() || p.LessThan(q.AskPrice) {
			q.AskPrice = p
			q.AskSize, _ = decimal.NewFromString(lvl.Size)
		}
	}

	q.CapturedAt = parseBookTimestamp(timestamp)
	return q
}

// ToQuote converts an APIBook snapshot to a domain.Quote.
func (b *APIBook) ToQuote() domain.Quote {
	return bookToQuote(b.AssetID, b.Timestamp, b.Bids, b.Asks)
}

// ToQuote converts a streaming BookMessage to a domain.Quote.
func (b *BookMessage) ToQuote() domain.Quote {
	return bookToQuote(b.AssetID, b.Timestamp, b.Bids, b.Asks)
}

// parseBookTimestamp handles the CLOB's mixed timestamp formats: Unix
// milliseconds, Unix seconds, or RFC3339.
func parseBookTimestamp(s string) time.Time {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts)
		}
		return time.Unix(ts, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}

// ToLeaderFill normalizes a Data-API trade row into a LeaderFillEvent for
// the given leader. The raw payload is attached by the caller.
func (t *APITrade) ToLeaderFill(leader domain.Leader, now time.Time) domain.LeaderFillEvent {
	price := decimal.NewFromFloat(t.Price)
	size := decimal.NewFromFloat(t.Size)
	side := domain.SideBuy
	if strings.EqualFold(t.Side, "SELL") {
		side = domain.SideSell
	}
	fillTs := time.Unix(t.Timestamp, 0)

	return domain.LeaderFillEvent{
		Leader:      leader,
		Source:      domain.FillSourcePolling,
		DedupeKey:   domain.PollingDedupeKey(leader.Wallet, t.Asset, side, price, size, fillTs),
		Role:        domain.RoleUnknown,
		TokenID:     t.Asset,
		ConditionID: t.ConditionID,
		Outcome:     t.Outcome,
		Side:        side,
		Price:       price,
		Size:        size,
		UsdcSize:    price.Mul(size),
		FillTs:      fillTs,
		DetectedAt:  now,
	}
}
