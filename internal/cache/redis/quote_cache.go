package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// quoteTTL bounds how long a stored quote outlives its last update. Stale
// entries expire rather than serving ancient prices to dashboard readers.
const quoteTTL = 10 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis hashes. Each token's
// quote is stored at "quote:{tokenID}" with bid/ask price and size fields
// plus a capture timestamp in Unix nanoseconds.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(tokenID string) string {
	return "quote:" + tokenID
}

// SetQuote stores the latest quote for a token.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.TokenID)
	fields := map[string]interface{}{
		"bid_price": q.BidPrice.String(),
		"bid_size":  q.BidSize.String(),
		"ask_price": q.AskPrice.String(),
		"ask_size":  q.AskSize.String(),
		"ts":        strconv.FormatInt(q.CapturedAt.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.TokenID, err)
	}
	return nil
}

// GetQuote retrieves the stored quote for a token. It returns
// domain.ErrNotFound when no entry exists.
func (qc *QuoteCache) GetQuote(ctx context.Context, tokenID string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(tokenID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q := domain.Quote{TokenID: tokenID}
	for _, f := range []struct {
		dst   *decimal.Decimal
		field string
	}{
		{&q.BidPrice, "bid_price"},
		{&q.BidSize, "bid_size"},
		{&q.AskPrice, "ask_price"},
		{&q.AskSize, "ask_size"},
	} {
		s, ok := vals[f.field]
		if !ok {
			return domain.Quote{}, domain.ErrNotFound
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("redis: parse quote %s field %s: %w", tokenID, f.field, err)
		}
		*f.dst = d
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote %s ts: %w", tokenID, err)
	}
	q.CapturedAt = time.Unix(0, tsNano)

	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
