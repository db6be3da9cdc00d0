package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// tradePageSize is the Data-API page size for trade-history queries.
const tradePageSize = 100

// maxTradePages bounds a single catch-up sweep so a long-idle cursor cannot
// turn into an unbounded walk of a whale's history.
const maxTradePages = 10

// DataClient is the unauthenticated REST client for Polymarket market data:
// CLOB book snapshots and Data-API trade history. Neither endpoint requires
// credentials.
type DataClient struct {
	clobHost   string
	dataHost   string
	httpClient *http.Client
}

// NewDataClient creates a DataClient for the given hosts.
//
// clobHost is the CLOB API root, e.g. "https://clob.polymarket.com".
// dataHost is the Data-API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(clobHost, dataHost string) *DataClient {
	return &DataClient{
		clobHost: clobHost,
		dataHost: dataHost,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetBook fetches the current book snapshot for a token and reduces it to a
// best bid/ask quote.
func (c *DataClient) GetBook(ctx context.Context, tokenID string) (domain.Quote, error) {
	u := fmt.Sprintf("%s/book?token_id=%s", c.clobHost, url.QueryEscape(tokenID))

	body, err := c.get(ctx, u)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: decode book %s: %w", tokenID, err)
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}

	return book.ToQuote(), nil
}

// TradePage holds decoded trade rows together with their original JSON
// payloads, index-aligned with Trades.
type TradePage struct {
	Trades []APITrade
	Raw    []json.RawMessage
}

// GetTrades fetches the leader wallet's trade history at or after the since
// cursor, walking Data-API pages oldest-last until the cursor is crossed or
// the page limit is reached.
func (c *DataClient) GetTrades(ctx context.Context, wallet string, since time.Time) (TradePage, error) {
	var page TradePage

	for offset := 0; offset < maxTradePages*tradePageSize; offset += tradePageSize {
		u := fmt.Sprintf("%s/trades?user=%s&limit=%d&offset=%d&takerOnly=false",
			c.dataHost, url.QueryEscape(wallet), tradePageSize, offset)

		body, err := c.get(ctx, u)
		if err != nil {
			return TradePage{}, fmt.Errorf("polymarket/data: get trades %s: %w", wallet, err)
		}

		// Keep raw rows so normalized events can carry their audit payload.
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return TradePage{}, fmt.Errorf("polymarket/data: decode trades %s: %w", wallet, err)
		}

		crossed := false
		for _, raw := range raws {
			var t APITrade
			if err := json.Unmarshal(raw, &t); err != nil {
				// Malformed row: drop it, keep the rest of the page.
				continue
			}
			if time.Unix(t.Timestamp, 0).Before(since) {
				crossed = true
				continue
			}
			page.Trades = append(page.Trades, t)
			page.Raw = append(page.Raw, raw)
		}

		if crossed || len(raws) < tradePageSize {
			break
		}
	}

	return page, nil
}

// get performs a GET request and returns the response body, mapping non-200
// statuses to errors.
func (c *DataClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %s: %s", strconv.Itoa(resp.StatusCode), string(body))
	}

	return body, nil
}
