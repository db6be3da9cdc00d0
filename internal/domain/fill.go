package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FillSourceKind identifies which detection path produced a LeaderFillEvent.
type FillSourceKind string

const (
	// FillSourcePolling is the Data-API trade-history poller.
	FillSourcePolling FillSourceKind = "polling"

	// FillSourceOnChain is the Polygon CTF Exchange log watcher.
	FillSourceOnChain FillSourceKind = "onchain"
)

// OrderSide is the direction of a fill from the leader's perspective.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// LeaderRole is the leader's role in an on-chain fill. Polling-sourced fills
// carry RoleUnknown because the Data-API does not expose maker/taker identity.
type LeaderRole string

const (
	RoleMaker   LeaderRole = "maker"
	RoleTaker   LeaderRole = "taker"
	RoleUnknown LeaderRole = ""
)

// Leader is a followed wallet whose fills are mirrored.
type Leader struct {
	ID     string
	Wallet string
	Label  string
}

// ChainIdentity is the on-chain identity of a fill. It is present only for
// events produced by the on-chain source.
type ChainIdentity struct {
	Exchange    string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	OrderHash   string
	Maker       string
	Taker       string
}

// LeaderFillEvent is a normalized fill observed for a leader wallet, from
// either detection source. Events with equal DedupeKey denote the same
// economic fill and must collapse to one downstream event.
type LeaderFillEvent struct {
	Leader    Leader
	Source    FillSourceKind
	DedupeKey string

	// Chain is nil for polling-sourced events.
	Chain *ChainIdentity

	// Role is the leader's maker/taker role, RoleUnknown for polling events.
	Role LeaderRole

	TokenID     string
	ConditionID string
	Outcome     string

	Side     OrderSide
	Price    decimal.Decimal
	Size     decimal.Decimal
	UsdcSize decimal.Decimal

	// FillTs is when the trade occurred; DetectedAt is when this process
	// first observed it.
	FillTs     time.Time
	DetectedAt time.Time

	// IsBackfill marks historical catch-up events as opposed to live ones.
	IsBackfill bool

	// Raw is the opaque source payload, retained for the audit archive.
	Raw json.RawMessage
}

// ExposureKey is the key exposure accounting groups by: the condition when
// known, otherwise the token. On-chain logs do not carry condition identity,
// so fills detected only on-chain group per token.
func (e LeaderFillEvent) ExposureKey() string {
	if e.ConditionID != "" {
		return e.ConditionID
	}
	return e.TokenID
}

// OnChainDedupeKey derives the collision-proof dedupe key for a fill with
// full chain identity.
func OnChainDedupeKey(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

// PollingDedupeKey derives a dedupe key from trade terms when no chain
// identity is available, with the timestamp rounded to the second. Two
// genuinely distinct fills at identical terms within one second collapse to
// one event; a known approximation of the Data-API path.
func PollingDedupeKey(wallet, tokenID string, side OrderSide, price, size decimal.Decimal, ts time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%d",
		wallet, tokenID, side, price.String(), size.String(), ts.Unix())
}
