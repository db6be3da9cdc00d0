package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision is the outcome of evaluating one leader fill.
type Decision string

const (
	DecisionTrade Decision = "TRADE"
	DecisionSkip  Decision = "SKIP"
)

// Skip reason codes. Dashboards and alerting key off these exact strings.
const (
	ReasonMakerTrade         = "SKIP_MAKER_TRADE"
	ReasonMaxEventExposure   = "SKIP_MAX_EVENT_EXPOSURE"
	ReasonMaxPositions       = "SKIP_MAX_POSITIONS"
	ReasonBookStoreUnhealthy = "SKIP_BOOKSTORE_UNHEALTHY"
	ReasonPolygonUnhealthy   = "SKIP_POLYGON_UNHEALTHY"
	ReasonQuoteStale         = "SKIP_QUOTE_STALE"
	ReasonDayCap             = "SKIP_DAY_CAP"
	ReasonZeroPosition       = "SKIP_ZERO_POSITION"
	ReasonPriceMoved         = "SKIP_PRICE_MOVED"
	ReasonStoreError         = "SKIP_STORE_ERROR"
)

// PaperIntent records the decision taken for one approved leader fill:
// whether to mirror it, at what notional and limit price, and why not when
// skipped. Exactly one intent is written per fill that reaches the decision
// engine.
type PaperIntent struct {
	ID          string
	LeaderID    string
	DedupeKey   string
	TokenID     string
	ConditionID string
	Side        OrderSide

	Decision       Decision
	DecisionReason string

	LeaderPrice decimal.Decimal
	LeaderUsdc  decimal.Decimal
	TargetUsdc  decimal.Decimal
	LimitPrice  decimal.Decimal
	Size        decimal.Decimal
	MirrorRatio decimal.Decimal

	CreatedAt time.Time
}

// PaperFill is the simulated execution of a TRADE intent. At most one fill
// exists per intent, created synchronously by the simulator.
type PaperFill struct {
	ID       string
	IntentID string
	TokenID  string
	Side     OrderSide

	Filled         bool
	MatchSamePrice bool
	FillPrice      decimal.Decimal
	Size           decimal.Decimal
	SlippagePct    decimal.Decimal

	CreatedAt time.Time
}
