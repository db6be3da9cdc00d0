package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the operator's simulated holding in one token.
type Position struct {
	ID          string
	TokenID     string
	ConditionID string
	Outcome     string

	Size      decimal.Decimal
	AvgPrice  decimal.Decimal
	CostBasis decimal.Decimal

	RealizedPnL decimal.Decimal

	Closed   bool
	OpenedAt time.Time
	ClosedAt *time.Time
}

// PnLSnapshot is a point-in-time record of a position's value, written after
// each paper fill for the dashboard layer to read.
type PnLSnapshot struct {
	ID            string
	PositionID    string
	TokenID       string
	Size          decimal.Decimal
	CostBasis     decimal.Decimal
	MarkPrice     decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	CapturedAt    time.Time
}

// RiskState is the running daily-spend accumulator for one calendar date.
type RiskState struct {
	Date      string // YYYY-MM-DD, UTC
	SpentUsdc decimal.Decimal
	UpdatedAt time.Time
}
