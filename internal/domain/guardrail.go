package domain

import "github.com/shopspring/decimal"

// GuardrailConfig is the resolved risk and sizing policy for one leader and
// one operation side. Resolution follows a fallback chain: (leader, side)
// row, then the leader's default row, then the global default row.
type GuardrailConfig struct {
	LeaderID string
	Side     OrderSide

	// SkipMakerTrades rejects fills where the leader provided passive
	// liquidity. Defaults to true; following maker flow is opt-in.
	SkipMakerTrades bool

	// MaxUsdcPerEvent caps the open cost basis per condition, inclusive.
	MaxUsdcPerEvent decimal.Decimal

	// MaxOpenPositions caps the number of distinct open conditions. Adding
	// to an already-open condition is exempt.
	MaxOpenPositions int

	// MirrorRatio scales the leader's notional to ours.
	MirrorRatio decimal.Decimal

	// MaxUsdcPerTrade clamps a single mirrored order's notional.
	MaxUsdcPerTrade decimal.Decimal

	// MaxUsdcPerDay bounds the daily-spend accumulator, inclusive.
	MaxUsdcPerDay decimal.Decimal

	// SlippageTolerancePct is the max live-price drift versus the leader's
	// fill price before the mirror is abandoned, in percent.
	SlippageTolerancePct decimal.Decimal
}

// DefaultGuardrails returns the global fallback policy applied when no row
// exists for a leader.
func DefaultGuardrails(leaderID string, side OrderSide) GuardrailConfig {
	return GuardrailConfig{
		LeaderID:             leaderID,
		Side:                 side,
		SkipMakerTrades:      true,
		MaxUsdcPerEvent:      decimal.NewFromInt(100),
		MaxOpenPositions:     20,
		MirrorRatio:          decimal.RequireFromString("0.01"),
		MaxUsdcPerTrade:      decimal.NewFromInt(25),
		MaxUsdcPerDay:        decimal.NewFromInt(250),
		SlippageTolerancePct: decimal.NewFromInt(5),
	}
}
