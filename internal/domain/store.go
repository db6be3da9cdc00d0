package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists the operator's simulated positions.
type PositionStore interface {
	// GetOpenByCondition returns all open positions under a condition.
	GetOpenByCondition(ctx context.Context, conditionID string) ([]Position, error)

	// GetOpenByToken returns the open position for a token, or ErrNotFound.
	GetOpenByToken(ctx context.Context, tokenID string) (Position, error)

	// CountOpenConditions counts distinct conditions with an open position.
	CountOpenConditions(ctx context.Context) (int, error)

	// ApplyFill folds a paper fill into the token's position inside one
	// transaction: creates the position on a first buy, updates size, average
	// price and cost basis on adds, reduces on sells, and closes the row when
	// size reaches zero. Returns the post-fill position.
	ApplyFill(ctx context.Context, fill PaperFill, price decimal.Decimal, conditionID, outcome string) (Position, error)

	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// GuardrailStore resolves and persists per-leader risk policy.
type GuardrailStore interface {
	// Resolve returns the effective config for (leaderID, side), walking the
	// fallback chain: exact row, leader default row, global default.
	Resolve(ctx context.Context, leaderID string, side OrderSide) (GuardrailConfig, error)

	Upsert(ctx context.Context, cfg GuardrailConfig) error
}

// RiskStateStore owns the daily-spend accumulator. Reserve is the single
// mutual-exclusion boundary for the day cap: it must read, clamp, and commit
// under one transaction so concurrent fills cannot over-commit the cap.
type RiskStateStore interface {
	// Reserve atomically grants up to amount against the remaining headroom
	// of cap for the given UTC date (YYYY-MM-DD). It returns the granted
	// notional, or ErrDayCapReached when no headroom remains. The cap is an
	// inclusive bound.
	Reserve(ctx context.Context, date string, amount, cap decimal.Decimal) (decimal.Decimal, error)

	// Get returns the accumulator row for the date; a zero state (not
	// ErrNotFound) when the date has no spend yet.
	Get(ctx context.Context, date string) (RiskState, error)
}

// PaperStore persists decision outcomes and simulated executions.
type PaperStore interface {
	CreateIntent(ctx context.Context, intent PaperIntent) error
	CreateFill(ctx context.Context, fill PaperFill) error
	ListRecentIntents(ctx context.Context, limit int) ([]PaperIntent, error)
}

// FillLogStore records every deduplicated leader fill, raw payload included,
// as the source of truth for the daily audit archive.
type FillLogStore interface {
	// RecordFill inserts one observed fill. A duplicate DedupeKey returns
	// ErrAlreadyExists.
	RecordFill(ctx context.Context, ev LeaderFillEvent) error

	// ListByDay returns all fills detected on a UTC date (YYYY-MM-DD),
	// ordered by detection time.
	ListByDay(ctx context.Context, date string) ([]LeaderFillEvent, error)
}

// PnLStore persists position value snapshots for the dashboard layer.
type PnLStore interface {
	CreateSnapshot(ctx context.Context, snap PnLSnapshot) error
}
