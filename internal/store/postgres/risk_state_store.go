package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// RiskStateStore implements domain.RiskStateStore using PostgreSQL. Reserve
// row-locks the date's accumulator so concurrent reservations serialize and
// the cap can never be over-committed.
type RiskStateStore struct {
	pool *pgxpool.Pool
}

// NewRiskStateStore creates a RiskStateStore backed by the given pool.
func NewRiskStateStore(pool *pgxpool.Pool) *RiskStateStore {
	return &RiskStateStore{pool: pool}
}

// Reserve atomically grants up to amount against the remaining headroom of
// cap for the date. Returns the granted notional, or ErrDayCapReached when
// the cap leaves no headroom. The cap is an inclusive bound.
func (s *RiskStateStore) Reserve(ctx context.Context, date string, amount, cap decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Ensure the date row exists before locking it.
	if _, err := tx.Exec(ctx,
		`INSERT INTO risk_state (date, spent_usdc, updated_at)
		 VALUES ($1, 0, NOW()) ON CONFLICT (date) DO NOTHING`, date); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: init risk state %s: %w", date, err)
	}

	var spentStr string
	if err := tx.QueryRow(ctx,
		`SELECT spent_usdc::text FROM risk_state WHERE date = $1 FOR UPDATE`, date,
	).Scan(&spentStr); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: lock risk state %s: %w", date, err)
	}

	spent, err := decimal.NewFromString(spentStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse spent %q: %w", spentStr, err)
	}

	headroom := cap.Sub(spent)
	if !headroom.IsPositive() {
		return decimal.Zero, domain.ErrDayCapReached
	}

	granted := amount
	if granted.GreaterThan(headroom) {
		granted = headroom
	}

	if _, err := tx.Exec(ctx,
		`UPDATE risk_state SET spent_usdc = spent_usdc + $2::numeric, updated_at = NOW()
		 WHERE date = $1`, date, granted.String()); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: commit spend %s: %w", date, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: commit reserve: %w", err)
	}
	return granted, nil
}

// Get returns the accumulator row for the date, or a zero state when the
// date has no spend yet.
func (s *RiskStateStore) Get(ctx context.Context, date string) (domain.RiskState, error) {
	var st domain.RiskState
	var spentStr string

	err := s.pool.QueryRow(ctx,
		`SELECT date, spent_usdc::text, updated_at FROM risk_state WHERE date = $1`, date,
	).Scan(&st.Date, &spentStr, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RiskState{Date: date, SpentUsdc: decimal.Zero}, nil
	}
	if err != nil {
		return domain.RiskState{}, fmt.Errorf("postgres: get risk state %s: %w", date, err)
	}

	st.SpentUsdc, err = decimal.NewFromString(spentStr)
	if err != nil {
		return domain.RiskState{}, fmt.Errorf("postgres: parse spent %q: %w", spentStr, err)
	}
	return st, nil
}
