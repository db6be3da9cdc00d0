package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, token_id, condition_id, outcome,
	size::text, avg_price::text, cost_basis::text, realized_pnl::text,
	closed, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var size, avgPrice, costBasis, realized string

	err := row.Scan(
		&p.ID, &p.TokenID, &p.ConditionID, &p.Outcome,
		&size, &avgPrice, &costBasis, &realized,
		&p.Closed, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.Size, size},
		{&p.AvgPrice, avgPrice},
		{&p.CostBasis, costBasis},
		{&p.RealizedPnL, realized},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return domain.Position{}, fmt.Errorf("parse numeric %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return p, nil
}

// GetOpenByCondition returns all open positions under a condition key.
func (s *PositionStore) GetOpenByCondition(ctx context.Context, conditionID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE NOT closed AND (condition_id = $1 OR (condition_id = '' AND token_id = $1))
		 ORDER BY opened_at`, conditionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions for %s: %w", conditionID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetOpenByToken returns the open position for a token, or ErrNotFound.
func (s *PositionStore) GetOpenByToken(ctx context.Context, tokenID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE NOT closed AND token_id = $1`, tokenID)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position %s: %w", tokenID, err)
	}
	return p, nil
}

// CountOpenConditions counts distinct exposure keys with an open position.
// Positions lacking a condition count by token.
func (s *PositionStore) CountOpenConditions(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT COALESCE(NULLIF(condition_id, ''), token_id))
		 FROM positions WHERE NOT closed`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open conditions: %w", err)
	}
	return count, nil
}

// ApplyFill folds a simulated fill into the token's position inside one
// transaction. The open row is locked for the duration so concurrent fills
// on the same token serialize.
func (s *PositionStore) ApplyFill(ctx context.Context, fill domain.PaperFill, price decimal.Decimal, conditionID, outcome string) (domain.Position, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin apply fill: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE NOT closed AND token_id = $1 FOR UPDATE`, fill.TokenID)

	p, err := scanPositionRow(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if fill.Side == domain.SideSell {
			return domain.Position{}, domain.ErrNotFound
		}
		p, err = insertPosition(ctx, tx, fill, price, conditionID, outcome)
		if err != nil {
			return domain.Position{}, err
		}
	case err != nil:
		return domain.Position{}, fmt.Errorf("postgres: lock position %s: %w", fill.TokenID, err)
	default:
		p = foldFill(p, fill, price)
		if err := updatePosition(ctx, tx, p); err != nil {
			return domain.Position{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit apply fill: %w", err)
	}
	return p, nil
}

// foldFill recomputes a position's size, basis and realized PnL for one fill.
// Sells beyond the held size are clamped, never driven negative.
func foldFill(p domain.Position, fill domain.PaperFill, price decimal.Decimal) domain.Position {
	if fill.Side == domain.SideBuy {
		cost := fill.Size.Mul(price)
		p.Size = p.Size.Add(fill.Size)
		p.CostBasis = p.CostBasis.Add(cost)
		p.AvgPrice = p.CostBasis.DivRound(p.Size, 8)
		return p
	}

	sold := fill.Size
	if sold.GreaterThan(p.Size) {
		sold = p.Size
	}
	p.RealizedPnL = p.RealizedPnL.Add(sold.Mul(price.Sub(p.AvgPrice)))
	p.CostBasis = p.CostBasis.Sub(sold.Mul(p.AvgPrice))
	p.Size = p.Size.Sub(sold)

	if p.Size.IsZero() {
		p.Closed = true
		now := time.Now().UTC()
		p.ClosedAt = &now
	}
	return p
}

func insertPosition(ctx context.Context, tx pgx.Tx, fill domain.PaperFill, price decimal.Decimal, conditionID, outcome string) (domain.Position, error) {
	p := domain.Position{
		ID:          uuid.NewString(),
		TokenID:     fill.TokenID,
		ConditionID: conditionID,
		Outcome:     outcome,
		Size:        fill.Size,
		AvgPrice:    price,
		CostBasis:   fill.Size.Mul(price),
		RealizedPnL: decimal.Zero,
		OpenedAt:    time.Now().UTC(),
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO positions (
			id, token_id, condition_id, outcome,
			size, avg_price, cost_basis, realized_pnl,
			closed, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, NOW())`,
		p.ID, p.TokenID, p.ConditionID, p.Outcome,
		p.Size.String(), p.AvgPrice.String(), p.CostBasis.String(), p.RealizedPnL.String(),
		p.OpenedAt,
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: insert position %s: %w", p.TokenID, err)
	}
	return p, nil
}

func updatePosition(ctx context.Context, tx pgx.Tx, p domain.Position) error {
	_, err := tx.Exec(ctx,
		`UPDATE positions SET
			size         = $2,
			avg_price    = $3,
			cost_basis   = $4,
			realized_pnl = $5,
			closed       = $6,
			closed_at    = $7,
			updated_at   = NOW()
		WHERE id = $1`,
		p.ID,
		p.Size.String(), p.AvgPrice.String(), p.CostBasis.String(), p.RealizedPnL.String(),
		p.Closed, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	return nil
}

// ListHistory returns positions with pagination and optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE TRUE`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position history: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
