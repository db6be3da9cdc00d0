package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// PaperStore implements domain.PaperStore using PostgreSQL.
type PaperStore struct {
	pool *pgxpool.Pool
}

// NewPaperStore creates a PaperStore backed by the given connection pool.
func NewPaperStore(pool *pgxpool.Pool) *PaperStore {
	return &PaperStore{pool: pool}
}

// CreateIntent inserts a decision record.
func (s *PaperStore) CreateIntent(ctx context.Context, intent domain.PaperIntent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO paper_intents (
			id, leader_id, dedupe_key, token_id, condition_id, side,
			decision, decision_reason,
			leader_price, leader_usdc, target_usdc, limit_price, size, mirror_ratio,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		intent.ID, intent.LeaderID, intent.DedupeKey, intent.TokenID, intent.ConditionID,
		string(intent.Side), string(intent.Decision), intent.DecisionReason,
		intent.LeaderPrice.String(), intent.LeaderUsdc.String(), intent.TargetUsdc.String(),
		intent.LimitPrice.String(), intent.Size.String(), intent.MirrorRatio.String(),
		intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create intent %s: %w", intent.ID, err)
	}
	return nil
}

// CreateFill inserts a simulated execution record.
func (s *PaperStore) CreateFill(ctx context.Context, fill domain.PaperFill) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO paper_fills (
			id, intent_id, token_id, side,
			filled, match_same_price, fill_price, size, slippage_pct,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		fill.ID, fill.IntentID, fill.TokenID, string(fill.Side),
		fill.Filled, fill.MatchSamePrice,
		fill.FillPrice.String(), fill.Size.String(), fill.SlippagePct.String(),
		fill.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create fill %s: %w", fill.ID, err)
	}
	return nil
}

// ListRecentIntents returns the most recent intents, newest first.
func (s *PaperStore) ListRecentIntents(ctx context.Context, limit int) ([]domain.PaperIntent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, leader_id, dedupe_key, token_id, condition_id, side,
			decision, decision_reason,
			leader_price::text, leader_usdc::text, target_usdc::text,
			limit_price::text, size::text, mirror_ratio::text,
			created_at
		 FROM paper_intents ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent intents: %w", err)
	}
	defer rows.Close()

	var intents []domain.PaperIntent
	for rows.Next() {
		var in domain.PaperIntent
		var side, decision string
		var leaderPrice, leaderUsdc, targetUsdc, limitPrice, size, ratio string

		if err := rows.Scan(
			&in.ID, &in.LeaderID, &in.DedupeKey, &in.TokenID, &in.ConditionID, &side,
			&decision, &in.DecisionReason,
			&leaderPrice, &leaderUsdc, &targetUsdc, &limitPrice, &size, &ratio,
			&in.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan intent: %w", err)
		}
		in.Side = domain.OrderSide(side)
		in.Decision = domain.Decision(decision)

		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&in.LeaderPrice, leaderPrice},
			{&in.LeaderUsdc, leaderUsdc},
			{&in.TargetUsdc, targetUsdc},
			{&in.LimitPrice, limitPrice},
			{&in.Size, size},
			{&in.MirrorRatio, ratio},
		} {
			d, err := decimal.NewFromString(f.src)
			if err != nil {
				return nil, fmt.Errorf("postgres: parse numeric %q: %w", f.src, err)
			}
			*f.dst = d
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}
