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

// GuardrailStore implements domain.GuardrailStore using PostgreSQL. The
// global default row is stored under leader_id = '*'.
type GuardrailStore struct {
	pool *pgxpool.Pool
}

// NewGuardrailStore creates a GuardrailStore backed by the given pool.
func NewGuardrailStore(pool *pgxpool.Pool) *GuardrailStore {
	return &GuardrailStore{pool: pool}
}

const guardrailSelectCols = `leader_id, side, skip_maker_trades,
	max_usdc_per_event::text, max_open_positions, mirror_ratio::text,
	max_usdc_per_trade::text, max_usdc_per_day::text, slippage_tolerance_pct::text`

func scanGuardrailRow(row pgx.Row) (domain.GuardrailConfig, error) {
	var cfg domain.GuardrailConfig
	var side, perEvent, ratio, perTrade, perDay, slippage string

	err := row.Scan(
		&cfg.LeaderID, &side, &cfg.SkipMakerTrades,
		&perEvent, &cfg.MaxOpenPositions, &ratio,
		&perTrade, &perDay, &slippage,
	)
	if err != nil {
		return domain.GuardrailConfig{}, err
	}
	cfg.Side = domain.OrderSide(side)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&cfg.MaxUsdcPerEvent, perEvent},
		{&cfg.MirrorRatio, ratio},
		{&cfg.MaxUsdcPerTrade, perTrade},
		{&cfg.MaxUsdcPerDay, perDay},
		{&cfg.SlippageTolerancePct, slippage},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return domain.GuardrailConfig{}, fmt.Errorf("parse numeric %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return cfg, nil
}

// Resolve returns the effective config for (leaderID, side), walking the
// fallback chain: the exact (leader, side) row, then the leader's default
// row (empty side), then the stored global default, then the built-in
// defaults.
func (s *GuardrailStore) Resolve(ctx context.Context, leaderID string, side domain.OrderSide) (domain.GuardrailConfig, error) {
	for _, key := range []struct {
		leader string
		side   string
	}{
		{leaderID, string(side)},
		{leaderID, ""},
		{"*", ""},
	} {
		row := s.pool.QueryRow(ctx,
			`SELECT `+guardrailSelectCols+` FROM guardrails
			 WHERE leader_id = $1 AND side = $2`, key.leader, key.side)

		cfg, err := scanGuardrailRow(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return domain.GuardrailConfig{}, fmt.Errorf("postgres: resolve guardrails %s/%s: %w", key.leader, key.side, err)
		}

		cfg.LeaderID = leaderID
		cfg.Side = side
		return cfg, nil
	}

	return domain.DefaultGuardrails(leaderID, side), nil
}

// Upsert writes a guardrail row, replacing any existing row for the same
// (leader, side) key.
func (s *GuardrailStore) Upsert(ctx context.Context, cfg domain.GuardrailConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO guardrails (
			leader_id, side, skip_maker_trades,
			max_usdc_per_event, max_open_positions, mirror_ratio,
			max_usdc_per_trade, max_usdc_per_day, slippage_tolerance_pct,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (leader_id, side) DO UPDATE SET
			skip_maker_trades      = EXCLUDED.skip_maker_trades,
			max_usdc_per_event     = EXCLUDED.max_usdc_per_event,
			max_open_positions     = EXCLUDED.max_open_positions,
			mirror_ratio           = EXCLUDED.mirror_ratio,
			max_usdc_per_trade     = EXCLUDED.max_usdc_per_trade,
			max_usdc_per_day       = EXCLUDED.max_usdc_per_day,
			slippage_tolerance_pct = EXCLUDED.slippage_tolerance_pct,
			updated_at             = NOW()`,
		cfg.LeaderID, string(cfg.Side), cfg.SkipMakerTrades,
		cfg.MaxUsdcPerEvent.String(), cfg.MaxOpenPositions, cfg.MirrorRatio.String(),
		cfg.MaxUsdcPerTrade.String(), cfg.MaxUsdcPerDay.String(), cfg.SlippageTolerancePct.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert guardrails %s/%s: %w", cfg.LeaderID, cfg.Side, err)
	}
	return nil
}
