package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// FillLogStore implements domain.FillLogStore using PostgreSQL. The dedupe
// key is the primary key, so the store doubles as a durable backstop for the
// in-memory dedupe window across restarts.
type FillLogStore struct {
	pool *pgxpool.Pool
}

// NewFillLogStore creates a FillLogStore backed by the given pool.
func NewFillLogStore(pool *pgxpool.Pool) *FillLogStore {
	return &FillLogStore{pool: pool}
}

// RecordFill inserts one observed fill. A duplicate dedupe key returns
// ErrAlreadyExists.
func (s *FillLogStore) RecordFill(ctx context.Context, ev domain.LeaderFillEvent) error {
	var txHash string
	var logIndex uint
	var blockNumber uint64
	if ev.Chain != nil {
		txHash = ev.Chain.TxHash
		logIndex = ev.Chain.LogIndex
		blockNumber = ev.Chain.BlockNumber
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO leader_fills (
			dedupe_key, leader_id, wallet, source, role,
			token_id, condition_id, outcome, side,
			price, size, usdc_size,
			tx_hash, log_index, block_number,
			is_backfill, fill_ts, detected_at, raw
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		ev.DedupeKey, ev.Leader.ID, ev.Leader.Wallet, string(ev.Source), string(ev.Role),
		ev.TokenID, ev.ConditionID, ev.Outcome, string(ev.Side),
		ev.Price.String(), ev.Size.String(), ev.UsdcSize.String(),
		txHash, int64(logIndex), int64(blockNumber),
		ev.IsBackfill, ev.FillTs, ev.DetectedAt, []byte(ev.Raw),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: record fill %s: %w", ev.DedupeKey, err)
	}
	return nil
}

// ListByDay returns all fills detected on a UTC date, ordered by detection
// time.
func (s *FillLogStore) ListByDay(ctx context.Context, date string) ([]domain.LeaderFillEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dedupe_key, leader_id, wallet, source, role,
			token_id, condition_id, outcome, side,
			price::text, size::text, usdc_size::text,
			tx_hash, log_index, block_number,
			is_backfill, fill_ts, detected_at, raw
		 FROM leader_fills
		 WHERE detected_at >= $1::date AND detected_at < $1::date + INTERVAL '1 day'
		 ORDER BY detected_at`, date)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for %s: %w", date, err)
	}
	defer rows.Close()

	var fills []domain.LeaderFillEvent
	for rows.Next() {
		var ev domain.LeaderFillEvent
		var source, role, side string
		var price, size, usdcSize string
		var txHash string
		var logIndex, blockNumber int64
		var raw []byte

		if err := rows.Scan(
			&ev.DedupeKey, &ev.Leader.ID, &ev.Leader.Wallet, &source, &role,
			&ev.TokenID, &ev.ConditionID, &ev.Outcome, &side,
			&price, &size, &usdcSize,
			&txHash, &logIndex, &blockNumber,
			&ev.IsBackfill, &ev.FillTs, &ev.DetectedAt, &raw,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		ev.Source = domain.FillSourceKind(source)
		ev.Role = domain.LeaderRole(role)
		ev.Side = domain.OrderSide(side)
		ev.Raw = raw

		if txHash != "" {
			ev.Chain = &domain.ChainIdentity{
				TxHash:      txHash,
				LogIndex:    uint(logIndex),
				BlockNumber: uint64(blockNumber),
			}
		}

		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&ev.Price, price},
			{&ev.Size, size},
			{&ev.UsdcSize, usdcSize},
		} {
			d, err := decimal.NewFromString(f.src)
			if err != nil {
				return nil, fmt.Errorf("postgres: parse numeric %q: %w", f.src, err)
			}
			*f.dst = d
		}
		fills = append(fills, ev)
	}
	return fills, rows.Err()
}
