package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// PnLStore implements domain.PnLStore using PostgreSQL.
type PnLStore struct {
	pool *pgxpool.Pool
}

// NewPnLStore creates a PnLStore backed by the given connection pool.
func NewPnLStore(pool *pgxpool.Pool) *PnLStore {
	return &PnLStore{pool: pool}
}

// CreateSnapshot inserts a position value snapshot.
func (s *PnLStore) CreateSnapshot(ctx context.Context, snap domain.PnLSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pnl_snapshots (
			id, position_id, token_id,
			size, cost_basis, mark_price, realized_pnl, unrealized_pnl,
			captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		snap.ID, snap.PositionID, snap.TokenID,
		snap.Size.String(), snap.CostBasis.String(), snap.MarkPrice.String(),
		snap.RealizedPnL.String(), snap.UnrealizedPnL.String(),
		snap.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create pnl snapshot %s: %w", snap.ID, err)
	}
	return nil
}
