package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// StuckAssetStore implements domain.StuckAssetStore using PostgreSQL.
type StuckAssetStore struct {
	pool *pgxpool.Pool
}

// NewStuckAssetStore creates a StuckAssetStore backed by the given pool.
func NewStuckAssetStore(pool *pgxpool.Pool) *StuckAssetStore {
	return &StuckAssetStore{pool: pool}
}

// Add persists a stranded-asset record and returns its assigned ID.
func (s *StuckAssetStore) Add(ctx context.Context, a domain.StuckAsset) (int64, error) {
	const query = `
		INSERT INTO stuck_assets (
			mint, symbol, estimated_amount, trade_id, reason, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		a.Mint, a.Symbol, int64(a.EstimatedAmount), a.TradeID,
		a.Reason, string(a.Status), a.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: add stuck asset %s: %w", a.Mint, err)
	}
	return id, nil
}

// ListPending returns every stranded asset still awaiting recovery, oldest
// first.
func (s *StuckAssetStore) ListPending(ctx context.Context) ([]domain.StuckAsset, error) {
	const query = `
		SELECT id, mint, symbol, estimated_amount, trade_id, reason, status,
		       created_at, recovered_at, recovery_proof
		FROM stuck_assets WHERE status = $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, string(domain.RecoveryPending))
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending stuck assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.StuckAsset
	for rows.Next() {
		var (
			a      domain.StuckAsset
			amount int64
			status string
		)
		if err := rows.Scan(
			&a.ID, &a.Mint, &a.Symbol, &amount, &a.TradeID, &a.Reason,
			&status, &a.CreatedAt, &a.RecoveredAt, &a.RecoveryProof,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan stuck asset: %w", err)
		}
		a.EstimatedAmount = uint64(amount)
		a.Status = domain.RecoveryStatus(status)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// MarkRecovered closes a stranded-asset record with its recovery proof.
func (s *StuckAssetStore) MarkRecovered(ctx context.Context, id int64, proof string) error {
	const query = `
		UPDATE stuck_assets SET status = $2, recovered_at = NOW(), recovery_proof = $3
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(domain.RecoveryRecovered), proof)
	if err != nil {
		return fmt.Errorf("postgres: mark stuck asset %d recovered: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark stuck asset %d recovered: %w", id, domain.ErrNotFound)
	}
	return nil
}
