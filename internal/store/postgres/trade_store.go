package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, strategy, asset_path, input_amount, profit,
	profit_usd, status, signatures, error, created_at, updated_at`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var records []domain.TradeRecord
	for rows.Next() {
		var (
			t           domain.TradeRecord
			inputAmount int64
			status      string
		)
		if err := rows.Scan(
			&t.ID, &t.Strategy, &t.AssetPath, &inputAmount, &t.Profit,
			&t.ProfitUSD, &status, &t.Signatures, &t.Error,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		t.InputAmount = uint64(inputAmount)
		t.Status = domain.TradeStatus(status)
		records = append(records, t)
	}
	return records, rows.Err()
}

// Insert writes the initial journal row for an execution attempt.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, strategy, asset_path, input_amount, profit, profit_usd,
			status, signatures, error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Strategy, t.AssetPath, int64(t.InputAmount), t.Profit,
		t.ProfitUSD, string(t.Status), t.Signatures, t.Error,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// Update rewrites the journal row with the final outcome of the attempt.
func (s *TradeStore) Update(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		UPDATE trades SET
			profit = $2, profit_usd = $3, status = $4, signatures = $5,
			error = $6, updated_at = $7
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.Profit, t.ProfitUSD, string(t.Status), t.Signatures,
		t.Error, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update trade %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

// ListByStatus returns up to limit journal rows in the given status, oldest
// first so reconciliation works through the backlog in order.
func (s *TradeStore) ListByStatus(ctx context.Context, status domain.TradeStatus, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE status = $1 ORDER BY created_at ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by status: %w", err)
	}
	defer rows.Close()

	records, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by status: %w", err)
	}
	return records, nil
}
