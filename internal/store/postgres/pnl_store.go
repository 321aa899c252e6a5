package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// PnLStore implements domain.PnLStore using PostgreSQL.
type PnLStore struct {
	pool *pgxpool.Pool
}

// NewPnLStore creates a PnLStore backed by the given connection pool.
func NewPnLStore(pool *pgxpool.Pool) *PnLStore {
	return &PnLStore{pool: pool}
}

// UpsertDaily replaces the aggregate row for the day. The ledger is the
// source of truth for intra-day counters; the store only mirrors them.
func (s *PnLStore) UpsertDaily(ctx context.Context, day domain.DailyPnL) error {
	const query = `
		INSERT INTO daily_pnl (date, profit_usd, trades, wins, losses, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (date) DO UPDATE SET
			profit_usd = EXCLUDED.profit_usd,
			trades = EXCLUDED.trades,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		day.Date, day.ProfitUSD, day.Trades, day.Wins, day.Losses)
	if err != nil {
		return fmt.Errorf("postgres: upsert daily pnl %s: %w", day.Date, err)
	}
	return nil
}

// Today returns the current UTC day's aggregate. A missing row is a zero
// aggregate, not an error.
func (s *PnLStore) Today(ctx context.Context) (domain.DailyPnL, error) {
	date := time.Now().UTC().Format("2006-01-02")
	day := domain.DailyPnL{Date: date}

	err := s.pool.QueryRow(ctx,
		`SELECT profit_usd, trades, wins, losses FROM daily_pnl WHERE date = $1`,
		date,
	).Scan(&day.ProfitUSD, &day.Trades, &day.Wins, &day.Losses)
	if errors.Is(err, pgx.ErrNoRows) {
		return day, nil
	}
	if err != nil {
		return day, fmt.Errorf("postgres: get today pnl: %w", err)
	}
	return day, nil
}

// History returns the most recent daily aggregates, newest first.
func (s *PnLStore) History(ctx context.Context, days int) ([]domain.DailyPnL, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.pool.Query(ctx,
		`SELECT date, profit_usd, trades, wins, losses
		 FROM daily_pnl ORDER BY date DESC LIMIT $1`, days)
	if err != nil {
		return nil, fmt.Errorf("postgres: pnl history: %w", err)
	}
	defer rows.Close()

	var history []domain.DailyPnL
	for rows.Next() {
		var day domain.DailyPnL
		if err := rows.Scan(&day.Date, &day.ProfitUSD, &day.Trades, &day.Wins, &day.Losses); err != nil {
			return nil, fmt.Errorf("postgres: scan pnl history: %w", err)
		}
		history = append(history, day)
	}
	return history, rows.Err()
}

// RecordStrategyResult folds one trade outcome into the per-strategy
// aggregate.
func (s *PnLStore) RecordStrategyResult(ctx context.Context, strategy string, profitUSD float64, win bool) error {
	wins := 0
	if win {
		wins = 1
	}
	const query = `
		INSERT INTO strategy_stats (strategy, trades, wins, profit_usd, updated_at)
		VALUES ($1, 1, $2, $3, NOW())
		ON CONFLICT (strategy) DO UPDATE SET
			trades = strategy_stats.trades + 1,
			wins = strategy_stats.wins + EXCLUDED.wins,
			profit_usd = strategy_stats.profit_usd + EXCLUDED.profit_usd,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, strategy, wins, profitUSD); err != nil {
		return fmt.Errorf("postgres: record strategy result %s: %w", strategy, err)
	}
	return nil
}

// StrategyStats returns the per-strategy aggregates, best performer first.
func (s *PnLStore) StrategyStats(ctx context.Context) ([]domain.StrategyStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT strategy, trades, wins, profit_usd
		 FROM strategy_stats ORDER BY profit_usd DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: strategy stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.StrategyStats
	for rows.Next() {
		var st domain.StrategyStats
		if err := rows.Scan(&st.Strategy, &st.Trades, &st.Wins, &st.ProfitUSD); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy stats: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
