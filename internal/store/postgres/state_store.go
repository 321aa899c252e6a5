package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

// StateStore implements domain.StateStore using PostgreSQL.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Get returns the stored value for key, or domain.ErrNotFound.
func (s *StateStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM engine_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: state %q: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: get state %q: %w", key, err)
	}
	return value, nil
}

// Set stores the value for key, replacing any previous one.
func (s *StateStore) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO engine_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres: set state %q: %w", key, err)
	}
	return nil
}
