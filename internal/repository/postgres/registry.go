package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echocore/internal/repository"
)

type RegistryStore struct {
	pool *pgxpool.Pool
}

func NewRegistryStore(pool *pgxpool.Pool) *RegistryStore {
	return &RegistryStore{pool: pool}
}

func (s *RegistryStore) LoadRegistry(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM user_registries WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return data, nil
}

func (s *RegistryStore) SaveRegistry(ctx context.Context, userID uuid.UUID, data []byte) error {
	const query = `
		INSERT INTO user_registries (user_id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, userID, data); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

var _ repository.RegistryRepository = (*RegistryStore)(nil)
