package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_events (
		chat_id     UUID        NOT NULL,
		event_index BIGINT      NOT NULL,
		thread_root BIGINT,
		kind        TEXT        NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		event       JSONB       NOT NULL,
		PRIMARY KEY (chat_id, event_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_events_thread
		ON chat_events(chat_id, thread_root, event_index) WHERE thread_root IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS chat_snapshots (
		chat_id    UUID        PRIMARY KEY,
		kind       TEXT        NOT NULL,
		data       BYTEA       NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_registries (
		user_id    UUID        PRIMARY KEY,
		data       BYTEA       NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the tables if they don't exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
