package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/repository"
)

type ChatStore struct {
	pool *pgxpool.Pool
}

func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

func (s *ChatStore) AppendEvents(ctx context.Context, chatID uuid.UUID, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}

	// ON CONFLICT DO NOTHING: a flush retried after a partial failure
	// re-sends records that already landed. Events are immutable, so the
	// stored row is already correct.
	const query = `
		INSERT INTO chat_events (chat_id, event_index, thread_root, kind, created_at, event)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (chat_id, event_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range records {
		encoded, err := json.Marshal(r.Event)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", r.Event.Index, err)
		}
		var root *int64
		if r.ThreadRoot != nil {
			v := int64(*r.ThreadRoot)
			root = &v
		}
		batch.Queue(query, chatID, int64(r.Event.Index), root, string(r.Event.Kind()), r.Event.Timestamp, string(encoded))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

func (s *ChatStore) LoadEvents(ctx context.Context, chatID uuid.UUID) ([]events.Record, error) {
	const query = `
		SELECT thread_root, event
		FROM chat_events
		WHERE chat_id = $1
		ORDER BY event_index ASC`

	rows, err := s.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	records := make([]events.Record, 0)
	for rows.Next() {
		var root *int64
		var raw []byte
		if err := rows.Scan(&root, &raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var r events.Record
		if err := json.Unmarshal(raw, &r.Event); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if root != nil {
			mi := events.MessageIndex(*root)
			r.ThreadRoot = &mi
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

func (s *ChatStore) SaveSnapshot(ctx context.Context, snap repository.Snapshot) error {
	const query = `
		INSERT INTO chat_snapshots (chat_id, kind, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id) DO UPDATE
		SET kind = EXCLUDED.kind, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, snap.ChatID, string(snap.Kind), snap.Data, snap.UpdatedAt); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *ChatStore) LoadSnapshot(ctx context.Context, chatID uuid.UUID) (*repository.Snapshot, error) {
	const query = `
		SELECT chat_id, kind, data, updated_at
		FROM chat_snapshots
		WHERE chat_id = $1`

	var snap repository.Snapshot
	var kind string
	err := s.pool.QueryRow(ctx, query, chatID).Scan(&snap.ChatID, &kind, &snap.Data, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.Kind = models.ChatKind(kind)
	return &snap, nil
}

var _ repository.ChatRepository = (*ChatStore)(nil)
