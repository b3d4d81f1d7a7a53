package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/models"
)

// Snapshot is the latest encoded state of a chat entity, everything but
// its events.
type Snapshot struct {
	ChatID    uuid.UUID
	Kind      models.ChatKind
	Data      []byte
	UpdatedAt time.Time
}

// ChatRepository persists chat entities as an append-only event table
// plus one state snapshot per chat.
type ChatRepository interface {
	// AppendEvents stores records. Records already stored under the same
	// (chat, event index) are left as they are, so retries are safe.
	AppendEvents(ctx context.Context, chatID uuid.UUID, records []events.Record) error

	// LoadEvents returns every record of a chat ordered by event index.
	LoadEvents(ctx context.Context, chatID uuid.UUID) ([]events.Record, error)

	// SaveSnapshot replaces the chat's snapshot.
	SaveSnapshot(ctx context.Context, s Snapshot) error

	// LoadSnapshot returns nil, nil if the chat does not exist.
	LoadSnapshot(ctx context.Context, chatID uuid.UUID) (*Snapshot, error)
}

// RegistryRepository persists per-user registries as opaque blobs.
type RegistryRepository interface {
	// LoadRegistry returns nil, nil if the user has no registry yet.
	LoadRegistry(ctx context.Context, userID uuid.UUID) ([]byte, error)

	SaveRegistry(ctx context.Context, userID uuid.UUID, data []byte) error
}
