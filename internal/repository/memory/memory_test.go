package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/models"
	"github.com/lalith-99/echocore/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(idx events.EventIndex) events.Record {
	return events.Record{Event: events.Event{
		Index:     idx,
		Timestamp: time.Date(2026, 1, 1, 0, 0, int(idx), 0, time.UTC),
		Payload:   events.MemberLeft{UserID: uuid.New()},
	}}
}

func TestAppendEventsIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	chatID := uuid.New()

	require.NoError(t, s.AppendEvents(ctx, chatID, []events.Record{record(1), record(0)}))
	require.NoError(t, s.AppendEvents(ctx, chatID, []events.Record{record(1), record(2)}))

	got, err := s.LoadEvents(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, events.EventIndex(i), r.Event.Index)
	}
}

func TestSnapshotMissingIsNil(t *testing.T) {
	s := New()
	snap, err := s.LoadSnapshot(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSnapshotCopiesData(t *testing.T) {
	s := New()
	ctx := context.Background()
	data := []byte{1, 2, 3}
	id := uuid.New()
	require.NoError(t, s.SaveSnapshot(ctx, repository.Snapshot{ChatID: id, Kind: models.ChatKindGroup, Data: data}))
	data[0] = 9

	snap, err := s.LoadSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, snap.Data)
	assert.Equal(t, models.ChatKindGroup, snap.Kind)
}
