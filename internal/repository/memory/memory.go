// Package memory is an in-process implementation of the repository
// interfaces, used when no DATABASE_URL is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/events"
	"github.com/lalith-99/echocore/internal/repository"
)

type Store struct {
	mu         sync.Mutex
	events     map[uuid.UUID]map[events.EventIndex]events.Record
	snapshots  map[uuid.UUID]repository.Snapshot
	registries map[uuid.UUID][]byte
}

func New() *Store {
	return &Store{
		events:     make(map[uuid.UUID]map[events.EventIndex]events.Record),
		snapshots:  make(map[uuid.UUID]repository.Snapshot),
		registries: make(map[uuid.UUID][]byte),
	}
}

func (s *Store) AppendEvents(_ context.Context, chatID uuid.UUID, records []events.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.events[chatID]
	if !ok {
		stored = make(map[events.EventIndex]events.Record)
		s.events[chatID] = stored
	}
	for _, r := range records {
		if _, exists := stored[r.Event.Index]; !exists {
			stored[r.Event.Index] = r
		}
	}
	return nil
}

func (s *Store) LoadEvents(_ context.Context, chatID uuid.UUID) ([]events.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Record, 0, len(s.events[chatID]))
	for _, r := range s.events[chatID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event.Index < out[j].Event.Index })
	return out, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap repository.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Data = append([]byte(nil), snap.Data...)
	s.snapshots[snap.ChatID] = snap
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context, chatID uuid.UUID) (*repository.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[chatID]
	if !ok {
		return nil, nil
	}
	snap.Data = append([]byte(nil), snap.Data...)
	return &snap, nil
}

// EventCount returns how many records are stored for a chat.
func (s *Store) EventCount(chatID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[chatID])
}

func (s *Store) LoadRegistry(_ context.Context, userID uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.registries[userID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) SaveRegistry(_ context.Context, userID uuid.UUID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registries[userID] = append([]byte(nil), data...)
	return nil
}

var (
	_ repository.ChatRepository     = (*Store)(nil)
	_ repository.RegistryRepository = (*Store)(nil)
)
