// Package payout queues transfers owed to a chat after a payment-gated
// join commits. Processing the transfers belongs to a separate worker.
package payout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echocore/internal/codec"
	"github.com/redis/go-redis/v9"
)

// Item is one pending transfer: Amount minus Fee from the joiner to the
// chat's treasury on LedgerID.
type Item struct {
	ChatID   uuid.UUID `json:"chat_id"`
	Payer    uuid.UUID `json:"payer"`
	LedgerID string    `json:"ledger_id"`
	Amount   uint64    `json:"amount"`
	Fee      uint64    `json:"fee"`
	At       time.Time `json:"at"`
}

// Net is what the chat receives.
func (i Item) Net() uint64 {
	return i.Amount - i.Fee
}

type Queue interface {
	Enqueue(ctx context.Context, items ...Item) error
}

// DefaultKey is the Redis list holding pending payouts.
const DefaultKey = "echocore:payouts"

// RedisQueue keeps pending payouts in a Redis list, oldest first.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]any, 0, len(items))
	for _, item := range items {
		data, err := codec.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode payout: %w", err)
		}
		values = append(values, data)
	}
	if err := q.rdb.RPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("enqueue payout: %w", err)
	}
	return nil
}

// Pop removes up to n of the oldest payouts.
func (q *RedisQueue) Pop(ctx context.Context, n int) ([]Item, error) {
	raw, err := q.rdb.LPopCount(ctx, q.key, n).Result()
	if err == redis.Nil {
		return []Item{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop payouts: %w", err)
	}
	out := make([]Item, 0, len(raw))
	for _, r := range raw {
		var item Item
		if err := codec.Unmarshal([]byte(r), &item); err != nil {
			return out, fmt.Errorf("decode payout: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// MemoryQueue is an in-process Queue for development and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	items []Item
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, items ...Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context, n int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = min(n, len(q.items))
	out := append([]Item(nil), q.items[:n]...)
	q.items = q.items[n:]
	return out, nil
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
