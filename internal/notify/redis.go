package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis pub/sub channel notifications travel on.
const DefaultChannel = "echocore:notifications"

// RedisPublisher publishes CBOR-encoded notifications so that every
// server instance sees them.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, n Notification) error {
	data, err := n.Encode()
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// RedisSubscriber delivers notifications from the pub/sub channel to a
// Handler.
type RedisSubscriber struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisSubscriber(rdb *redis.Client, channel string, logger *zap.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSubscriber{rdb: rdb, channel: channel, logger: logger.Named("notify")}
}

// Run blocks until ctx is done.
func (s *RedisSubscriber) Run(ctx context.Context, h Handler) error {
	ps := s.rdb.Subscribe(ctx, s.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("subscribed to notifications", zap.String("channel", s.channel))

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			n, err := Decode([]byte(msg.Payload))
			if err != nil {
				s.logger.Warn("dropping undecodable notification", zap.Error(err))
				continue
			}
			if err := h.Handle(ctx, n); err != nil {
				s.logger.Warn("notification handler failed",
					zap.String("kind", string(n.Kind)),
					zap.Stringer("chat_id", n.ChatID),
					zap.Error(err),
				)
			}
		}
	}
}
