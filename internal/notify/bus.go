package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lalith-99/echocore/internal/observ"
	"go.uber.org/zap"
)

// Bus is an in-process Publisher. Every subscriber gets its own buffered
// channel. A lossy subscriber that falls behind misses notifications
// instead of blocking the publishing chat; a lossless one makes Publish
// wait until ctx is done. Every miss is logged and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[chan Notification]bool
	buffer  int
	logger  *zap.Logger
	metrics *observ.Metrics
}

func NewBus(buffer int, logger *zap.Logger, m *observ.Metrics) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:    make(map[chan Notification]bool),
		buffer:  buffer,
		logger:  logger.Named("bus"),
		metrics: m,
	}
}

// Publish hands n to every subscriber. It returns an error when a
// lossless subscriber could not take n before ctx was done.
func (b *Bus) Publish(ctx context.Context, n Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var errs []error
	for ch, lossless := range b.subs {
		if lossless {
			select {
			case ch <- n:
				continue
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("deliver %s notification: %w", n.Kind, ctx.Err()))
			}
		} else {
			select {
			case ch <- n:
				continue
			default:
			}
		}
		b.metrics.NotificationDropped()
		b.logger.Warn("subscriber full, dropping notification",
			zap.String("kind", string(n.Kind)),
			zap.Stringer("chat_id", n.ChatID),
			zap.Bool("lossless", lossless),
		)
	}
	return errors.Join(errs...)
}

// Subscribe registers a lossy subscriber.
func (b *Bus) Subscribe() chan Notification {
	return b.subscribe(false)
}

// SubscribeLossless registers a subscriber that Publish waits for.
func (b *Bus) SubscribeLossless() chan Notification {
	return b.subscribe(true)
}

func (b *Bus) subscribe(lossless bool) chan Notification {
	ch := make(chan Notification, b.buffer)
	b.mu.Lock()
	b.subs[ch] = lossless
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Notification) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// Consume feeds every notification from ch to h until ch is closed or ctx
// is done. Handler errors are logged and do not stop the loop.
func Consume(ctx context.Context, ch <-chan Notification, h Handler, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := h.Handle(ctx, n); err != nil {
				logger.Warn("notification handler failed",
					zap.String("kind", string(n.Kind)),
					zap.Stringer("chat_id", n.ChatID),
					zap.Error(err),
				)
			}
		}
	}
}

// Fanout publishes to several publishers and reports every failure.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, n Notification) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handlers dispatches to several handlers in order.
type Handlers []Handler

func (hs Handlers) Handle(ctx context.Context, n Notification) error {
	var errs []error
	for _, h := range hs {
		if err := h.Handle(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
