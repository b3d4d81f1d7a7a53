// Package retention prunes removal tombstones on a cron schedule.
// Readers whose sync point falls before the pruned horizon are told to
// resync instead of receiving a partial delta.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/lalith-99/echocore/internal/clock"
	"github.com/lalith-99/echocore/internal/observ"
	"go.uber.org/zap"
)

// Pruner drops tombstones at or before cutoff and reports how many.
type Pruner interface {
	PruneTombstones(ctx context.Context, cutoff time.Time) (int, error)
}

// PrunerFunc adapts a function to Pruner.
type PrunerFunc func(ctx context.Context, cutoff time.Time) (int, error)

func (f PrunerFunc) PruneTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	return f(ctx, cutoff)
}

// Target is a named Pruner.
type Target struct {
	Name   string
	Pruner Pruner
}

type Scheduler struct {
	cron      string
	retention time.Duration
	targets   []Target
	clock     clock.Clock
	metrics   *observ.Metrics
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
}

func New(cron string, retention time.Duration, targets []Target, clk clock.Clock, m *observ.Metrics, logger *zap.Logger) (*Scheduler, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid retention cron %q", cron)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		cron:      cron,
		retention: retention,
		targets:   targets,
		clock:     clk,
		metrics:   m,
		logger:    logger.Named("retention"),
	}, nil
}

// Next returns the first scheduled run strictly after now.
func (s *Scheduler) Next(now time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, now, false)
}

// Run blocks until ctx is cancelled, pruning at every scheduled tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("retention scheduled",
		zap.String("cron", s.cron),
		zap.Duration("retention", s.retention),
	)
	for {
		now := s.clock.Now()
		next, err := s.Next(now)
		if err != nil {
			s.logger.Error("failed to compute next run", zap.Error(err))
			next = now.Add(time.Minute)
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("retention run failed", zap.Error(err))
		}
	}
}

// RunOnce prunes every target once with cutoff = now - retention. A run
// already in progress makes it return immediately with zero.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cutoff := s.clock.Now().Add(-s.retention)
	total := 0
	var firstErr error
	for _, t := range s.targets {
		n, err := t.Pruner.PruneTombstones(ctx, cutoff)
		total += n
		s.metrics.TombstonesPruned(n)
		if err != nil {
			s.logger.Error("prune failed", zap.String("target", t.Name), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("prune %s: %w", t.Name, err)
			}
			continue
		}
		s.logger.Info("pruned tombstones",
			zap.String("target", t.Name),
			zap.Int("count", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return total, firstErr
}
