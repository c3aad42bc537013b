package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Schedule runs Kind every Interval. A zero interval disables it.
type Schedule struct {
	Kind     Kind
	Interval time.Duration
}

// Scheduler enqueues the periodic sweeps. Every sweep is idempotent, so an
// extra run from an overlapping scheduler is harmless.
type Scheduler struct {
	queue     Enqueuer
	schedules []Schedule
	logger    *slog.Logger
	metrics   *Metrics
}

func NewScheduler(queue Enqueuer, schedules []Schedule, logger *slog.Logger, metrics *Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{queue: queue, schedules: schedules, logger: logger, metrics: metrics}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sch := range s.schedules {
		if sch.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(sch Schedule) {
			defer wg.Done()
			ticker := time.NewTicker(sch.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.Trigger(ctx, sch.Kind)
				}
			}
		}(sch)
	}
	wg.Wait()
}

// Trigger enqueues one run of kind now.
func (s *Scheduler) Trigger(ctx context.Context, kind Kind) {
	if err := Enqueue(ctx, s.queue, kind, nil); err != nil {
		s.logger.ErrorContext(ctx, "enqueue scheduled job failed", "kind", kind, "error", err)
		return
	}
	s.metrics.scheduled(kind)
	s.logger.InfoContext(ctx, "scheduled job enqueued", "kind", kind)
}
