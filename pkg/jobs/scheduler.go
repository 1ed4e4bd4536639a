package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler periodically re-submits recurring tasks. It currently has one
// job: keeping cleanup_stale_environments flowing into the cleanup queue.
type Scheduler struct {
	Queue    *Queue
	Interval time.Duration
	Logger   *slog.Logger
}

// Run submits one cleanup task immediately and then on every tick of
// Interval, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.submit(ctx)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.submit(ctx)
		}
	}
}

func (s *Scheduler) submit(ctx context.Context) {
	if _, err := s.Queue.Submit(ctx, QueueCleanup, "cleanup_stale_environments", struct{}{}); err != nil {
		s.Logger.Error("scheduling cleanup task failed", "error", err)
	}
}
