package manager

import (
	"context"
	"time"

	"github.com/kasuboski/amnis/pkg/logger"
	"go.uber.org/zap"
)

// Scheduler runs a job now and then on every tick. Runs never overlap: a tick
// that fires while the job is still running is dropped by the ticker.
type Scheduler struct {
	interval time.Duration
	job      func(ctx context.Context) error
}

// NewScheduler creates a scheduler. A non-positive interval runs the job once.
func NewScheduler(interval time.Duration, job func(ctx context.Context) error) *Scheduler {
	return &Scheduler{
		interval: interval,
		job:      job,
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.execute(ctx)

	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.FromCtx(ctx).Debug("scheduler context cancelled")
			return nil
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	log := logger.FromCtx(ctx)
	start := time.Now()

	if err := s.job(ctx); err != nil {
		log.Error("scheduled run failed", zap.Error(err))
		return
	}

	log.Debugw("scheduled run finished", "duration", time.Since(start))
}
