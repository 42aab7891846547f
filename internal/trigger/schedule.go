package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/calderareport/crawler/internal/clock"
)

// Schedule fires the runner once a day at a fixed UTC hour.
type Schedule struct {
	runner *Runner
	clock  clock.Clock
	hour   int
	logger *zap.Logger
}

// NewSchedule builds the daily schedule loop.
func NewSchedule(runner *Runner, clk clock.Clock, hour int, logger *zap.Logger) *Schedule {
	if hour < 0 || hour > 23 {
		hour = 0
	}
	return &Schedule{
		runner: runner,
		clock:  clk,
		hour:   hour,
		logger: logger,
	}
}

// Run blocks until the context ends, triggering a crawl at each occurrence.
func (s *Schedule) Run(ctx context.Context) error {
	for {
		next := s.nextFiring()
		s.logger.Info("next scheduled crawl", zap.Time("at", next))

		timer := time.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.runner.TryRun(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduled crawl failed", zap.Error(err))
		}
	}
}

func (s *Schedule) nextFiring() time.Time {
	now := s.clock.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
