// Package trigger starts crawl runs in response to external signals: a daily
// schedule, a redis channel or a Pub/Sub subscription. All entry points share
// one Runner so runs never overlap in-process and never start while a prior
// run's queue entries are still pending.
package trigger

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Queue is the persistent-queue surface the gate checks and reseeds.
type Queue interface {
	HasQueuedPlayers(ctx context.Context) (bool, error)
	RequeueAllPlayers(ctx context.Context) (int64, error)
}

// Runner serializes crawl runs behind an in-process latch and the
// queued-entries gate.
type Runner struct {
	queue   Queue
	crawl   func(ctx context.Context) error
	logger  *zap.Logger
	running atomic.Bool
}

// NewRunner builds a Runner around the given crawl function.
func NewRunner(queue Queue, crawl func(ctx context.Context) error, logger *zap.Logger) *Runner {
	return &Runner{
		queue:  queue,
		crawl:  crawl,
		logger: logger,
	}
}

// TryRun starts a crawl unless one is already in progress or the queue still
// holds Queued entries from an unfinished run. Skips are logged, never errors.
func (r *Runner) TryRun(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Info("crawl already running, trigger ignored")
		return nil
	}
	defer r.running.Store(false)

	pending, err := r.queue.HasQueuedPlayers(ctx)
	if err != nil {
		return err
	}
	if pending {
		r.logger.Info("queued players remain from a prior run, trigger skipped")
		return nil
	}

	requeued, err := r.queue.RequeueAllPlayers(ctx)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID))
	logger.Info("crawl run triggered", zap.Int64("players_requeued", requeued))

	if err := r.crawl(ctx); err != nil {
		logger.Error("crawl run failed", zap.Error(err))
		return err
	}
	logger.Info("crawl run complete")
	return nil
}
