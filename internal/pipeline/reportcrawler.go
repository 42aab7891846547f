package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/calderareport/crawler/internal/telemetry"
)

// ReportCrawlerConfig controls the report stage.
type ReportCrawlerConfig struct {
	Workers int
}

// ReportCrawler resolves discovered activity instances. Instances already
// ingested are skipped; stale ones are purged and refetched; the rest are
// pulled from the carnage report endpoint and handed to the ingestion stage.
type ReportCrawler struct {
	store  Store
	client Client
	input  *Queue[ReportWorkItem]
	output *Queue[PgcrWorkItem]
	track  *Tracker
	cfg    ReportCrawlerConfig
	logger *zap.Logger
}

// NewReportCrawler constructs the stage.
func NewReportCrawler(st Store, client Client, input *Queue[ReportWorkItem], output *Queue[PgcrWorkItem], track *Tracker, cfg ReportCrawlerConfig, logger *zap.Logger) *ReportCrawler {
	if cfg.Workers <= 0 {
		cfg.Workers = 200
	}
	return &ReportCrawler{
		store:  st,
		client: client,
		input:  input,
		output: output,
		track:  track,
		cfg:    cfg,
		logger: logger,
	}
}

// Run consumes the report queue with a fixed worker pool and closes the PGCR
// queue once the input is drained.
func (c *ReportCrawler) Run(ctx context.Context) error {
	defer c.output.Close()
	c.logger.Info("report crawler started", zap.Int("workers", c.cfg.Workers))

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		c.logger.Info("report crawler cancellation requested")
		return err
	}
	c.logger.Info("report crawler drained")
	return nil
}

func (c *ReportCrawler) worker(ctx context.Context) {
	for {
		item, err := c.input.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && ctx.Err() == nil {
				c.logger.Error("report dequeue failed", zap.Error(err))
			}
			return
		}

		if err := c.processReport(ctx, item); err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.IncReportFetched("error")
			c.logger.Error("report resolution failed",
				zap.Int64("report_id", item.ReportID),
				zap.Int64("player_id", item.PlayerID),
				zap.Error(err))
			c.failReport(ctx, item.PlayerID)
		}
	}
}

func (c *ReportCrawler) processReport(ctx context.Context, item ReportWorkItem) error {
	existing, err := c.store.GetReport(ctx, item.ReportID)
	if err != nil {
		return err
	}
	if existing != nil {
		if !existing.NeedsFullCheck {
			// Another player's crawl already ingested this match.
			telemetry.IncReportFetched("skipped")
			if c.track.FinalizeMatch(item.PlayerID) {
				return c.finishPlayer(ctx, item.PlayerID)
			}
			return nil
		}
		// A stale row was ingested before the match finished. Purge it so
		// the fresh carnage report lands cleanly.
		if err := c.store.DeleteReport(ctx, item.ReportID); err != nil {
			return fmt.Errorf("purge stale report %d: %w", item.ReportID, err)
		}
		c.logger.Info("purged stale report for refetch", zap.Int64("report_id", item.ReportID))
	}

	report, err := c.client.GetPostGameCarnageReport(ctx, item.ReportID)
	if err != nil {
		return fmt.Errorf("fetch carnage report: %w", err)
	}
	telemetry.IncReportFetched("ok")

	work := PgcrWorkItem{Report: report, PlayerID: item.PlayerID}
	return c.output.Enqueue(ctx, work)
}

func (c *ReportCrawler) failReport(ctx context.Context, playerID int64) {
	if err := c.store.FailPlayer(ctx, playerID); err != nil {
		c.logger.Error("marking player failed", zap.Int64("player_id", playerID), zap.Error(err))
	}
	if c.track.FinalizeMatch(playerID) {
		if err := c.finishPlayer(ctx, playerID); err != nil {
			c.logger.Error("finishing player after report failure", zap.Int64("player_id", playerID), zap.Error(err))
		}
	}
}

func (c *ReportCrawler) finishPlayer(ctx context.Context, playerID int64) error {
	if err := c.store.CompletePlayerIfNotError(ctx, playerID); err != nil {
		return err
	}
	c.logger.Info("player crawl drained at report stage", zap.Int64("player_id", playerID))
	return nil
}
