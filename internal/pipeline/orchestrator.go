package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calderareport/crawler/internal/clock"
	"github.com/calderareport/crawler/internal/telemetry"
)

// Signals is the run-scoped coordination surface shared across crawler
// processes.
type Signals interface {
	RecordRunStart(ctx context.Context, t time.Time) error
	RecordRunEnd(ctx context.Context, t time.Time) error
	PreviousRunStart(ctx context.Context) (time.Time, error)
	ActivityHashMap(ctx context.Context) (map[int64]int64, error)
}

// LeaderboardTrigger kicks off downstream leaderboard recomputation once a
// run has fully drained.
type LeaderboardTrigger interface {
	Trigger(ctx context.Context) error
}

// OrchestratorConfig sizes the queues and stage pools for one run.
type OrchestratorConfig struct {
	CharacterQueueDepth int
	ReportQueueDepth    int
	PgcrQueueDepth      int

	CharacterWorkers int
	ReportWorkers    int
	PgcrWorkers      int

	PageSize     int
	PollInterval time.Duration
	IdlePolls    int
	EpochCutoff  time.Time
}

// Orchestrator wires the four stages together for a single crawl run.
type Orchestrator struct {
	store       Store
	client      Client
	signals     Signals
	leaderboard LeaderboardTrigger
	clock       clock.Clock
	cfg         OrchestratorConfig
	logger      *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(st Store, client Client, sig Signals, lb LeaderboardTrigger, clk clock.Clock, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if cfg.CharacterQueueDepth <= 0 {
		cfg.CharacterQueueDepth = 10
	}
	if cfg.ReportQueueDepth <= 0 {
		cfg.ReportQueueDepth = 30
	}
	if cfg.PgcrQueueDepth <= 0 {
		cfg.PgcrQueueDepth = 100
	}
	return &Orchestrator{
		store:       st,
		client:      client,
		signals:     sig,
		leaderboard: lb,
		clock:       clk,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run executes one full crawl: records the run-start marker, runs all four
// stages to exhaustion, records the run-end marker and triggers leaderboard
// recomputation. The run-start list is appended before the previous start is
// read, so the cutoff always reflects the run before this one.
func (o *Orchestrator) Run(ctx context.Context) error {
	start := o.clock.Now()
	if err := o.signals.RecordRunStart(ctx, start); err != nil {
		return err
	}

	previousStart, err := o.signals.PreviousRunStart(ctx)
	if err != nil {
		return err
	}
	if previousStart.IsZero() {
		previousStart = o.cfg.EpochCutoff
		o.logger.Info("no prior run recorded, crawling from epoch",
			zap.Time("cutoff", previousStart))
	}

	activityMap, err := o.signals.ActivityHashMap(ctx)
	if err != nil {
		return err
	}
	o.logger.Info("crawl run starting",
		zap.Time("started_at", start),
		zap.Time("cutoff", previousStart),
		zap.Int("mapped_activities", len(activityMap)))

	characterQueue := NewQueue[CharacterWorkItem](o.cfg.CharacterQueueDepth).Instrument("character")
	reportQueue := NewQueue[ReportWorkItem](o.cfg.ReportQueueDepth).Instrument("report")
	pgcrQueue := NewQueue[PgcrWorkItem](o.cfg.PgcrQueueDepth).Instrument("pgcr")
	tracker := NewTracker()

	players := NewPlayerCrawler(o.store, o.client, characterQueue, tracker, PlayerCrawlerConfig{
		RunCutoff:    previousStart,
		EpochCutoff:  o.cfg.EpochCutoff,
		PollInterval: o.cfg.PollInterval,
		IdlePolls:    o.cfg.IdlePolls,
	}, o.logger.Named("players"))
	characters := NewCharacterCrawler(o.store, o.client, characterQueue, reportQueue, tracker, CharacterCrawlerConfig{
		Workers:     o.cfg.CharacterWorkers,
		PageSize:    o.cfg.PageSize,
		ActivityMap: activityMap,
		EpochCutoff: o.cfg.EpochCutoff,
	}, o.logger.Named("characters"))
	reports := NewReportCrawler(o.store, o.client, reportQueue, pgcrQueue, tracker, ReportCrawlerConfig{
		Workers: o.cfg.ReportWorkers,
	}, o.logger.Named("reports"))
	pgcrs := NewPgcrProcessor(o.store, pgcrQueue, tracker, PgcrProcessorConfig{
		Workers:     o.cfg.PgcrWorkers,
		ActivityMap: activityMap,
	}, o.logger.Named("pgcrs"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return players.Run(gctx) })
	g.Go(func() error { return characters.Run(gctx) })
	g.Go(func() error { return reports.Run(gctx) })
	g.Go(func() error { return pgcrs.Run(gctx) })
	runErr := g.Wait()

	elapsed := time.Since(start)
	telemetry.ObserveRunDuration(elapsed)

	if err := o.signals.RecordRunEnd(ctx, o.clock.Now()); err != nil {
		o.logger.Error("recording run end", zap.Error(err))
	}
	if runErr != nil {
		o.logger.Error("crawl run aborted", zap.Duration("elapsed", elapsed), zap.Error(runErr))
		return runErr
	}
	o.logger.Info("crawl run finished", zap.Duration("elapsed", elapsed))

	// Leaderboard recomputation is fire-and-forget: a failure here is logged
	// and left for the next run.
	if err := o.leaderboard.Trigger(ctx); err != nil {
		o.logger.Error("leaderboard trigger failed", zap.Error(err))
	} else {
		o.logger.Info("leaderboard recomputation triggered")
	}
	return nil
}
