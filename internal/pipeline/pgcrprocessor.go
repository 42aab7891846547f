package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/calderareport/crawler/internal/bungie"
	"github.com/calderareport/crawler/internal/store"
	"github.com/calderareport/crawler/internal/telemetry"
)

// completionReasonFailed is the completion-reason value reported when a match
// ended without the objective being met.
const completionReasonFailed = 2

// PgcrProcessorConfig controls the ingestion stage.
type PgcrProcessorConfig struct {
	Workers int
	// ActivityMap maps raw activity definition hashes to canonical activity
	// ids. Unmapped reports are still ingested with id 0.
	ActivityMap map[int64]int64
}

// PgcrProcessor persists fetched carnage reports: the match row, any newly
// discovered players plus their queue entries, and one participation row per
// public participant. Ingesting a report can therefore feed the player stage
// of a future run, which is how the crawl expands its player set.
type PgcrProcessor struct {
	store  Store
	input  *Queue[PgcrWorkItem]
	track  *Tracker
	cfg    PgcrProcessorConfig
	logger *zap.Logger

	// inflight dedupes the same match arriving through two players' crawls
	// at once.
	inflight sync.Map // int64 -> struct{}
	// insertMu serializes ingestion transactions so concurrent reports that
	// discover the same new player cannot race on the insert.
	insertMu sync.Mutex
}

// NewPgcrProcessor constructs the stage.
func NewPgcrProcessor(st Store, input *Queue[PgcrWorkItem], track *Tracker, cfg PgcrProcessorConfig, logger *zap.Logger) *PgcrProcessor {
	if cfg.Workers <= 0 {
		cfg.Workers = 25
	}
	return &PgcrProcessor{
		store:  st,
		input:  input,
		track:  track,
		cfg:    cfg,
		logger: logger,
	}
}

// Run consumes the PGCR queue with a fixed worker pool until it is drained.
func (p *PgcrProcessor) Run(ctx context.Context) error {
	p.logger.Info("pgcr processor started", zap.Int("workers", p.cfg.Workers))

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		p.logger.Info("pgcr processor cancellation requested")
		return err
	}
	p.logger.Info("pgcr processor drained")
	return nil
}

func (p *PgcrProcessor) worker(ctx context.Context) {
	for {
		item, err := p.input.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && ctx.Err() == nil {
				p.logger.Error("pgcr dequeue failed", zap.Error(err))
			}
			return
		}

		if err := p.processReport(ctx, item); err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.IncPgcrIngested("error")
			p.logger.Error("pgcr ingestion failed",
				zap.Int64("player_id", item.PlayerID),
				zap.Error(err))
			p.failIngestion(ctx, item.PlayerID)
		}
	}
}

func (p *PgcrProcessor) processReport(ctx context.Context, item PgcrWorkItem) error {
	instanceID, err := strconv.ParseInt(item.Report.ActivityDetails.InstanceID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse instance id %q: %w", item.Report.ActivityDetails.InstanceID, err)
	}

	if _, claimed := p.inflight.LoadOrStore(instanceID, struct{}{}); claimed {
		// Another worker is ingesting this exact match right now. Drop the
		// duplicate; that worker's ingest covers both discovery paths.
		telemetry.IncPgcrIngested("duplicate")
		p.logger.Debug("duplicate in-flight report skipped", zap.Int64("report_id", instanceID))
		return nil
	}
	defer p.inflight.Delete(instanceID)

	existing, err := p.store.GetReport(ctx, instanceID)
	if err != nil {
		return err
	}
	if existing != nil {
		if !existing.NeedsFullCheck {
			telemetry.IncPgcrIngested("skipped")
			return p.finalize(ctx, item.PlayerID)
		}
		if err := p.store.DeleteReport(ctx, instanceID); err != nil {
			return fmt.Errorf("purge stale report %d: %w", instanceID, err)
		}
	}

	report := store.ActivityReport{
		ID:         instanceID,
		Date:       item.Report.Period,
		ActivityID: p.cfg.ActivityMap[item.Report.ActivityDetails.ReferenceID],
	}
	candidates, participants := aggregateEntries(instanceID, report.ActivityID, item.Report.Entries)

	p.insertMu.Lock()
	newIDs, err := p.store.IngestReport(ctx, report, candidates, participants)
	p.insertMu.Unlock()
	if err != nil {
		return fmt.Errorf("ingest report %d: %w", instanceID, err)
	}

	telemetry.IncPgcrIngested("ok")
	telemetry.AddPlayersDiscovered(len(newIDs))
	p.logger.Info("ingested carnage report",
		zap.Int64("report_id", instanceID),
		zap.Int("participants", len(participants)),
		zap.Int("new_players", len(newIDs)))

	return p.finalize(ctx, item.PlayerID)
}

// aggregateEntries folds a report's raw entries into one participation row
// per public participant. A player fielding several characters in one match
// produces several entries; scores and durations sum, and the completed flag
// holds only when every entry completed and none carries the failed reason.
func aggregateEntries(reportID, activityID int64, entries []bungie.PGCREntry) ([]store.NewPlayer, []store.Participant) {
	type agg struct {
		candidate store.NewPlayer
		score     int
		duration  int
		completed bool
		failed    bool
	}
	byPlayer := make(map[int64]*agg)
	var order []int64

	for _, entry := range entries {
		info := entry.Player.DestinyUserInfo
		if !info.IsPublic {
			continue
		}
		id, err := strconv.ParseInt(info.MembershipID, 10, 64)
		if err != nil {
			continue
		}
		a, ok := byPlayer[id]
		if !ok {
			a = &agg{
				candidate: store.NewPlayer{
					ID:              id,
					MembershipType:  info.MembershipType,
					DisplayName:     info.BungieGlobalDisplayName,
					DisplayNameCode: info.BungieGlobalDisplayNameCode,
				},
				completed: true,
			}
			byPlayer[id] = a
			order = append(order, id)
		}
		a.score += int(entry.Values.Score.Basic.Value)
		a.duration += int(entry.Values.ActivityDurationSeconds.Basic.Value)
		if entry.Values.Completed.Basic.Value != 1 {
			a.completed = false
		}
		if int(entry.Values.CompletionReason.Basic.Value) == completionReasonFailed {
			a.failed = true
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	candidates := make([]store.NewPlayer, 0, len(order))
	participants := make([]store.Participant, 0, len(order))
	for _, id := range order {
		a := byPlayer[id]
		candidates = append(candidates, a.candidate)
		participants = append(participants, store.Participant{
			PlayerID:         id,
			ActivityReportID: reportID,
			ActivityID:       activityID,
			Score:            a.score,
			Completed:        a.completed && !a.failed,
			DurationSeconds:  a.duration,
		})
	}
	return candidates, participants
}

func (p *PgcrProcessor) finalize(ctx context.Context, playerID int64) error {
	if !p.track.FinalizeMatch(playerID) {
		return nil
	}
	if err := p.store.CompletePlayerIfNotError(ctx, playerID); err != nil {
		return err
	}
	p.logger.Info("player crawl drained at ingestion stage", zap.Int64("player_id", playerID))
	return nil
}

func (p *PgcrProcessor) failIngestion(ctx context.Context, playerID int64) {
	if err := p.store.FailPlayer(ctx, playerID); err != nil {
		p.logger.Error("marking player failed", zap.Int64("player_id", playerID), zap.Error(err))
	}
	if p.track.FinalizeMatch(playerID) {
		if err := p.store.CompletePlayerIfNotError(ctx, playerID); err != nil {
			p.logger.Error("completing player after ingestion failure", zap.Int64("player_id", playerID), zap.Error(err))
		}
	}
}
