package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/calderareport/crawler/internal/bungie"
	"github.com/calderareport/crawler/internal/telemetry"
)

// CharacterCrawlerConfig controls the character stage.
type CharacterCrawlerConfig struct {
	// Workers is the number of concurrent history scans.
	Workers int
	// PageSize is the activity history page size.
	PageSize int
	// ActivityMap maps raw activity definition hashes to canonical activity
	// ids. History rows whose hash is unmapped are dropped.
	ActivityMap map[int64]int64
	// EpochCutoff is the fixed backfill horizon. Players flagged for a full
	// check scan back to it regardless of their item cutoff.
	EpochCutoff time.Time
}

// CharacterCrawler walks each character's paginated activity history back to
// its cutoff and fans the discovered activity instances out to the report
// stage.
type CharacterCrawler struct {
	store  Store
	client Client
	input  *Queue[CharacterWorkItem]
	output *Queue[ReportWorkItem]
	track  *Tracker
	cfg    CharacterCrawlerConfig
	logger *zap.Logger
}

// NewCharacterCrawler constructs the stage.
func NewCharacterCrawler(st Store, client Client, input *Queue[CharacterWorkItem], output *Queue[ReportWorkItem], track *Tracker, cfg CharacterCrawlerConfig, logger *zap.Logger) *CharacterCrawler {
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	return &CharacterCrawler{
		store:  st,
		client: client,
		input:  input,
		output: output,
		track:  track,
		cfg:    cfg,
		logger: logger,
	}
}

// Run consumes the character queue with a fixed worker pool and closes the
// report queue once the input is drained.
func (c *CharacterCrawler) Run(ctx context.Context) error {
	defer c.output.Close()
	c.logger.Info("character crawler started", zap.Int("workers", c.cfg.Workers))

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
		c.logger.Info("character crawler cancellation requested")
		return err
	}
	c.logger.Info("character crawler drained")
	return nil
}

func (c *CharacterCrawler) worker(ctx context.Context) {
	for {
		item, err := c.input.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && ctx.Err() == nil {
				c.logger.Error("character dequeue failed", zap.Error(err))
			}
			return
		}

		if err := c.processCharacter(ctx, item); err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.IncCharacterProcessed("error")
			c.logger.Error("character scan failed",
				zap.Int64("player_id", item.PlayerID),
				zap.String("character_id", item.CharacterID),
				zap.Error(err))
			c.failCharacter(ctx, item.PlayerID)
			continue
		}
		telemetry.IncCharacterProcessed("ok")
	}
}

func (c *CharacterCrawler) processCharacter(ctx context.Context, item CharacterWorkItem) error {
	player, err := c.store.GetPlayer(ctx, item.PlayerID)
	if err != nil {
		return err
	}
	if player == nil {
		return fmt.Errorf("player %d vanished mid-crawl", item.PlayerID)
	}

	// A pending full check means a previous run may have lost work, so the
	// scan ignores the incremental cutoff and backfills the whole horizon.
	cutoff := item.LastPlayedCutoff
	if player.NeedsFullCheck {
		cutoff = c.cfg.EpochCutoff
	}

	reportIDs, err := c.collectReportIDs(ctx, player.ID, player.MembershipType, item.CharacterID, cutoff)
	if err != nil {
		return err
	}

	// Registering the whole batch before the first enqueue keeps the match
	// count from transiently hitting zero while work is still in flight.
	if len(reportIDs) > 0 {
		c.track.AddMatches(item.PlayerID, len(reportIDs))
		for _, id := range reportIDs {
			work := ReportWorkItem{ReportID: id, PlayerID: item.PlayerID}
			if err := c.output.Enqueue(ctx, work); err != nil {
				return err
			}
		}
	}

	// A successful scan satisfies any pending full check; a later failure
	// downstream re-flags the player.
	if err := c.store.SetNeedsFullCheck(ctx, item.PlayerID, false); err != nil {
		return err
	}

	c.logger.Debug("character history scanned",
		zap.Int64("player_id", item.PlayerID),
		zap.String("character_id", item.CharacterID),
		zap.Int("matches", len(reportIDs)))

	if c.track.FinalizeCharacter(item.PlayerID) {
		return c.finishPlayer(ctx, item.PlayerID)
	}
	return nil
}

// collectReportIDs pages through the character's history, newest first, and
// stops at the first activity at or before the cutoff. A private history
// (code 1665) reads as no matches rather than a failure.
func (c *CharacterCrawler) collectReportIDs(ctx context.Context, membershipID int64, membershipType int, characterID string, cutoff time.Time) ([]int64, error) {
	seen := make(map[int64]struct{})
	var ids []int64
	for page := 0; ; page++ {
		history, err := c.client.GetActivityHistory(ctx, membershipID, membershipType, characterID, page, c.cfg.PageSize)
		if err != nil {
			if bungie.IsPrivateProfile(err) {
				return ids, nil
			}
			return nil, fmt.Errorf("history page %d: %w", page, err)
		}
		if len(history.Activities) == 0 {
			return ids, nil
		}
		for _, activity := range history.Activities {
			if !activity.Period.After(cutoff) {
				return ids, nil
			}
			if _, ok := c.cfg.ActivityMap[activity.ActivityDetails.ReferenceID]; !ok {
				continue
			}
			instanceID, err := strconv.ParseInt(activity.ActivityDetails.InstanceID, 10, 64)
			if err != nil {
				c.logger.Warn("unparseable instance id in history, skipping row",
					zap.String("character_id", characterID),
					zap.String("instance_id", activity.ActivityDetails.InstanceID))
				continue
			}
			if _, dup := seen[instanceID]; dup {
				continue
			}
			seen[instanceID] = struct{}{}
			ids = append(ids, instanceID)
		}
	}
}

// failCharacter records the failure and releases the player's outstanding
// counts so the pipeline does not wait on work that will never arrive.
func (c *CharacterCrawler) failCharacter(ctx context.Context, playerID int64) {
	if err := c.store.FailPlayer(ctx, playerID); err != nil {
		c.logger.Error("marking player failed", zap.Int64("player_id", playerID), zap.Error(err))
	}
	c.track.AbandonMatches(playerID)
	c.track.FinalizeCharacter(playerID)
}

func (c *CharacterCrawler) finishPlayer(ctx context.Context, playerID int64) error {
	if err := c.store.CompletePlayerIfProcessing(ctx, playerID); err != nil {
		return err
	}
	c.logger.Info("player crawl drained at character stage", zap.Int64("player_id", playerID))
	return nil
}
