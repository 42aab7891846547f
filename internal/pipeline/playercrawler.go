package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/calderareport/crawler/internal/bungie"
	"github.com/calderareport/crawler/internal/store"
	"github.com/calderareport/crawler/internal/telemetry"
)

// PlayerCrawlerConfig controls the player stage.
type PlayerCrawlerConfig struct {
	// RunCutoff is the previous run's start; characters played at or before
	// it are skipped unless the player needs a full check.
	RunCutoff time.Time
	// EpochCutoff is the fixed backfill horizon.
	EpochCutoff time.Time
	// PollInterval is the delay between empty queue polls.
	PollInterval time.Duration
	// IdlePolls is how many consecutive empty polls end the stage.
	IdlePolls int
}

// PlayerCrawler claims due players from the persistent crawl queue, fetches
// their characters and fans eligible characters out to the character stage.
type PlayerCrawler struct {
	store   Store
	client  Client
	output  *Queue[CharacterWorkItem]
	tracker *Tracker
	cfg     PlayerCrawlerConfig
	logger  *zap.Logger
}

// NewPlayerCrawler constructs the stage.
func NewPlayerCrawler(st Store, client Client, output *Queue[CharacterWorkItem], tracker *Tracker, cfg PlayerCrawlerConfig, logger *zap.Logger) *PlayerCrawler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.IdlePolls <= 0 {
		cfg.IdlePolls = 300
	}
	return &PlayerCrawler{
		store:   st,
		client:  client,
		output:  output,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, claiming players until the queue yields nothing claimable for a
// sustained interval, then closes the output queue to cascade completion
// downstream. A single player's failure never halts the stage.
func (c *PlayerCrawler) Run(ctx context.Context) error {
	defer c.output.Close()
	c.logger.Info("player crawler started")

	emptyPolls := 0
	for {
		if err := ctx.Err(); err != nil {
			c.logger.Info("player crawler cancellation requested")
			return err
		}

		entry, err := c.store.ClaimNextPlayer(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("claim queue entry failed", zap.Error(err))
			if err := sleep(ctx, c.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}

		if entry == nil {
			emptyPolls++
			if emptyPolls >= c.cfg.IdlePolls {
				c.logger.Info("player crawl queue drained, signaling completion")
				return nil
			}
			if err := sleep(ctx, c.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}
		emptyPolls = 0

		if err := c.processPlayer(ctx, entry.PlayerID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			telemetry.IncPlayerProcessed("error")
			c.logger.Error("player processing failed",
				zap.Int64("player_id", entry.PlayerID),
				zap.Int("attempt", entry.Attempts),
				zap.Error(err))
			if failErr := c.store.FailPlayer(ctx, entry.PlayerID); failErr != nil {
				c.logger.Error("marking player failed", zap.Int64("player_id", entry.PlayerID), zap.Error(failErr))
			}
		}
	}
}

func (c *PlayerCrawler) processPlayer(ctx context.Context, playerID int64) error {
	player, err := c.store.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	if player == nil {
		c.logger.Warn("queued player missing from database, skipping",
			zap.Int64("player_id", playerID))
		return nil
	}

	profile, err := c.client.GetProfile(ctx, player.ID, player.MembershipType)
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}
	characters := profile.Characters.Data

	if err := c.syncProfile(ctx, player, profile); err != nil {
		return fmt.Errorf("sync profile: %w", err)
	}

	cutoff := c.cfg.EpochCutoff
	if lastDate, err := c.store.LastReportDate(ctx, player.ID); err != nil {
		return fmt.Errorf("last report date: %w", err)
	} else if lastDate != nil {
		cutoff = *lastDate
	}

	queued := 0
	for _, character := range characters {
		if !player.NeedsFullCheck && !character.DateLastPlayed.After(c.cfg.RunCutoff) {
			continue
		}
		c.tracker.AddCharacters(player.ID, 1)
		item := CharacterWorkItem{
			PlayerID:         player.ID,
			CharacterID:      character.CharacterID,
			LastPlayedCutoff: cutoff,
		}
		if err := c.output.Enqueue(ctx, item); err != nil {
			return err
		}
		queued++
	}

	if queued == 0 {
		// No downstream consumer will ever finalize this player, so the
		// crawl is complete right here.
		if err := c.store.SetNeedsFullCheck(ctx, player.ID, false); err != nil {
			return err
		}
		if err := c.store.CompletePlayer(ctx, player.ID); err != nil {
			return err
		}
		c.tracker.DropCharacters(player.ID)
		telemetry.IncPlayerProcessed("no_new_activity")
		c.logger.Info("no new activity for player, completed without fan-out",
			zap.Int64("player_id", player.ID))
		return nil
	}

	telemetry.IncPlayerProcessed("queued")
	c.logger.Info("queued characters for player",
		zap.Int64("player_id", player.ID),
		zap.Int("characters", queued))
	return nil
}

// syncProfile reconciles the stored display name and last-played emblem
// against the fetched profile, writing only on change.
func (c *PlayerCrawler) syncProfile(ctx context.Context, player *store.Player, profile *bungie.ProfileResponse) error {
	info := profile.Profile.Data.UserInfo
	if info.BungieGlobalDisplayName != "" &&
		(player.DisplayName != info.BungieGlobalDisplayName || player.DisplayNameCode != info.BungieGlobalDisplayNameCode) {
		if err := c.store.UpdatePlayerName(ctx, player.ID, info.BungieGlobalDisplayName, info.BungieGlobalDisplayNameCode); err != nil {
			return err
		}
		c.logger.Info("updated display name", zap.Int64("player_id", player.ID))
	}

	var lastPlayed *bungie.Character
	for _, character := range profile.Characters.Data {
		if lastPlayed == nil || character.DateLastPlayed.After(lastPlayed.DateLastPlayed) {
			ch := character
			lastPlayed = &ch
		}
	}
	if lastPlayed != nil &&
		(player.EmblemPath != lastPlayed.EmblemPath || player.EmblemBackgroundPath != lastPlayed.EmblemBackgroundPath) {
		if err := c.store.UpdatePlayerEmblem(ctx, player.ID, lastPlayed.EmblemPath, lastPlayed.EmblemBackgroundPath); err != nil {
			return err
		}
		c.logger.Info("updated last played emblem", zap.Int64("player_id", player.ID))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
