package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ClaimNextPlayer atomically claims one due queue entry: status Queued, or
// Error with remaining attempts. The claimed entry transitions to Processing
// with its attempt counter incremented. Returns (nil, nil) when nothing is
// claimable.
func (s *Store) ClaimNextPlayer(ctx context.Context) (*QueueEntry, error) {
	const q = `
UPDATE player_crawl_queue
SET status = $1, attempts = attempts + 1
WHERE id = (
	SELECT id FROM player_crawl_queue
	WHERE status = $2 OR (status = $3 AND attempts < $4)
	ORDER BY id
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, player_id, status, attempts`

	var entry QueueEntry
	err := s.pool.QueryRow(ctx, q, StatusProcessing, StatusQueued, StatusError, maxAttempts).
		Scan(&entry.ID, &entry.PlayerID, &entry.Status, &entry.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim queue entry: %w", err)
	}
	return &entry, nil
}

// CompletePlayer marks the player's queue entry Completed unconditionally.
func (s *Store) CompletePlayer(ctx context.Context, playerID int64) error {
	const q = `UPDATE player_crawl_queue SET status = $1, processed_at = NOW() WHERE player_id = $2`
	if _, err := s.pool.Exec(ctx, q, StatusCompleted, playerID); err != nil {
		return fmt.Errorf("complete queue entry: %w", err)
	}
	return nil
}

// CompletePlayerIfProcessing marks the entry Completed only while it is still
// Processing; an entry already failed by a racing stage keeps its Error state.
func (s *Store) CompletePlayerIfProcessing(ctx context.Context, playerID int64) error {
	const q = `UPDATE player_crawl_queue SET status = $1, processed_at = NOW() WHERE player_id = $2 AND status = $3`
	if _, err := s.pool.Exec(ctx, q, StatusCompleted, playerID, StatusProcessing); err != nil {
		return fmt.Errorf("complete queue entry: %w", err)
	}
	return nil
}

// CompletePlayerIfNotError mirrors the match-side finalization: the entry is
// completed unless some item already drove it to Error.
func (s *Store) CompletePlayerIfNotError(ctx context.Context, playerID int64) error {
	const q = `UPDATE player_crawl_queue SET status = $1, processed_at = NOW() WHERE player_id = $2 AND status <> $3`
	if _, err := s.pool.Exec(ctx, q, StatusCompleted, playerID, StatusError); err != nil {
		return fmt.Errorf("complete queue entry: %w", err)
	}
	return nil
}

// FailPlayer marks the queue entry Error and flags the player for a full
// historical re-check on its next attempt, in one transaction.
func (s *Store) FailPlayer(ctx context.Context, playerID int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE player_crawl_queue SET status = $1, processed_at = NOW() WHERE player_id = $2`,
			StatusError, playerID); err != nil {
			return fmt.Errorf("fail queue entry: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE players SET needs_full_check = TRUE WHERE id = $1`,
			playerID); err != nil {
			return fmt.Errorf("flag full check: %w", err)
		}
		return nil
	})
}

// HasQueuedPlayers reports whether any entry is still waiting from a prior
// run. The scheduling layer uses this to skip overlapping runs.
func (s *Store) HasQueuedPlayers(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM player_crawl_queue WHERE status = $1)`,
		StatusQueued).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check queued players: %w", err)
	}
	return exists, nil
}

// RequeueAllPlayers returns every settled entry to Queued with a fresh
// attempt budget, seeding the next run. Entries still Queued or Processing
// are left alone.
func (s *Store) RequeueAllPlayers(ctx context.Context) (int64, error) {
	const q = `UPDATE player_crawl_queue SET status = $1, attempts = 0
WHERE status IN ($2, $3)`
	tag, err := s.pool.Exec(ctx, q, StatusQueued, StatusCompleted, StatusError)
	if err != nil {
		return 0, fmt.Errorf("requeue players: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EnqueuePlayer inserts a Queued entry for a player unless one already exists.
func (s *Store) EnqueuePlayer(ctx context.Context, playerID int64) error {
	const q = `INSERT INTO player_crawl_queue (player_id, status, attempts) VALUES ($1, $2, 0)
ON CONFLICT (player_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, playerID, StatusQueued); err != nil {
		return fmt.Errorf("enqueue player: %w", err)
	}
	return nil
}
