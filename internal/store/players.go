package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetPlayer fetches one player row. Returns (nil, nil) when the player does
// not exist.
func (s *Store) GetPlayer(ctx context.Context, id int64) (*Player, error) {
	const q = `
SELECT id, membership_type, display_name, display_name_code, full_display_name,
       COALESCE(emblem_path, ''), COALESCE(emblem_background_path, ''), needs_full_check
FROM players WHERE id = $1`

	var p Player
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.MembershipType, &p.DisplayName, &p.DisplayNameCode,
		&p.FullDisplayName, &p.EmblemPath, &p.EmblemBackgroundPath, &p.NeedsFullCheck)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}
	return &p, nil
}

// UpdatePlayerName persists a display-name change.
func (s *Store) UpdatePlayerName(ctx context.Context, id int64, displayName string, displayNameCode int) error {
	const q = `
UPDATE players SET display_name = $2, display_name_code = $3,
       full_display_name = $2 || '#' || $3::text
WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, displayName, displayNameCode); err != nil {
		return fmt.Errorf("update player name: %w", err)
	}
	return nil
}

// UpdatePlayerEmblem persists the last-played character's emblem paths.
func (s *Store) UpdatePlayerEmblem(ctx context.Context, id int64, emblemPath, backgroundPath string) error {
	const q = `UPDATE players SET emblem_path = $2, emblem_background_path = $3 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, emblemPath, backgroundPath); err != nil {
		return fmt.Errorf("update player emblem: %w", err)
	}
	return nil
}

// SetNeedsFullCheck toggles the full-backfill flag for a player.
func (s *Store) SetNeedsFullCheck(ctx context.Context, id int64, v bool) error {
	if _, err := s.pool.Exec(ctx, `UPDATE players SET needs_full_check = $2 WHERE id = $1`, id, v); err != nil {
		return fmt.Errorf("set needs_full_check: %w", err)
	}
	return nil
}
