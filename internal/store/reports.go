package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetReport fetches one activity report row. Returns (nil, nil) when absent.
func (s *Store) GetReport(ctx context.Context, id int64) (*ActivityReport, error) {
	const q = `SELECT id, date, activity_id, needs_full_check FROM activity_reports WHERE id = $1`

	var r ActivityReport
	err := s.pool.QueryRow(ctx, q, id).Scan(&r.ID, &r.Date, &r.ActivityID, &r.NeedsFullCheck)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &r, nil
}

// LastReportDate returns the date of the newest non-stale report the player
// participated in, or nil when the player has none.
func (s *Store) LastReportDate(ctx context.Context, playerID int64) (*time.Time, error) {
	const q = `
SELECT ar.date
FROM activity_reports ar
JOIN activity_report_players arp ON arp.activity_report_id = ar.id
WHERE arp.player_id = $1 AND NOT ar.needs_full_check
ORDER BY ar.date DESC
LIMIT 1`

	var date time.Time
	err := s.pool.QueryRow(ctx, q, playerID).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last report date: %w", err)
	}
	return &date, nil
}

// DeleteReport removes a stale report and its participation rows so it can be
// rebuilt from scratch. Stale rows are replaced, never patched.
func (s *Store) DeleteReport(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM activity_report_players WHERE activity_report_id = $1`, id); err != nil {
			return fmt.Errorf("delete participation rows: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM activity_reports WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete report: %w", err)
		}
		return nil
	})
}

// IngestReport persists one match in a single transaction: the report row,
// any not-yet-seen players (each with a fresh Queued crawl entry, which is how
// the pipeline feeds itself), and one participation row per player. Returns
// the ids of newly inserted players.
func (s *Store) IngestReport(ctx context.Context, report ActivityReport, candidates []NewPlayer, participants []Participant) ([]int64, error) {
	var newIDs []int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		newIDs = newIDs[:0]
		if _, err := tx.Exec(ctx,
			`INSERT INTO activity_reports (id, date, activity_id, needs_full_check) VALUES ($1, $2, $3, FALSE)`,
			report.ID, report.Date, report.ActivityID); err != nil {
			return fmt.Errorf("insert report: %w", err)
		}

		for _, c := range candidates {
			var inserted int64
			err := tx.QueryRow(ctx, `
INSERT INTO players (id, membership_type, display_name, display_name_code, full_display_name, needs_full_check)
VALUES ($1, $2, $3, $4, $3 || '#' || $4::text, FALSE)
ON CONFLICT (id) DO NOTHING
RETURNING id`,
				c.ID, c.MembershipType, c.DisplayName, c.DisplayNameCode).Scan(&inserted)
			if errors.Is(err, pgx.ErrNoRows) {
				continue // already known
			}
			if err != nil {
				return fmt.Errorf("insert player: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO player_crawl_queue (player_id, status, attempts) VALUES ($1, $2, 0)`,
				inserted, StatusQueued); err != nil {
				return fmt.Errorf("enqueue new player: %w", err)
			}
			newIDs = append(newIDs, inserted)
		}

		for _, p := range participants {
			if _, err := tx.Exec(ctx, `
INSERT INTO activity_report_players (activity_report_id, player_id, activity_id, score, completed, duration_seconds)
VALUES ($1, $2, $3, $4, $5, $6)`,
				p.ActivityReportID, p.PlayerID, p.ActivityID, p.Score, p.Completed, p.DurationSeconds); err != nil {
				return fmt.Errorf("insert participation row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newIDs, nil
}
