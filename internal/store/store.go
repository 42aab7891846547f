// Package store provides Postgres-backed persistence for players, the crawl
// queue, activity reports and participation rows.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueueStatus is the lifecycle state of a crawl queue entry. Entries are
// never deleted; status is the signal.
type QueueStatus int

const (
	StatusQueued QueueStatus = iota
	StatusProcessing
	StatusCompleted
	StatusError
)

// maxAttempts bounds retries of a failing player across runs.
const maxAttempts = 3

// QueueEntry is one player's position in the persistent crawl queue.
type QueueEntry struct {
	ID          int64
	PlayerID    int64
	Status      QueueStatus
	Attempts    int
	ProcessedAt *time.Time
}

// Player is a persisted player row.
type Player struct {
	ID                 int64
	MembershipType     int
	DisplayName        string
	DisplayNameCode    int
	FullDisplayName    string
	EmblemPath         string
	EmblemBackgroundPath string
	NeedsFullCheck     bool
}

// ActivityReport is a persisted match row.
type ActivityReport struct {
	ID             int64
	Date           time.Time
	ActivityID     int64
	NeedsFullCheck bool
}

// Participant is one player's participation in one match.
type Participant struct {
	PlayerID         int64
	ActivityReportID int64
	ActivityID       int64
	Score            int
	Completed        bool
	DurationSeconds  int
}

// NewPlayer describes a player discovered inside a carnage report.
type NewPlayer struct {
	ID              int64
	MembershipType  int
	DisplayName     string
	DisplayNameCode int
}

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store executes all relational reads and writes for the pipeline.
type Store struct {
	pool Pool
}

// New creates a Store backed by a new pgx pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// withTx runs fn inside a transaction, retrying transient conflicts
// (serialization failures, deadlocks) up to three times.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			if isTransient(err) && ctx.Err() == nil {
				lastErr = err
				continue
			}
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			if isTransient(err) && ctx.Err() == nil {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}
	return fmt.Errorf("tx retries exhausted: %w", lastErr)
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return pgconn.SafeToRetry(err)
}
