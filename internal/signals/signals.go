// Package signals stores run-scoped markers and the activity hash mapping in
// Redis, shared by every process participating in a crawl.
package signals

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runStartKey = "last-update-started"
	runEndKey   = "last-update-finished"
	hashMapKey  = "activity-hash-map"
)

// KV is the subset of redis commands this package needs. Satisfied by
// *redis.Client; tests supply a fake.
type KV interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// Store reads and writes the run-scoped signal surface.
type Store struct {
	kv KV
}

// NewStore builds a Store on the given redis connection.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// RecordRunStart appends the run-start marker, keeping only the two most
// recent so PreviousRunStart stays cheap.
func (s *Store) RecordRunStart(ctx context.Context, t time.Time) error {
	if err := s.kv.RPush(ctx, runStartKey, t.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	if err := s.kv.LTrim(ctx, runStartKey, -2, -1).Err(); err != nil {
		return fmt.Errorf("trim run starts: %w", err)
	}
	return nil
}

// RecordRunEnd appends the run-end marker.
func (s *Store) RecordRunEnd(ctx context.Context, t time.Time) error {
	if err := s.kv.RPush(ctx, runEndKey, t.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("record run end: %w", err)
	}
	if err := s.kv.LTrim(ctx, runEndKey, -2, -1).Err(); err != nil {
		return fmt.Errorf("trim run ends: %w", err)
	}
	return nil
}

// PreviousRunStart returns the start of the run before the current one, used
// as the incremental crawl cutoff. Returns the zero time when no prior run is
// recorded; the caller falls back to the fixed epoch cutoff.
func (s *Store) PreviousRunStart(ctx context.Context) (time.Time, error) {
	values, err := s.kv.LRange(ctx, runStartKey, -2, -2).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("read previous run start: %w", err)
	}
	if len(values) == 0 {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, values[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("parse previous run start %q: %w", values[0], err)
	}
	return t, nil
}

// ActivityHashMap loads the raw-hash to canonical-activity-id mapping. Raw
// hashes without a mapping are deliberately dropped by the pipeline, so an
// incomplete map is not an error here.
func (s *Store) ActivityHashMap(ctx context.Context) (map[int64]int64, error) {
	raw, err := s.kv.HGetAll(ctx, hashMapKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load activity hash map: %w", err)
	}
	m := make(map[int64]int64, len(raw))
	for k, v := range raw {
		rawHash, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse raw activity hash %q: %w", k, err)
		}
		canonical, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse canonical activity id %q: %w", v, err)
		}
		m[rawHash] = canonical
	}
	return m, nil
}
