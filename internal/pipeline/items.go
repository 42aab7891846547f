// Package pipeline implements the four-stage crawl pipeline: player
// discovery, character history discovery, activity report discovery and PGCR
// ingestion, connected by bounded queues.
package pipeline

import (
	"context"
	"time"

	"github.com/calderareport/crawler/internal/bungie"
	"github.com/calderareport/crawler/internal/store"
)

// CharacterWorkItem asks the character stage to scan one character's history.
type CharacterWorkItem struct {
	PlayerID         int64
	CharacterID      string
	LastPlayedCutoff time.Time
}

// ReportWorkItem asks the report stage to resolve one activity instance.
type ReportWorkItem struct {
	ReportID int64
	PlayerID int64
}

// PgcrWorkItem carries a fetched carnage report to the ingestion stage.
type PgcrWorkItem struct {
	Report   *bungie.PostGameCarnageReport
	PlayerID int64
}

// Store is the persistence surface the stages depend on.
type Store interface {
	ClaimNextPlayer(ctx context.Context) (*store.QueueEntry, error)
	CompletePlayer(ctx context.Context, playerID int64) error
	CompletePlayerIfProcessing(ctx context.Context, playerID int64) error
	CompletePlayerIfNotError(ctx context.Context, playerID int64) error
	FailPlayer(ctx context.Context, playerID int64) error
	GetPlayer(ctx context.Context, id int64) (*store.Player, error)
	UpdatePlayerName(ctx context.Context, id int64, displayName string, displayNameCode int) error
	UpdatePlayerEmblem(ctx context.Context, id int64, emblemPath, backgroundPath string) error
	SetNeedsFullCheck(ctx context.Context, id int64, v bool) error
	LastReportDate(ctx context.Context, playerID int64) (*time.Time, error)
	GetReport(ctx context.Context, id int64) (*store.ActivityReport, error)
	DeleteReport(ctx context.Context, id int64) error
	IngestReport(ctx context.Context, report store.ActivityReport, candidates []store.NewPlayer, participants []store.Participant) ([]int64, error)
}

// Client is the upstream API surface the stages depend on.
type Client interface {
	GetProfile(ctx context.Context, membershipID int64, membershipType int) (*bungie.ProfileResponse, error)
	GetActivityHistory(ctx context.Context, membershipID int64, membershipType int, characterID string, page, count int) (*bungie.ActivityHistory, error)
	GetPostGameCarnageReport(ctx context.Context, instanceID int64) (*bungie.PostGameCarnageReport, error)
}
