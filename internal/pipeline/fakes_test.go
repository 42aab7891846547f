package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/calderareport/crawler/internal/bungie"
	"github.com/calderareport/crawler/internal/store"
)

type ingestCall struct {
	report       store.ActivityReport
	candidates   []store.NewPlayer
	participants []store.Participant
}

// fakeStore is an in-memory Store with per-method error injection.
type fakeStore struct {
	mu sync.Mutex

	claims  []*store.QueueEntry
	players map[int64]*store.Player
	reports map[int64]*store.ActivityReport
	lastRep map[int64]time.Time

	completed             []int64
	completedIfProcessing []int64
	completedIfNotError   []int64
	failed                []int64
	fullCheckSet          map[int64]bool
	deletedReports        []int64
	ingests               []ingestCall
	ingestNewIDs          []int64

	errs map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		players:      make(map[int64]*store.Player),
		reports:      make(map[int64]*store.ActivityReport),
		lastRep:      make(map[int64]time.Time),
		fullCheckSet: make(map[int64]bool),
		errs:         make(map[string]error),
	}
}

func (f *fakeStore) ClaimNextPlayer(context.Context) (*store.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["claim"]; err != nil {
		return nil, err
	}
	if len(f.claims) == 0 {
		return nil, nil
	}
	entry := f.claims[0]
	f.claims = f.claims[1:]
	return entry, nil
}

func (f *fakeStore) CompletePlayer(_ context.Context, playerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, playerID)
	return f.errs["complete"]
}

func (f *fakeStore) CompletePlayerIfProcessing(_ context.Context, playerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedIfProcessing = append(f.completedIfProcessing, playerID)
	return f.errs["completeIfProcessing"]
}

func (f *fakeStore) CompletePlayerIfNotError(_ context.Context, playerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completedIfNotError = append(f.completedIfNotError, playerID)
	return f.errs["completeIfNotError"]
}

func (f *fakeStore) FailPlayer(_ context.Context, playerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, playerID)
	return f.errs["fail"]
}

func (f *fakeStore) GetPlayer(_ context.Context, id int64) (*store.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["getPlayer"]; err != nil {
		return nil, err
	}
	return f.players[id], nil
}

func (f *fakeStore) UpdatePlayerName(_ context.Context, id int64, displayName string, displayNameCode int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.players[id]; p != nil {
		p.DisplayName = displayName
		p.DisplayNameCode = displayNameCode
		p.FullDisplayName = fmt.Sprintf("%s#%d", displayName, displayNameCode)
	}
	return f.errs["updateName"]
}

func (f *fakeStore) UpdatePlayerEmblem(_ context.Context, id int64, emblemPath, backgroundPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.players[id]; p != nil {
		p.EmblemPath = emblemPath
		p.EmblemBackgroundPath = backgroundPath
	}
	return f.errs["updateEmblem"]
}

func (f *fakeStore) SetNeedsFullCheck(_ context.Context, id int64, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fullCheckSet[id] = v
	if p := f.players[id]; p != nil {
		p.NeedsFullCheck = v
	}
	return f.errs["setFullCheck"]
}

func (f *fakeStore) LastReportDate(_ context.Context, playerID int64) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["lastReportDate"]; err != nil {
		return nil, err
	}
	if t, ok := f.lastRep[playerID]; ok {
		return &t, nil
	}
	return nil, nil
}

func (f *fakeStore) GetReport(_ context.Context, id int64) (*store.ActivityReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["getReport"]; err != nil {
		return nil, err
	}
	return f.reports[id], nil
}

func (f *fakeStore) DeleteReport(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedReports = append(f.deletedReports, id)
	delete(f.reports, id)
	return f.errs["deleteReport"]
}

func (f *fakeStore) IngestReport(_ context.Context, report store.ActivityReport, candidates []store.NewPlayer, participants []store.Participant) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["ingest"]; err != nil {
		return nil, err
	}
	f.ingests = append(f.ingests, ingestCall{report: report, candidates: candidates, participants: participants})
	f.reports[report.ID] = &report
	return f.ingestNewIDs, nil
}

// fakeClient serves canned API responses.
type fakeClient struct {
	mu sync.Mutex

	profiles map[int64]*bungie.ProfileResponse
	// history pages keyed by characterID, indexed by page number.
	history map[string][]*bungie.ActivityHistory
	pgcrs   map[int64]*bungie.PostGameCarnageReport

	errs map[string]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		profiles: make(map[int64]*bungie.ProfileResponse),
		history:  make(map[string][]*bungie.ActivityHistory),
		pgcrs:    make(map[int64]*bungie.PostGameCarnageReport),
		errs:     make(map[string]error),
	}
}

func (f *fakeClient) GetProfile(_ context.Context, membershipID int64, _ int) (*bungie.ProfileResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["profile"]; err != nil {
		return nil, err
	}
	if p, ok := f.profiles[membershipID]; ok {
		return p, nil
	}
	return &bungie.ProfileResponse{}, nil
}

func (f *fakeClient) GetActivityHistory(_ context.Context, _ int64, _ int, characterID string, page, _ int) (*bungie.ActivityHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["history"]; err != nil {
		return nil, err
	}
	pages := f.history[characterID]
	if page >= len(pages) {
		return &bungie.ActivityHistory{}, nil
	}
	return pages[page], nil
}

func (f *fakeClient) GetPostGameCarnageReport(_ context.Context, instanceID int64) (*bungie.PostGameCarnageReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["pgcr"]; err != nil {
		return nil, err
	}
	if r, ok := f.pgcrs[instanceID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("no report %d", instanceID)
}
