package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calderareport/crawler/internal/bungie"
	"github.com/calderareport/crawler/internal/store"
)

var (
	testEpoch  = time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	testCutoff = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
)

func playerCrawlerForTest(st *fakeStore, client *fakeClient, tracker *Tracker) (*PlayerCrawler, *Queue[CharacterWorkItem]) {
	out := NewQueue[CharacterWorkItem](16)
	pc := NewPlayerCrawler(st, client, out, tracker, PlayerCrawlerConfig{
		RunCutoff:    testCutoff,
		EpochCutoff:  testEpoch,
		PollInterval: time.Millisecond,
		IdlePolls:    2,
	}, zap.NewNop())
	return pc, out
}

func profileWithCharacters(chars ...bungie.Character) *bungie.ProfileResponse {
	p := &bungie.ProfileResponse{}
	p.Characters.Data = make(map[string]bungie.Character, len(chars))
	for _, c := range chars {
		p.Characters.Data[c.CharacterID] = c
	}
	return p
}

func TestPlayerCrawlerFansOutEligibleCharacters(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.claims = []*store.QueueEntry{{ID: 1, PlayerID: 100, Attempts: 1}}
	st.players[100] = &store.Player{ID: 100, MembershipType: 3}
	lastReport := testCutoff.Add(-24 * time.Hour)
	st.lastRep[100] = lastReport

	client := newFakeClient()
	client.profiles[100] = profileWithCharacters(
		bungie.Character{CharacterID: "char-a", DateLastPlayed: testCutoff.Add(time.Hour)},
		bungie.Character{CharacterID: "char-b", DateLastPlayed: testCutoff.Add(-time.Hour)},
	)

	tracker := NewTracker()
	pc, out := playerCrawlerForTest(st, client, tracker)
	require.NoError(t, pc.Run(context.Background()))

	item, err := out.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(100), item.PlayerID)
	require.Equal(t, "char-a", item.CharacterID)
	require.Equal(t, lastReport, item.LastPlayedCutoff)

	// The stale character was filtered out and the output closed.
	_, err = out.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)

	require.Equal(t, 1, tracker.PendingCharacters(100))
	require.Empty(t, st.completed)
}

func TestPlayerCrawlerFullCheckIgnoresCutoff(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.claims = []*store.QueueEntry{{ID: 1, PlayerID: 100, Attempts: 2}}
	st.players[100] = &store.Player{ID: 100, MembershipType: 3, NeedsFullCheck: true}

	client := newFakeClient()
	client.profiles[100] = profileWithCharacters(
		bungie.Character{CharacterID: "char-old", DateLastPlayed: testCutoff.Add(-30 * 24 * time.Hour)},
	)

	tracker := NewTracker()
	pc, out := playerCrawlerForTest(st, client, tracker)
	require.NoError(t, pc.Run(context.Background()))

	item, err := out.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "char-old", item.CharacterID)
	// No persisted report yet, so the work item backfills from the epoch.
	require.Equal(t, testEpoch, item.LastPlayedCutoff)
}

func TestPlayerCrawlerCompletesWithoutFanOut(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.claims = []*store.QueueEntry{{ID: 1, PlayerID: 200, Attempts: 1}}
	st.players[200] = &store.Player{ID: 200, MembershipType: 2}

	client := newFakeClient()
	client.profiles[200] = profileWithCharacters(
		bungie.Character{CharacterID: "char-idle", DateLastPlayed: testCutoff.Add(-time.Hour)},
	)

	tracker := NewTracker()
	pc, out := playerCrawlerForTest(st, client, tracker)
	require.NoError(t, pc.Run(context.Background()))

	require.Equal(t, []int64{200}, st.completed)
	require.Equal(t, false, st.fullCheckSet[200])
	require.Equal(t, 0, tracker.PendingCharacters(200))

	_, err := out.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestPlayerCrawlerPrivateProfileCompletes(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.claims = []*store.QueueEntry{{ID: 1, PlayerID: 300, Attempts: 1}}
	st.players[300] = &store.Player{ID: 300, MembershipType: 1}

	// The client yields an empty profile for unknown players, which is how
	// private profiles surface.
	client := newFakeClient()

	pc, _ := playerCrawlerForTest(st, client, NewTracker())
	require.NoError(t, pc.Run(context.Background()))
	require.Equal(t, []int64{300}, st.completed)
}

func TestPlayerCrawlerReconcilesNameAndEmblem(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.claims = []*store.QueueEntry{{ID: 1, PlayerID: 400, Attempts: 1}}
	st.players[400] = &store.Player{ID: 400, MembershipType: 3, DisplayName: "OldName", DisplayNameCode: 1}

	client := newFakeClient()
	profile := profileWithCharacters(
		bungie.Character{
			CharacterID:          "char-x",
			DateLastPlayed:       testCutoff.Add(time.Hour),
			EmblemPath:           "/emblems/new.jpg",
			EmblemBackgroundPath: "/emblems/new-bg.jpg",
		},
	)
	profile.Profile.Data.UserInfo = bungie.UserInfo{
		MembershipID:                "400",
		BungieGlobalDisplayName:     "NewName",
		BungieGlobalDisplayNameCode: 42,
	}
	client.profiles[400] = profile

	pc, _ := playerCrawlerForTest(st, client, NewTracker())
	require.NoError(t, pc.Run(context.Background()))

	p := st.players[400]
	require.Equal(t, "NewName", p.DisplayName)
	require.Equal(t, 42, p.DisplayNameCode)
	require.Equal(t, "NewName#42", p.FullDisplayName)
	require.Equal(t, "/emblems/new.jpg", p.EmblemPath)
	require.Equal(t, "/emblems/new-bg.jpg", p.EmblemBackgroundPath)
}

func TestPlayerCrawlerSyncsNameWithoutCharacters(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.claims = []*store.QueueEntry{{ID: 1, PlayerID: 450, Attempts: 1}}
	st.players[450] = &store.Player{ID: 450, MembershipType: 3, DisplayName: "OldName", DisplayNameCode: 1}

	client := newFakeClient()
	profile := profileWithCharacters()
	profile.Profile.Data.UserInfo = bungie.UserInfo{
		MembershipID:                "450",
		BungieGlobalDisplayName:     "NewName",
		BungieGlobalDisplayNameCode: 42,
	}
	client.profiles[450] = profile

	pc, _ := playerCrawlerForTest(st, client, NewTracker())
	require.NoError(t, pc.Run(context.Background()))

	// The rename is persisted even though there are no characters to crawl.
	p := st.players[450]
	require.Equal(t, "NewName", p.DisplayName)
	require.Equal(t, 42, p.DisplayNameCode)
	require.Equal(t, []int64{450}, st.completed)
}

func TestPlayerCrawlerFailureMarksErrorAndContinues(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.claims = []*store.QueueEntry{
		{ID: 1, PlayerID: 500, Attempts: 1},
		{ID: 2, PlayerID: 501, Attempts: 1},
	}
	st.players[500] = &store.Player{ID: 500, MembershipType: 3}
	st.players[501] = &store.Player{ID: 501, MembershipType: 3}

	client := newFakeClient()
	client.errs["profile"] = errors.New("upstream down")

	pc, _ := playerCrawlerForTest(st, client, NewTracker())
	require.NoError(t, pc.Run(context.Background()))

	require.Equal(t, []int64{500, 501}, st.failed)
}

func TestPlayerCrawlerSkipsMissingPlayerRow(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.claims = []*store.QueueEntry{{ID: 1, PlayerID: 600, Attempts: 1}}

	pc, _ := playerCrawlerForTest(st, newFakeClient(), NewTracker())
	require.NoError(t, pc.Run(context.Background()))

	require.Empty(t, st.failed)
	require.Empty(t, st.completed)
}

func TestPlayerCrawlerCancellationExitsCleanly(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	pc, _ := playerCrawlerForTest(st, newFakeClient(), NewTracker())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pc.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, st.failed)
}
