package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerFinalizeRequiresBothSidesDrained(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.AddCharacters(1, 1)
	tr.AddMatches(1, 2)

	// Character side drains first, but matches are still pending.
	require.False(t, tr.FinalizeCharacter(1))
	require.Equal(t, 0, tr.PendingCharacters(1))

	require.False(t, tr.FinalizeMatch(1))
	require.True(t, tr.FinalizeMatch(1))
}

func TestTrackerFinalizeOrderIndependent(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.AddCharacters(7, 2)
	tr.AddMatches(7, 1)

	// Match side drains while character work remains.
	require.False(t, tr.FinalizeMatch(7))
	require.False(t, tr.FinalizeCharacter(7))
	require.True(t, tr.FinalizeCharacter(7))
}

func TestTrackerDecrementNeverGoesNegative(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.AddMatches(3, 1)
	require.True(t, tr.FinalizeMatch(3))
	// A second finalize on an already-drained player must still report
	// drained, not resurrect a negative count.
	require.True(t, tr.FinalizeMatch(3))
	require.Equal(t, 0, tr.PendingMatches(3))
}

func TestTrackerAbandonAndDrop(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.AddCharacters(9, 1)
	tr.AddMatches(9, 5)

	tr.AbandonMatches(9)
	require.Equal(t, 0, tr.PendingMatches(9))
	require.True(t, tr.FinalizeCharacter(9))

	tr.AddCharacters(10, 3)
	tr.DropCharacters(10)
	require.Equal(t, 0, tr.PendingCharacters(10))
}

func TestTrackerConcurrentFinalizeExactlyOnce(t *testing.T) {
	t.Parallel()

	const players = 50
	const matchesPerPlayer = 40

	tr := NewTracker()
	for p := int64(0); p < players; p++ {
		tr.AddCharacters(p, 1)
		tr.AddMatches(p, matchesPerPlayer)
		require.False(t, tr.FinalizeCharacter(p))
	}

	drained := make([]int32, players)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for p := int64(0); p < players; p++ {
		for m := 0; m < matchesPerPlayer; m++ {
			wg.Add(1)
			go func(p int64) {
				defer wg.Done()
				if tr.FinalizeMatch(p) {
					mu.Lock()
					drained[p]++
					mu.Unlock()
				}
			}(p)
		}
	}
	wg.Wait()

	for p := 0; p < players; p++ {
		require.Equal(t, int32(1), drained[p], "player %d drained %d times", p, drained[p])
	}
}

func TestTrackerAddDuringFinalizeKeepsEntryAlive(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.AddMatches(5, 1)
	require.True(t, tr.FinalizeMatch(5))

	// New work after a drain starts a fresh count.
	tr.AddMatches(5, 2)
	require.Equal(t, 2, tr.PendingMatches(5))
	require.False(t, tr.FinalizeMatch(5))
	require.True(t, tr.FinalizeMatch(5))
}
