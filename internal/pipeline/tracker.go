package pipeline

import "sync"

// Tracker counts outstanding per-player work fanned out across stages: how
// many characters are still being scanned and how many matches are still
// being resolved. A player's crawl is drained only when both counts have
// independently reached zero and been removed.
//
// All mutation goes through compare-and-swap loops; multiple stages decrement
// the same player's counters concurrently and the finalize-on-zero check must
// be race-free with the decrement.
type Tracker struct {
	characters sync.Map // int64 -> int
	matches    sync.Map // int64 -> int
}

// NewTracker builds an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// AddCharacters records n additional characters pending for the player.
func (t *Tracker) AddCharacters(playerID int64, n int) {
	add(&t.characters, playerID, n)
}

// AddMatches records n additional matches pending for the player.
func (t *Tracker) AddMatches(playerID int64, n int) {
	add(&t.matches, playerID, n)
}

// DropCharacters discards the player's character count. Used when a player
// completes without producing downstream work.
func (t *Tracker) DropCharacters(playerID int64) {
	t.characters.Delete(playerID)
}

// AbandonMatches discards the player's match count after a character-stage
// failure. The partial count is unrecoverable; the next full-check retry
// rebuilds it.
func (t *Tracker) AbandonMatches(playerID int64) {
	t.matches.Delete(playerID)
}

// FinalizeCharacter decrements the player's character count and reports
// whether the player's crawl is fully drained: the count reached zero, the
// entry was removed, and no match work remains.
func (t *Tracker) FinalizeCharacter(playerID int64) bool {
	return finalize(&t.characters, &t.matches, playerID)
}

// FinalizeMatch is the match-side mirror of FinalizeCharacter.
func (t *Tracker) FinalizeMatch(playerID int64) bool {
	return finalize(&t.matches, &t.characters, playerID)
}

// PendingCharacters returns the player's current character count, zero when
// absent.
func (t *Tracker) PendingCharacters(playerID int64) int {
	return current(&t.characters, playerID)
}

// PendingMatches returns the player's current match count, zero when absent.
func (t *Tracker) PendingMatches(playerID int64) int {
	return current(&t.matches, playerID)
}

func add(m *sync.Map, key int64, n int) {
	for {
		cur, ok := m.Load(key)
		if !ok {
			if _, loaded := m.LoadOrStore(key, n); !loaded {
				return
			}
			continue
		}
		if m.CompareAndSwap(key, cur, cur.(int)+n) {
			return
		}
	}
}

// decrement lowers the count by one, never below zero, and returns the
// remaining value. An absent entry counts as zero.
func decrement(m *sync.Map, key int64) int {
	for {
		cur, ok := m.Load(key)
		if !ok {
			return 0
		}
		next := cur.(int) - 1
		if next < 0 {
			next = 0
		}
		if m.CompareAndSwap(key, cur, next) {
			return next
		}
	}
}

// finalize decrements the primary count and, when it reached zero, removes
// the entry and confirms both maps are absent-or-zero for the key. Only then
// is the player considered drained. The removal uses CompareAndDelete so a
// racing increment (new work arriving between the decrement and the removal)
// keeps the entry alive.
func finalize(primary, sibling *sync.Map, key int64) bool {
	if decrement(primary, key) != 0 {
		return false
	}
	primary.CompareAndDelete(key, 0)
	return absentOrZero(primary, key) && absentOrZero(sibling, key)
}

func absentOrZero(m *sync.Map, key int64) bool {
	cur, ok := m.Load(key)
	return !ok || cur.(int) == 0
}

func current(m *sync.Map, key int64) int {
	cur, ok := m.Load(key)
	if !ok {
		return 0
	}
	return cur.(int)
}
