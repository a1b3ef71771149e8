// Package typing keeps the ephemeral per-thread set of identities currently
// typing. Nothing here is persisted; state dies with the thread.
package typing

import (
	"sort"

	"chat-sync/internal/models"
	"chat-sync/internal/runloop"
)

// Tracker holds the typing set per thread behind a single-writer loop.
type Tracker struct {
	loop *runloop.Serial
	sets map[string]map[string]models.Identity
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		loop: runloop.New(),
		sets: make(map[string]map[string]models.Identity),
	}
}

// Set adds or removes one identity from a thread's typing set.
func (t *Tracker) Set(threadID string, who models.Identity, isTyping bool) {
	t.loop.Do(func() {
		if isTyping {
			if _, ok := t.sets[threadID]; !ok {
				t.sets[threadID] = make(map[string]models.Identity)
			}
			t.sets[threadID][who.ID] = who
			return
		}
		if set, ok := t.sets[threadID]; ok {
			delete(set, who.ID)
			if len(set) == 0 {
				delete(t.sets, threadID)
			}
		}
	})
}

// ClearAll empties the thread's typing set. The backend does not deliver
// per-identity stop on every path, so a local stop clears the whole set and
// the view returns to quiescence quickly rather than precisely.
func (t *Tracker) ClearAll(threadID string) {
	t.loop.Do(func() {
		delete(t.sets, threadID)
	})
}

// Typing returns the identities typing in a thread, sorted by id for
// deterministic rendering.
func (t *Tracker) Typing(threadID string) []models.Identity {
	var out []models.Identity
	t.loop.Do(func() {
		set := t.sets[threadID]
		out = make([]models.Identity, 0, len(set))
		for _, who := range set {
			out = append(out, who)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Drop discards the thread's typing state on leave.
func (t *Tracker) Drop(threadID string) {
	t.ClearAll(threadID)
}

// Close stops the tracker.
func (t *Tracker) Close() {
	t.loop.Close()
}
