// Package store owns the per-thread ordered message logs and reconciles the
// REST history snapshots with the live event stream.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/runloop"
)

var (
	// ErrThreadNotFound is returned for operations on untracked threads.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrMessageNotFound is returned when a local id has no entry.
	ErrMessageNotFound = errors.New("message not found")
	// ErrClosed is returned once the store has shut down.
	ErrClosed = errors.New("message store closed")
)

// structuralMatchWindow bounds the timestamp distance for matching a server
// broadcast against an optimistic entry that lost its correlation id.
const structuralMatchWindow = 30 * time.Second

// HistoryFetcher is the slice of the REST collaborator the store needs.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, threadID string, limit, offset int) ([]models.Message, error)
}

// MessageStore holds the ordered message log for every tracked thread.
// All mutation runs on a single-writer loop; reads return copies.
type MessageStore struct {
	loop    *runloop.Serial
	fetcher HistoryFetcher

	logs    map[string][]models.Message
	seen    map[string]map[string]struct{}
	pending *Ledger
}

// NewMessageStore builds an empty store fetching history through fetcher.
func NewMessageStore(fetcher HistoryFetcher) *MessageStore {
	return &MessageStore{
		loop:    runloop.New(),
		fetcher: fetcher,
		logs:    make(map[string][]models.Message),
		seen:    make(map[string]map[string]struct{}),
		pending: NewLedger(),
	}
}

// Track creates the thread's log if it does not exist yet. Threads come into
// being on first reference: a REST snapshot or a join intent.
func (s *MessageStore) Track(threadID string) {
	s.loop.Do(func() {
		s.track(threadID)
	})
}

func (s *MessageStore) track(threadID string) {
	if _, ok := s.logs[threadID]; !ok {
		s.logs[threadID] = nil
		s.seen[threadID] = make(map[string]struct{})
	}
}

// LoadHistory fetches one page of history and installs it as the thread's
// confirmed baseline. Entries still pending in the ledger are re-appended so
// an optimistic send racing the reload is not lost. On fetch failure the
// existing log is left untouched and the error returned.
func (s *MessageStore) LoadHistory(ctx context.Context, threadID string, limit, offset int) ([]models.Message, error) {
	snapshot, err := s.fetcher.FetchHistory(ctx, threadID, limit, offset)
	if err != nil {
		return nil, err
	}

	var out []models.Message
	ok := s.loop.Do(func() {
		s.track(threadID)
		s.installHistory(threadID, snapshot)
		out = s.copyLog(threadID)
	})
	if !ok {
		return nil, ErrClosed
	}
	return out, nil
}

func (s *MessageStore) installHistory(threadID string, snapshot []models.Message) {
	var kept []models.Message
	for _, m := range s.logs[threadID] {
		if m.Status == models.StatusPending || m.Status == models.StatusFailed {
			kept = append(kept, m)
		}
	}

	seen := make(map[string]struct{}, len(snapshot))
	log := make([]models.Message, 0, len(snapshot)+len(kept))
	for _, m := range snapshot {
		m.Status = models.StatusConfirmed
		if m.ID != "" {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
		}
		log = append(log, m)
	}
	log = append(log, kept...)

	s.logs[threadID] = log
	s.seen[threadID] = seen
}

// AppendOptimistic inserts the message at the tail before any network
// confirmation, assigning a correlation id and pending status. The stored
// copy is returned.
func (s *MessageStore) AppendOptimistic(msg models.Message) (models.Message, error) {
	var out models.Message
	var err error
	ok := s.loop.Do(func() {
		if msg.LocalID == "" {
			msg.LocalID = uuid.NewString()
		}
		if msg.SentAt.IsZero() {
			msg.SentAt = time.Now()
		}
		msg.ID = ""
		msg.Status = models.StatusPending

		s.track(msg.ThreadID)
		s.logs[msg.ThreadID] = append(s.logs[msg.ThreadID], msg)
		s.pending.Add(PendingOp{
			CorrelationID: msg.LocalID,
			ThreadID:      msg.ThreadID,
			Kind:          "send-message",
			CreatedAt:     msg.SentAt,
		})
		out = msg
	})
	if !ok {
		err = ErrClosed
	}
	return out, err
}

// ReconcileInbound applies a live message event. The sender's own optimistic
// echo and the server broadcast are two representations of one logical
// message, so the event is matched by correlation id, then structurally,
// before it is appended as new. Applying the same event twice is a no-op.
// Events for untracked (left) threads are dropped.
func (s *MessageStore) ReconcileInbound(ev models.NewMessageEvent) {
	s.loop.Do(func() {
		seen, tracked := s.seen[ev.ThreadID]
		if !tracked {
			observability.IncReconciliation("dropped_untracked")
			return
		}
		if _, dup := seen[ev.ServerID]; dup {
			observability.IncReconciliation("duplicate")
			return
		}

		confirmed := models.Message{
			ID:       ev.ServerID,
			ThreadID: ev.ThreadID,
			Sender:   models.Identity{ID: ev.SenderID, Name: ev.SenderName},
			Content:  ev.Content,
			Audio:    ev.Audio,
			ReplyTo:  ev.ReplyTo,
			SentAt:   ev.SentAt,
			Status:   models.StatusConfirmed,
		}

		if idx, found := s.matchPending(ev); found {
			local := s.logs[ev.ThreadID][idx]
			confirmed.LocalID = local.LocalID
			// Replace in place, preserving the optimistic position.
			s.logs[ev.ThreadID][idx] = confirmed
			s.pending.Resolve(local.LocalID)
			seen[ev.ServerID] = struct{}{}
			observability.IncReconciliation("replaced")
			return
		}

		s.appendOrdered(ev.ThreadID, confirmed)
		seen[ev.ServerID] = struct{}{}
		observability.IncReconciliation("appended")
	})
}

// matchPending finds the optimistic entry the event confirms: by correlation
// id first, then by a structural match on sender, content and approximate
// time.
func (s *MessageStore) matchPending(ev models.NewMessageEvent) (int, bool) {
	log := s.logs[ev.ThreadID]

	if ev.CorrelatesTo != "" {
		if _, ok := s.pending.Get(ev.CorrelatesTo); ok {
			for i, m := range log {
				if m.LocalID == ev.CorrelatesTo && !m.Confirmed() {
					return i, true
				}
			}
		}
		return 0, false
	}

	for i, m := range log {
		if m.Status != models.StatusPending {
			continue
		}
		if m.Sender.ID != ev.SenderID || m.Content != ev.Content {
			continue
		}
		delta := ev.SentAt.Sub(m.SentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= structuralMatchWindow {
			return i, true
		}
	}
	return 0, false
}

// appendOrdered inserts keeping the log non-decreasing in effective
// timestamp, ties broken by arrival order.
func (s *MessageStore) appendOrdered(threadID string, msg models.Message) {
	log := s.logs[threadID]
	i := len(log)
	for i > 0 && log[i-1].SentAt.After(msg.SentAt) {
		i--
	}
	log = append(log, models.Message{})
	copy(log[i+1:], log[i:])
	log[i] = msg
	s.logs[threadID] = log
}

// MarkFailed flags an optimistic entry as failed in place so the user can
// retry or discard it; it is not silently removed.
func (s *MessageStore) MarkFailed(threadID, localID string) error {
	return s.updatePending(threadID, localID, models.StatusPending, models.StatusFailed)
}

// RetryFailed flips a failed entry back to pending and returns the copy for
// re-sending.
func (s *MessageStore) RetryFailed(threadID, localID string) (models.Message, error) {
	if err := s.updatePending(threadID, localID, models.StatusFailed, models.StatusPending); err != nil {
		return models.Message{}, err
	}
	var out models.Message
	s.loop.Do(func() {
		for _, m := range s.logs[threadID] {
			if m.LocalID == localID {
				out = m
				return
			}
		}
	})
	return out, nil
}

func (s *MessageStore) updatePending(threadID, localID string, from, to models.MessageStatus) error {
	err := ErrMessageNotFound
	ok := s.loop.Do(func() {
		log, tracked := s.logs[threadID]
		if !tracked {
			err = ErrThreadNotFound
			return
		}
		for i, m := range log {
			if m.LocalID == localID && m.Status == from {
				log[i].Status = to
				err = nil
				return
			}
		}
	})
	if !ok {
		return ErrClosed
	}
	return err
}

// DiscardFailed removes a failed entry from the log.
func (s *MessageStore) DiscardFailed(threadID, localID string) error {
	err := ErrMessageNotFound
	ok := s.loop.Do(func() {
		log, tracked := s.logs[threadID]
		if !tracked {
			err = ErrThreadNotFound
			return
		}
		for i, m := range log {
			if m.LocalID == localID && m.Status == models.StatusFailed {
				s.logs[threadID] = append(log[:i], log[i+1:]...)
				s.pending.Resolve(localID)
				err = nil
				return
			}
		}
	})
	if !ok {
		return ErrClosed
	}
	return err
}

// Messages returns an ordered copy of the thread's log.
func (s *MessageStore) Messages(threadID string) []models.Message {
	var out []models.Message
	s.loop.Do(func() {
		out = s.copyLog(threadID)
	})
	return out
}

func (s *MessageStore) copyLog(threadID string) []models.Message {
	log := s.logs[threadID]
	out := make([]models.Message, len(log))
	copy(out, log)
	return out
}

// Tracked reports whether the thread currently has a log.
func (s *MessageStore) Tracked(threadID string) bool {
	var tracked bool
	s.loop.Do(func() {
		_, tracked = s.logs[threadID]
	})
	return tracked
}

// Snapshot returns copies of every tracked log, keyed by thread id.
func (s *MessageStore) Snapshot() map[string][]models.Message {
	out := make(map[string][]models.Message)
	s.loop.Do(func() {
		for id := range s.logs {
			out[id] = s.copyLog(id)
		}
	})
	return out
}

// PendingCount reports the number of unresolved optimistic operations.
func (s *MessageStore) PendingCount() int {
	var n int
	s.loop.Do(func() {
		n = s.pending.Len()
	})
	return n
}

// Drop clears the thread entirely: log, dedup set and pending operations.
// Later events for the thread are dropped, not queued.
func (s *MessageStore) Drop(threadID string) {
	s.loop.Do(func() {
		delete(s.logs, threadID)
		delete(s.seen, threadID)
		s.pending.DropThread(threadID)
	})
}

// Close stops the store's loop.
func (s *MessageStore) Close() {
	s.loop.Close()
}
