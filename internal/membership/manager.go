// Package membership tracks which rooms and conversations the local session
// has joined on one transport namespace, and issues the join/leave intents.
package membership

import (
	"errors"
	"fmt"

	"chat-sync/internal/models"
	"chat-sync/internal/runloop"
	"chat-sync/internal/transport"
)

// ErrClosed is returned once the manager has shut down.
var ErrClosed = errors.New("membership manager closed")

// TransientState is anything holding per-thread state that must be cleared
// when the thread is left (the message store, the typing tracker).
type TransientState interface {
	Drop(threadID string)
}

// Manager guarantees at most one active membership per room per session.
// There is exactly one manager per transport namespace.
type Manager struct {
	loop      *runloop.Serial
	emit      transport.Emitter
	transient []TransientState

	joined  map[string]bool
	current string
}

// NewManager builds a manager emitting on emit and clearing the given
// transient stores on leave.
func NewManager(emit transport.Emitter, transient ...TransientState) *Manager {
	return &Manager{
		loop:      runloop.New(),
		emit:      emit,
		transient: transient,
		joined:    make(map[string]bool),
	}
}

// Join marks the thread joined and emits the join intent. Joining an
// already-joined thread is a no-op.
func (m *Manager) Join(threadID string) error {
	var err error
	ok := m.loop.Do(func() {
		err = m.join(threadID)
	})
	if !ok {
		return ErrClosed
	}
	return err
}

func (m *Manager) join(threadID string) error {
	if m.joined[threadID] {
		return nil
	}
	if err := m.emit.Emit(models.EventJoinRoom, models.JoinRoomEvent{ThreadID: threadID}); err != nil {
		return fmt.Errorf("join %s: %w", threadID, err)
	}
	m.joined[threadID] = true
	m.current = threadID
	return nil
}

// Leave emits the leave intent, clears the joined flag and drops the
// thread's transient state. Local state is cleared even when the emit fails.
func (m *Manager) Leave(threadID string) error {
	var err error
	ok := m.loop.Do(func() {
		err = m.leave(threadID)
	})
	if !ok {
		return ErrClosed
	}
	return err
}

func (m *Manager) leave(threadID string) error {
	err := m.emit.Emit(models.EventLeaveRoom, models.LeaveRoomEvent{ThreadID: threadID})

	delete(m.joined, threadID)
	if m.current == threadID {
		m.current = ""
	}
	for _, t := range m.transient {
		t.Drop(threadID)
	}

	if err != nil {
		return fmt.Errorf("leave %s: %w", threadID, err)
	}
	return nil
}

// Switch leaves the current room, then joins the new one. The backend scopes
// broadcast by last-joined room, so the leave must go out before the join.
func (m *Manager) Switch(threadID string) error {
	var err error
	ok := m.loop.Do(func() {
		if m.current == threadID && m.joined[threadID] {
			return
		}
		if m.current != "" {
			if leaveErr := m.leave(m.current); leaveErr != nil {
				err = leaveErr
				return
			}
		}
		err = m.join(threadID)
	})
	if !ok {
		return ErrClosed
	}
	return err
}

// Joined reports whether the thread is currently joined.
func (m *Manager) Joined(threadID string) bool {
	var joined bool
	m.loop.Do(func() {
		joined = m.joined[threadID]
	})
	return joined
}

// Current returns the last-joined room, or empty.
func (m *Manager) Current() string {
	var current string
	m.loop.Do(func() {
		current = m.current
	})
	return current
}

// JoinedThreads returns a copy of the joined set.
func (m *Manager) JoinedThreads() []string {
	var out []string
	m.loop.Do(func() {
		for id := range m.joined {
			out = append(out, id)
		}
	})
	return out
}

// Close stops the manager.
func (m *Manager) Close() {
	m.loop.Close()
}
