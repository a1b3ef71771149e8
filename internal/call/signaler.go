// Package call implements the per-call-id signaling state machine that
// coordinates request, accept, decline and cancel between two parties.
package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/runloop"
	"chat-sync/internal/transport"
)

var (
	// ErrUnknownCall is returned for intents on call ids with no session.
	ErrUnknownCall = errors.New("unknown call id")
	// ErrClosed is returned once the signaler has shut down.
	ErrClosed = errors.New("call signaler closed")
)

// DefaultRingTimeout bounds how long an unanswered request rings before the
// session auto-cancels.
const DefaultRingTimeout = 30 * time.Second

// Update is pushed whenever a session changes state. Prompt is set when the
// UI should surface an incoming-call prompt; media reports whether the call
// should be established (only ever true on a non-stale accept).
type Update struct {
	Session    models.CallSession
	Prompt     bool
	StartMedia bool
}

// Signaler owns every CallSession for the local identity. Once a session
// reaches a terminal state it never changes again: later events referencing
// that call id are no-ops, which is what resolves the accept/cancel race.
type Signaler struct {
	loop *runloop.Serial
	emit transport.Emitter
	self models.Identity

	ringTimeout time.Duration
	sessions    map[string]*models.CallSession
	timers      map[string]*time.Timer
	updates     chan Update
}

// NewSignaler builds a signaler for the local identity, emitting signaling
// events through emit. A zero ringTimeout uses DefaultRingTimeout.
func NewSignaler(emit transport.Emitter, self models.Identity, ringTimeout time.Duration) *Signaler {
	if ringTimeout == 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Signaler{
		loop:        runloop.New(),
		emit:        emit,
		self:        self,
		ringTimeout: ringTimeout,
		sessions:    make(map[string]*models.CallSession),
		timers:      make(map[string]*time.Timer),
		updates:     make(chan Update, 32),
	}
}

// Updates returns the stream of session changes for the UI collaborator.
func (s *Signaler) Updates() <-chan Update {
	return s.updates
}

// Request starts an outbound call to callee and rings it for the configured
// timeout. The request event is scoped to the callee's identity channel.
func (s *Signaler) Request(threadID string, callee models.Identity) (models.CallSession, error) {
	var session models.CallSession
	var err error
	ok := s.loop.Do(func() {
		callID := uuid.NewString()
		ev := models.CallRequestEvent{
			CallID:     callID,
			ThreadID:   threadID,
			CallerID:   s.self.ID,
			CallerName: s.self.Name,
			CalleeID:   callee.ID,
		}
		if err = s.emit.Emit(models.EventCallRequest, ev); err != nil {
			err = fmt.Errorf("call request: %w", err)
			return
		}

		sess := &models.CallSession{
			CallID:    callID,
			Caller:    s.self,
			Callee:    callee,
			ThreadID:  threadID,
			State:     models.CallRequested,
			Outbound:  true,
			CreatedAt: time.Now(),
		}
		s.sessions[callID] = sess
		s.armRingTimer(callID)
		session = *sess
		s.push(Update{Session: *sess})
	})
	if !ok {
		return models.CallSession{}, ErrClosed
	}
	return session, err
}

// Accept transitions an inbound Requested session to Accepted and instructs
// the UI to establish media. Accepting a terminal session is a no-op.
func (s *Signaler) Accept(callID string) error {
	return s.localTransition(callID, models.CallAccepted, models.EventCallAccept, true)
}

// Decline transitions an inbound Requested session to Declined.
func (s *Signaler) Decline(callID string) error {
	return s.localTransition(callID, models.CallDeclined, models.EventCallDecline, false)
}

// Cancel is the caller-initiated withdrawal before acceptance.
func (s *Signaler) Cancel(callID string) error {
	return s.localTransition(callID, models.CallCancelled, models.EventCallCancel, false)
}

func (s *Signaler) localTransition(callID string, to models.CallState, event string, media bool) error {
	var err error
	ok := s.loop.Do(func() {
		sess, found := s.sessions[callID]
		if !found {
			err = ErrUnknownCall
			return
		}
		if sess.State.Terminal() {
			// Already settled; whichever terminal transition was recorded
			// first wins locally.
			return
		}

		s.terminate(sess, to)
		if emitErr := s.emit.Emit(event, models.CallAnswerEvent{CallID: callID, FromID: s.self.ID}); emitErr != nil {
			err = fmt.Errorf("%s: %w", event, emitErr)
		}
		s.push(Update{Session: *sess, StartMedia: media})
	})
	if !ok {
		return ErrClosed
	}
	return err
}

// HandleIncoming processes an incoming-call event on the callee side. A call
// id that already has a session, terminal or not, is a no-op; otherwise an
// incoming-call prompt is surfaced.
func (s *Signaler) HandleIncoming(ev models.IncomingCallEvent) {
	s.loop.Do(func() {
		if _, exists := s.sessions[ev.CallID]; exists {
			return
		}
		sess := &models.CallSession{
			CallID:    ev.CallID,
			Caller:    models.Identity{ID: ev.CallerID, Name: ev.CallerName},
			Callee:    s.self,
			ThreadID:  ev.ThreadID,
			State:     models.CallRequested,
			Outbound:  false,
			CreatedAt: time.Now(),
		}
		s.sessions[ev.CallID] = sess
		s.armRingTimer(ev.CallID)
		s.push(Update{Session: *sess, Prompt: true})
	})
}

// HandleAnswer applies the other party's accept, decline or cancel. Stale
// answers for terminal sessions are no-ops: a caller that cancelled ignores
// the late accept and never starts media; a callee that accepted ignores the
// late cancel.
func (s *Signaler) HandleAnswer(ev models.CallAnswerEvent) {
	s.loop.Do(func() {
		sess, found := s.sessions[ev.CallID]
		if !found || sess.State.Terminal() {
			return
		}

		s.terminate(sess, ev.Kind)
		// Media starts only when the remote accept settles an outbound
		// request that is still live.
		s.push(Update{Session: *sess, StartMedia: ev.Kind == models.CallAccepted && sess.Outbound})
	})
}

// terminate records the terminal state, cancels the ring timer and emits the
// outcome telemetry. Callers must hold the loop.
func (s *Signaler) terminate(sess *models.CallSession, to models.CallState) {
	sess.State = to
	if timer, ok := s.timers[sess.CallID]; ok {
		timer.Stop()
		delete(s.timers, sess.CallID)
	}
	observability.IncCallOutcome(string(to))
	_ = observability.PublishEvent(context.Background(), "sync_events.calls", observability.EventEnvelope{
		EventType: "call_events",
		EventName: "call_" + string(to),
		Payload: map[string]interface{}{
			"call_id":   sess.CallID,
			"thread_id": sess.ThreadID,
			"outbound":  sess.Outbound,
			"state":     string(to),
		},
	}, nil)
}

// armRingTimer schedules the auto-cancel for an unanswered request. The
// timer re-enters through the loop, so expiry races with terminal
// transitions resolve in arrival order like every other event.
func (s *Signaler) armRingTimer(callID string) {
	s.timers[callID] = time.AfterFunc(s.ringTimeout, func() {
		s.loop.Enqueue(func() {
			sess, found := s.sessions[callID]
			if !found || sess.State.Terminal() {
				return
			}
			if sess.Outbound {
				_ = s.emit.Emit(models.EventCallCancel, models.CallAnswerEvent{CallID: callID, FromID: s.self.ID})
			}
			s.terminate(sess, models.CallCancelled)
			s.push(Update{Session: *sess})
		})
	})
}

func (s *Signaler) push(u Update) {
	select {
	case s.updates <- u:
	default:
	}
}

// Session returns a copy of the session for a call id.
func (s *Signaler) Session(callID string) (models.CallSession, bool) {
	var out models.CallSession
	var found bool
	s.loop.Do(func() {
		if sess, ok := s.sessions[callID]; ok {
			out = *sess
			found = true
		}
	})
	return out, found
}

// Active returns copies of the non-terminal sessions.
func (s *Signaler) Active() []models.CallSession {
	var out []models.CallSession
	s.loop.Do(func() {
		for _, sess := range s.sessions {
			if !sess.State.Terminal() {
				out = append(out, *sess)
			}
		}
	})
	return out
}

// Sessions returns copies of every known session, terminal included.
func (s *Signaler) Sessions() []models.CallSession {
	var out []models.CallSession
	s.loop.Do(func() {
		for _, sess := range s.sessions {
			out = append(out, *sess)
		}
	})
	return out
}

// Close stops the signaler and any outstanding ring timers.
func (s *Signaler) Close() {
	s.loop.Do(func() {
		for id, timer := range s.timers {
			timer.Stop()
			delete(s.timers, id)
		}
	})
	s.loop.Close()
}
