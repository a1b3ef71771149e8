package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

var (
	self   = models.Identity{ID: "alice", Name: "Alice"}
	friend = models.Identity{ID: "bob", Name: "Bob"}
)

func newTestSignaler(t *testing.T, ringTimeout time.Duration) (*Signaler, *mocks.EmitterMock) {
	t.Helper()
	emitter := new(mocks.EmitterMock)
	s := NewSignaler(emitter, self, ringTimeout)
	t.Cleanup(s.Close)
	return s, emitter
}

func TestRequestThenRemoteAcceptStartsMedia(t *testing.T) {
	s, emitter := newTestSignaler(t, 0)
	emitter.On("Emit", models.EventCallRequest, mock.Anything).Return(nil).Once()

	sess, err := s.Request("room-1", friend)
	require.NoError(t, err)
	require.Equal(t, models.CallRequested, sess.State)
	require.True(t, sess.Outbound)

	s.HandleAnswer(models.CallAnswerEvent{CallID: sess.CallID, FromID: friend.ID, Kind: models.CallAccepted})

	got, found := s.Session(sess.CallID)
	require.True(t, found)
	assert.Equal(t, models.CallAccepted, got.State)

	var sawMedia bool
	for len(s.Updates()) > 0 {
		if u := <-s.Updates(); u.StartMedia {
			sawMedia = true
		}
	}
	assert.True(t, sawMedia)
	emitter.AssertExpectations(t)
}

func TestCancelThenStaleAcceptIsNoOp(t *testing.T) {
	s, emitter := newTestSignaler(t, 0)
	emitter.On("Emit", models.EventCallRequest, mock.Anything).Return(nil).Once()
	emitter.On("Emit", models.EventCallCancel, mock.Anything).Return(nil).Once()

	sess, err := s.Request("room-1", friend)
	require.NoError(t, err)
	require.NoError(t, s.Cancel(sess.CallID))

	// Drain updates recorded so far, then deliver the stale accept.
	for len(s.Updates()) > 0 {
		<-s.Updates()
	}
	s.HandleAnswer(models.CallAnswerEvent{CallID: sess.CallID, FromID: friend.ID, Kind: models.CallAccepted})

	got, found := s.Session(sess.CallID)
	require.True(t, found)
	assert.Equal(t, models.CallCancelled, got.State)
	// No update means no media instruction reached the UI.
	assert.Zero(t, len(s.Updates()))
	emitter.AssertExpectations(t)
}

func TestAcceptThenStaleCancelIsNoOp(t *testing.T) {
	s, emitter := newTestSignaler(t, 0)
	emitter.On("Emit", models.EventCallAccept, mock.Anything).Return(nil).Once()

	s.HandleIncoming(models.IncomingCallEvent{CallID: "C1", ThreadID: "room-1", CallerID: friend.ID, CalleeID: self.ID})
	require.NoError(t, s.Accept("C1"))

	s.HandleAnswer(models.CallAnswerEvent{CallID: "C1", FromID: friend.ID, Kind: models.CallCancelled})

	got, found := s.Session("C1")
	require.True(t, found)
	assert.Equal(t, models.CallAccepted, got.State)
	emitter.AssertExpectations(t)
}

func TestTerminalStateIsImmutable(t *testing.T) {
	s, emitter := newTestSignaler(t, 0)
	emitter.On("Emit", models.EventCallDecline, mock.Anything).Return(nil).Once()

	s.HandleIncoming(models.IncomingCallEvent{CallID: "C1", ThreadID: "room-1", CallerID: friend.ID, CalleeID: self.ID})
	require.NoError(t, s.Decline("C1"))

	// Further local intents and remote events are all no-ops.
	require.NoError(t, s.Accept("C1"))
	require.NoError(t, s.Cancel("C1"))
	s.HandleAnswer(models.CallAnswerEvent{CallID: "C1", FromID: friend.ID, Kind: models.CallAccepted})

	got, _ := s.Session("C1")
	assert.Equal(t, models.CallDeclined, got.State)
	emitter.AssertExpectations(t)
}

func TestDuplicateIncomingIsNoOp(t *testing.T) {
	s, _ := newTestSignaler(t, 0)

	ev := models.IncomingCallEvent{CallID: "C1", ThreadID: "room-1", CallerID: friend.ID, CalleeID: self.ID}
	s.HandleIncoming(ev)
	s.HandleIncoming(ev)

	assert.Len(t, s.Sessions(), 1)
	assert.Len(t, s.Active(), 1)
}

func TestIncomingCallSurfacesPrompt(t *testing.T) {
	s, _ := newTestSignaler(t, 0)

	s.HandleIncoming(models.IncomingCallEvent{CallID: "C1", ThreadID: "room-1", CallerID: friend.ID, CalleeID: self.ID})

	select {
	case u := <-s.Updates():
		assert.True(t, u.Prompt)
		assert.Equal(t, models.CallRequested, u.Session.State)
		assert.False(t, u.Session.Outbound)
	default:
		t.Fatal("expected an incoming-call update")
	}
}

func TestRingTimeoutCancelsUnansweredRequest(t *testing.T) {
	s, emitter := newTestSignaler(t, 20*time.Millisecond)
	emitter.On("Emit", models.EventCallRequest, mock.Anything).Return(nil).Once()
	emitter.On("Emit", models.EventCallCancel, mock.Anything).Return(nil).Once()

	sess, err := s.Request("room-1", friend)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := s.Session(sess.CallID)
		return got.State == models.CallCancelled
	}, time.Second, 5*time.Millisecond)
	emitter.AssertExpectations(t)
}

func TestRingTimerCancelledByTerminalTransition(t *testing.T) {
	s, emitter := newTestSignaler(t, 30*time.Millisecond)
	emitter.On("Emit", models.EventCallRequest, mock.Anything).Return(nil).Once()

	sess, err := s.Request("room-1", friend)
	require.NoError(t, err)

	s.HandleAnswer(models.CallAnswerEvent{CallID: sess.CallID, FromID: friend.ID, Kind: models.CallAccepted})

	time.Sleep(60 * time.Millisecond)
	got, _ := s.Session(sess.CallID)
	assert.Equal(t, models.CallAccepted, got.State)
	emitter.AssertExpectations(t)
}

func TestRequestFailsWhenEmitFails(t *testing.T) {
	s, emitter := newTestSignaler(t, 0)
	emitter.On("Emit", models.EventCallRequest, mock.Anything).Return(assert.AnError).Once()

	_, err := s.Request("room-1", friend)
	require.Error(t, err)
	assert.Empty(t, s.Sessions())
	emitter.AssertExpectations(t)
}

func TestUnknownCallIntent(t *testing.T) {
	s, _ := newTestSignaler(t, 0)
	assert.ErrorIs(t, s.Accept("nope"), ErrUnknownCall)
}
