// Package engine wires the sync components for one account into a Session:
// inbound transport events and outbound user intents are routed into each
// component's ordered queue, and every state change is published to the UI
// collaborator as an immutable snapshot.
package engine

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"

	"chat-sync/internal/call"
	"chat-sync/internal/membership"
	"chat-sync/internal/models"
	"chat-sync/internal/notifications"
	"chat-sync/internal/rest"
	"chat-sync/internal/store"
	"chat-sync/internal/transport"
	"chat-sync/internal/typing"
)

const historyPageSize = 50

// Stream is the transport surface the session consumes, satisfied by
// *transport.Client and by the test double.
type Stream interface {
	Connect(ctx context.Context)
	Disconnect()
	Emit(event string, payload any) error
	Subscribe(event string) <-chan json.RawMessage
	States() <-chan transport.State
	Namespace() string
}

// Config collects the collaborators for one session.
type Config struct {
	Self models.Identity
	Rest rest.Client

	// Chat carries room traffic; DM carries direct-message and call
	// signaling traffic; Notifications carries the notification feed. Any
	// of them may be nil, disabling that namespace.
	Chat          Stream
	DM            Stream
	Notifications Stream
}

// ThreadState is the per-thread slice of a snapshot.
type ThreadState struct {
	Messages []models.Message  `json:"messages"`
	Typing   []models.Identity `json:"typing"`
	Joined   bool              `json:"joined"`
}

// Snapshot is the published view of the whole session. Snapshots are copies;
// holding one never aliases live component state.
type Snapshot struct {
	Threads       map[string]ThreadState     `json:"threads"`
	Calls         []models.CallSession       `json:"calls"`
	Notifications []models.Notification      `json:"notifications"`
	Unread        int                        `json:"unread"`
	Connected     map[string]transport.State `json:"connected"`
}

// Session owns the sync components for one account.
type Session struct {
	cfg Config

	store   *store.MessageStore
	typing  *typing.Tracker
	calls   *call.Signaler
	notifs  *notifications.Aggregator
	members *membership.Manager

	mu          sync.Mutex
	subs        []chan Snapshot
	connState   map[string]transport.State
	closed      bool
	callUpdates chan call.Update

	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession constructs the components and their wiring. Call Start to
// connect the transports and begin routing events.
func NewSession(cfg Config) *Session {
	s := &Session{
		cfg:         cfg,
		store:       store.NewMessageStore(cfg.Rest),
		typing:      typing.NewTracker(),
		notifs:      notifications.NewAggregator(cfg.Rest),
		connState:   make(map[string]transport.State),
		callUpdates: make(chan call.Update, 32),
	}

	var chatEmit transport.Emitter = dropEmitter{}
	if cfg.Chat != nil {
		chatEmit = cfg.Chat
	}
	var dmEmit transport.Emitter = dropEmitter{}
	if cfg.DM != nil {
		dmEmit = cfg.DM
	}

	s.calls = call.NewSignaler(dmEmit, cfg.Self, 0)
	s.members = membership.NewManager(chatEmit, s.store, s.typing)
	return s
}

// dropEmitter stands in for a disabled namespace: every emit is a drop.
type dropEmitter struct{}

func (dropEmitter) Emit(string, any) error { return transport.ErrNotConnected }

// Start connects the transports and starts the event pumps. The context
// bounds the whole session; cancelling it is equivalent to Close.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, t := range []Stream{s.cfg.Chat, s.cfg.DM, s.cfg.Notifications} {
		if t == nil {
			continue
		}
		t.Connect(ctx)
		s.pumpStates(ctx, t)
	}

	if s.cfg.Chat != nil {
		s.pumpConversation(ctx, s.cfg.Chat)
	}
	if s.cfg.DM != nil {
		s.pumpConversation(ctx, s.cfg.DM)
		s.pumpCalls(ctx, s.cfg.DM)
	}
	if s.cfg.Notifications != nil {
		s.pumpNotifications(ctx, s.cfg.Notifications)
	}
	s.pumpCallUpdates(ctx)
}

// pumpConversation routes message and typing events from one namespace into
// the store and typing tracker. Each malformed event is dropped in
// isolation; the pump never stops on a bad payload.
func (s *Session) pumpConversation(ctx context.Context, t Stream) {
	messages := t.Subscribe(models.EventNewMessage)
	starts := t.Subscribe(models.EventTypingStart)
	stops := t.Subscribe(models.EventTypingStop)

	s.spawn(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-messages:
				if !ok {
					return
				}
				ev, err := models.ParseNewMessage(raw)
				if err != nil {
					s.dropMalformed(t.Namespace(), models.EventNewMessage, err)
					continue
				}
				s.store.ReconcileInbound(ev)
				s.publish()
			case raw, ok := <-starts:
				if !ok {
					return
				}
				s.applyTyping(t.Namespace(), raw, true)
			case raw, ok := <-stops:
				if !ok {
					return
				}
				s.applyTyping(t.Namespace(), raw, false)
			}
		}
	})
}

func (s *Session) applyTyping(namespace string, raw json.RawMessage, isTyping bool) {
	event := models.EventTypingStop
	if isTyping {
		event = models.EventTypingStart
	}
	ev, err := models.ParseTyping(raw, isTyping)
	if err != nil {
		s.dropMalformed(namespace, event, err)
		return
	}
	// The local user's own echo is not worth rendering.
	if ev.UserID == s.cfg.Self.ID {
		return
	}
	s.typing.Set(ev.ThreadID, models.Identity{ID: ev.UserID, Name: ev.UserName}, ev.Typing)
	s.publish()
}

// pumpCalls routes call signaling events into the state machine.
func (s *Session) pumpCalls(ctx context.Context, t Stream) {
	incoming := t.Subscribe(models.EventIncomingCall)
	accepted := t.Subscribe(models.EventCallAccepted)
	declined := t.Subscribe(models.EventCallDeclined)
	cancelled := t.Subscribe(models.EventCallCancelled)

	answer := func(raw json.RawMessage, event string, kind models.CallState) {
		ev, err := models.ParseCallAnswer(raw, kind)
		if err != nil {
			s.dropMalformed(t.Namespace(), event, err)
			return
		}
		s.calls.HandleAnswer(ev)
	}

	s.spawn(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-incoming:
				if !ok {
					return
				}
				ev, err := models.ParseIncomingCall(raw)
				if err != nil {
					s.dropMalformed(t.Namespace(), models.EventIncomingCall, err)
					continue
				}
				s.calls.HandleIncoming(ev)
			case raw, ok := <-accepted:
				if !ok {
					return
				}
				answer(raw, models.EventCallAccepted, models.CallAccepted)
			case raw, ok := <-declined:
				if !ok {
					return
				}
				answer(raw, models.EventCallDeclined, models.CallDeclined)
			case raw, ok := <-cancelled:
				if !ok {
					return
				}
				answer(raw, models.EventCallCancelled, models.CallCancelled)
			}
		}
	})
}

// pumpCallUpdates republishes whenever the signaler changes a session and
// forwards the update, with its prompt/media instructions, to the UI
// collaborator's stream.
func (s *Session) pumpCallUpdates(ctx context.Context) {
	updates := s.calls.Updates()
	s.spawn(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				s.publish()
				select {
				case s.callUpdates <- u:
				default:
				}
			}
		}
	})
}

func (s *Session) pumpNotifications(ctx context.Context, t Stream) {
	live := t.Subscribe(models.EventNewNotification)
	s.spawn(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-live:
				if !ok {
					return
				}
				ev, err := models.ParseNewNotification(raw)
				if err != nil {
					s.dropMalformed(t.Namespace(), models.EventNewNotification, err)
					continue
				}
				s.notifs.HandleLive(ev)
				s.publish()
			}
		}
	})
}

func (s *Session) pumpStates(ctx context.Context, t Stream) {
	states := t.States()
	s.spawn(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case state, ok := <-states:
				if !ok {
					return
				}
				s.mu.Lock()
				s.connState[t.Namespace()] = state
				s.mu.Unlock()
				s.publish()
			}
		}
	})
}

func (s *Session) dropMalformed(namespace, event string, err error) {
	log.Printf("dropped malformed %s event on %s: %v", event, namespace, err)
}

// JoinThread joins a room and starts tracking its log.
func (s *Session) JoinThread(threadID string) error {
	s.store.Track(threadID)
	err := s.members.Join(threadID)
	s.publish()
	return err
}

// LeaveThread leaves a room and clears its transient state.
func (s *Session) LeaveThread(threadID string) error {
	err := s.members.Leave(threadID)
	s.publish()
	return err
}

// SwitchThread leaves the current room, then joins the new one.
func (s *Session) SwitchThread(threadID string) error {
	s.store.Track(threadID)
	err := s.members.Switch(threadID)
	s.publish()
	return err
}

// ListThreads returns the account's rooms and conversations from the REST
// collaborator.
func (s *Session) ListThreads(ctx context.Context) ([]models.Thread, error) {
	return s.cfg.Rest.ListThreads(ctx, s.cfg.Self.ID)
}

// LoadHistory installs one page of REST history for a thread. Failure
// leaves the existing log untouched.
func (s *Session) LoadHistory(ctx context.Context, threadID string, offset int) ([]models.Message, error) {
	msgs, err := s.store.LoadHistory(ctx, threadID, historyPageSize, offset)
	if err != nil {
		return nil, err
	}
	s.publish()
	return msgs, nil
}

// SendMessage appends the message optimistically, then sends it: over the
// event transport when connected, falling back to the REST collaborator.
// When both paths fail the optimistic entry is marked failed in place and
// the error returned alongside it.
func (s *Session) SendMessage(ctx context.Context, threadID, content string, replyTo *models.ReplyRef) (models.Message, error) {
	msg, err := s.store.AppendOptimistic(models.Message{
		ThreadID: threadID,
		Sender:   s.cfg.Self,
		Content:  content,
		ReplyTo:  replyTo,
	})
	if err != nil {
		return models.Message{}, err
	}
	s.publish()

	return s.deliver(ctx, msg)
}

// SendAudioMessage uploads the audio asset, then sends a message carrying
// the returned attachment.
func (s *Session) SendAudioMessage(ctx context.Context, threadID, filename string, audio io.Reader) (models.Message, error) {
	attachment, err := s.cfg.Rest.UploadAudio(ctx, threadID, filename, audio)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := s.store.AppendOptimistic(models.Message{
		ThreadID: threadID,
		Sender:   s.cfg.Self,
		Content:  attachment.Transcription,
		Audio:    &attachment,
	})
	if err != nil {
		return models.Message{}, err
	}
	s.publish()

	return s.deliver(ctx, msg)
}

func (s *Session) deliver(ctx context.Context, msg models.Message) (models.Message, error) {
	ev := models.SendMessageEvent{
		ThreadID: msg.ThreadID,
		LocalID:  msg.LocalID,
		Content:  msg.Content,
		Audio:    msg.Audio,
		ReplyTo:  msg.ReplyTo,
	}

	emitter := s.chatEmitter()
	if err := emitter.Emit(models.EventSendMessage, ev); err == nil {
		return msg, nil
	}

	// Transport is best-effort; the REST collaborator is the guaranteed
	// path.
	confirmed, err := s.cfg.Rest.CreateMessage(ctx, msg.ThreadID, msg.Content, msg.ReplyTo)
	if err != nil {
		if markErr := s.store.MarkFailed(msg.ThreadID, msg.LocalID); markErr != nil {
			log.Printf("mark failed send: %v", markErr)
		}
		s.publish()
		msg.Status = models.StatusFailed
		return msg, err
	}

	s.store.ReconcileInbound(models.NewMessageEvent{
		ServerID:     confirmed.ID,
		ThreadID:     confirmed.ThreadID,
		SenderID:     s.cfg.Self.ID,
		SenderName:   s.cfg.Self.Name,
		Content:      confirmed.Content,
		Audio:        confirmed.Audio,
		ReplyTo:      confirmed.ReplyTo,
		CorrelatesTo: msg.LocalID,
		SentAt:       confirmed.SentAt,
	})
	s.publish()

	confirmed.LocalID = msg.LocalID
	return confirmed, nil
}

// RetryMessage re-sends a failed optimistic message.
func (s *Session) RetryMessage(ctx context.Context, threadID, localID string) (models.Message, error) {
	msg, err := s.store.RetryFailed(threadID, localID)
	if err != nil {
		return models.Message{}, err
	}
	s.publish()
	return s.deliver(ctx, msg)
}

// DiscardMessage drops a failed optimistic message for good.
func (s *Session) DiscardMessage(threadID, localID string) error {
	err := s.store.DiscardFailed(threadID, localID)
	s.publish()
	return err
}

// SetTyping reports the local user's typing state to the thread. A stop also
// clears the thread's remote typing set.
func (s *Session) SetTyping(threadID string, isTyping bool) error {
	event := models.EventTypingStop
	if isTyping {
		event = models.EventTypingStart
	}
	err := s.chatEmitter().Emit(event, models.TypingEvent{
		ThreadID: threadID,
		UserID:   s.cfg.Self.ID,
		UserName: s.cfg.Self.Name,
		Typing:   isTyping,
	})
	if !isTyping {
		s.typing.ClearAll(threadID)
		s.publish()
	}
	return err
}

// StartCall rings callee in the context of a thread.
func (s *Session) StartCall(threadID string, callee models.Identity) (models.CallSession, error) {
	sess, err := s.calls.Request(threadID, callee)
	s.publish()
	return sess, err
}

// AcceptCall accepts an incoming call.
func (s *Session) AcceptCall(callID string) error {
	err := s.calls.Accept(callID)
	s.publish()
	return err
}

// DeclineCall declines an incoming call.
func (s *Session) DeclineCall(callID string) error {
	err := s.calls.Decline(callID)
	s.publish()
	return err
}

// CancelCall withdraws an outgoing call before acceptance.
func (s *Session) CancelCall(callID string) error {
	err := s.calls.Cancel(callID)
	s.publish()
	return err
}

// CallUpdates exposes the signaling update stream for the UI collaborator,
// which needs the prompt and media instructions, not just state.
func (s *Session) CallUpdates() <-chan call.Update {
	return s.callUpdates
}

// LoadNotifications loads the backlog for the account.
func (s *Session) LoadNotifications(ctx context.Context) ([]models.Notification, error) {
	list, err := s.notifs.LoadBacklog(ctx, s.cfg.Self.ID)
	if err != nil {
		return nil, err
	}
	s.publish()
	return list, nil
}

// MarkNotificationRead marks one notification read, optimistically.
func (s *Session) MarkNotificationRead(ctx context.Context, notificationID string) error {
	err := s.notifs.MarkRead(ctx, notificationID)
	s.publish()
	return err
}

// Profile resolves a user id through the REST collaborator.
func (s *Session) Profile(ctx context.Context, userID string) (models.Identity, error) {
	return s.cfg.Rest.FetchProfile(ctx, userID)
}

func (s *Session) chatEmitter() transport.Emitter {
	if s.cfg.Chat != nil {
		return s.cfg.Chat
	}
	return dropEmitter{}
}

// Subscribe returns a stream of snapshots. Slow subscribers see the latest
// snapshot, not every intermediate one.
func (s *Session) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// State builds a point-in-time snapshot of the whole session.
func (s *Session) State() Snapshot {
	threads := make(map[string]ThreadState)
	for id, msgs := range s.store.Snapshot() {
		threads[id] = ThreadState{
			Messages: msgs,
			Typing:   s.typing.Typing(id),
			Joined:   s.members.Joined(id),
		}
	}

	s.mu.Lock()
	connected := make(map[string]transport.State, len(s.connState))
	for ns, st := range s.connState {
		connected[ns] = st
	}
	s.mu.Unlock()

	return Snapshot{
		Threads:       threads,
		Calls:         s.calls.Sessions(),
		Notifications: s.notifs.Notifications(),
		Unread:        s.notifs.UnreadCount(),
		Connected:     connected,
	}
}

func (s *Session) publish() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	subs := make([]chan Snapshot, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	snap := s.State()
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale snapshot; the latest one wins.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Close disconnects the transports and stops every component. Idempotent;
// events still in flight are dropped, not queued.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		for _, t := range []Stream{s.cfg.Chat, s.cfg.DM, s.cfg.Notifications} {
			if t != nil {
				t.Disconnect()
			}
		}
		s.wg.Wait()

		s.members.Close()
		s.calls.Close()
		s.typing.Close()
		s.notifs.Close()
		s.store.Close()
	})
}
