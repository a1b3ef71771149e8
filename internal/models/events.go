package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Wire event names, namespace-qualified by the transport they travel on.
const (
	EventNewMessage      = "new-message"
	EventTypingStart     = "typing-start"
	EventTypingStop      = "typing-stop"
	EventNewNotification = "new-notification"
	EventIncomingCall    = "incoming-call"
	EventCallAccepted    = "call-accepted"
	EventCallDeclined    = "call-declined"
	EventCallCancelled   = "call-cancelled"

	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventCallRequest = "call-request"
	EventCallAccept  = "call-accept"
	EventCallDecline = "call-decline"
	EventCallCancel  = "call-cancel"
)

// ErrMalformedEvent is returned when an inbound payload fails validation.
// The transport read loop drops the single event and keeps going.
var ErrMalformedEvent = errors.New("malformed event payload")

// Envelope is the wire format for every event on the transport.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessageEvent is the broadcast of a message to a thread. CorrelatesTo
// carries the sender's local id so its own optimistic echo can be matched.
type NewMessageEvent struct {
	ServerID     string           `json:"id"`
	ThreadID     string           `json:"thread_id"`
	SenderID     string           `json:"sender_id"`
	SenderName   string           `json:"sender_name,omitempty"`
	Content      string           `json:"content"`
	Audio        *AudioAttachment `json:"audio,omitempty"`
	ReplyTo      *ReplyRef        `json:"reply_to,omitempty"`
	CorrelatesTo string           `json:"correlates_to,omitempty"`
	SentAt       time.Time        `json:"sent_at"`
}

// TypingEvent signals that a user started or stopped typing in a thread.
// The same shape is used outbound; Typing distinguishes start from stop.
type TypingEvent struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Typing   bool   `json:"typing"`
}

// NewNotificationEvent is a live-pushed notification.
type NewNotificationEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	Target    string    `json:"target,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IncomingCallEvent is delivered on the callee's identity channel.
type IncomingCallEvent struct {
	CallID     string `json:"call_id"`
	ThreadID   string `json:"thread_id"`
	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name,omitempty"`
	CalleeID   string `json:"callee_id"`
}

// CallAnswerEvent covers accept, decline and cancel; Kind matches the
// event name it arrived under.
type CallAnswerEvent struct {
	CallID string    `json:"call_id"`
	FromID string    `json:"from_id"`
	Kind   CallState `json:"-"`
}

// JoinRoomEvent and LeaveRoomEvent are membership intents.
type JoinRoomEvent struct {
	ThreadID string `json:"thread_id"`
}

type LeaveRoomEvent struct {
	ThreadID string `json:"thread_id"`
}

// SendMessageEvent is the outbound best-effort message send. LocalID rides
// along so the broadcast echo can be correlated back.
type SendMessageEvent struct {
	ThreadID string           `json:"thread_id"`
	LocalID  string           `json:"local_id"`
	Content  string           `json:"content"`
	Audio    *AudioAttachment `json:"audio,omitempty"`
	ReplyTo  *ReplyRef        `json:"reply_to,omitempty"`
}

// CallRequestEvent asks the callee's identity channel to ring.
type CallRequestEvent struct {
	CallID     string `json:"call_id"`
	ThreadID   string `json:"thread_id"`
	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name,omitempty"`
	CalleeID   string `json:"callee_id"`
}

// ParseNewMessage validates and decodes a new-message payload.
func ParseNewMessage(raw json.RawMessage) (NewMessageEvent, error) {
	var ev NewMessageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ServerID == "" || ev.ThreadID == "" || ev.SenderID == "" {
		return ev, fmt.Errorf("%w: new-message missing id, thread_id or sender_id", ErrMalformedEvent)
	}
	return ev, nil
}

// ParseTyping validates and decodes a typing payload. The event name decides
// the Typing flag, overriding whatever the payload carried.
func ParseTyping(raw json.RawMessage, typing bool) (TypingEvent, error) {
	var ev TypingEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ThreadID == "" || ev.UserID == "" {
		return ev, fmt.Errorf("%w: typing missing thread_id or user_id", ErrMalformedEvent)
	}
	ev.Typing = typing
	return ev, nil
}

// ParseNewNotification validates and decodes a new-notification payload.
func ParseNewNotification(raw json.RawMessage) (NewNotificationEvent, error) {
	var ev NewNotificationEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" {
		return ev, fmt.Errorf("%w: new-notification missing id", ErrMalformedEvent)
	}
	return ev, nil
}

// ParseIncomingCall validates and decodes an incoming-call payload.
func ParseIncomingCall(raw json.RawMessage) (IncomingCallEvent, error) {
	var ev IncomingCallEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.CallID == "" || ev.CallerID == "" {
		return ev, fmt.Errorf("%w: incoming-call missing call_id or caller_id", ErrMalformedEvent)
	}
	return ev, nil
}

// ParseCallAnswer validates and decodes an accept/decline/cancel payload.
func ParseCallAnswer(raw json.RawMessage, kind CallState) (CallAnswerEvent, error) {
	var ev CallAnswerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.CallID == "" {
		return ev, fmt.Errorf("%w: call answer missing call_id", ErrMalformedEvent)
	}
	ev.Kind = kind
	return ev, nil
}
