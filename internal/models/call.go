package models

import "time"

// CallState is the signaling state of a call session.
type CallState string

const (
	CallIdle      CallState = "idle"
	CallRequested CallState = "requested"
	CallAccepted  CallState = "accepted"
	CallDeclined  CallState = "declined"
	CallCancelled CallState = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s CallState) Terminal() bool {
	return s == CallAccepted || s == CallDeclined || s == CallCancelled
}

// CallSession is one signaling handshake between a caller and a callee.
// The call id is client-generated and unique; once the session reaches a
// terminal state it never changes again.
type CallSession struct {
	CallID    string    `json:"call_id"`
	Caller    Identity  `json:"caller"`
	Callee    Identity  `json:"callee"`
	ThreadID  string    `json:"thread_id"`
	State     CallState `json:"state"`
	Outbound  bool      `json:"outbound"`
	CreatedAt time.Time `json:"created_at"`
}
