package models

import "time"

// ThreadKind distinguishes open rooms from two-party direct conversations.
type ThreadKind string

const (
	ThreadRoom   ThreadKind = "room"
	ThreadDirect ThreadKind = "direct"
)

// Thread is a chat room or direct conversation summary as returned by the
// backend listing endpoint. The message log itself lives in the store.
type Thread struct {
	ID           string     `json:"id"`
	Kind         ThreadKind `json:"kind"`
	Participants []Identity `json:"participants,omitempty"`
	Joined       bool       `json:"joined"`
	CreatedAt    time.Time  `json:"created_at"`
}
