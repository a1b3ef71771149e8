package models

import "time"

// MessageStatus tracks the confirmation lifecycle of a message.
type MessageStatus string

const (
	// StatusPending marks an optimistic local insert awaiting the server echo.
	StatusPending MessageStatus = "pending"
	// StatusConfirmed marks a message the server has acknowledged or broadcast.
	StatusConfirmed MessageStatus = "confirmed"
	// StatusFailed marks an optimistic insert whose send failed; it stays in
	// the log so the user can retry or discard it explicitly.
	StatusFailed MessageStatus = "failed"
)

// Identity is a user reference carried on messages, calls and notifications.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// AudioAttachment references an uploaded audio asset.
type AudioAttachment struct {
	URL           string `json:"url"`
	Transcription string `json:"transcription,omitempty"`
	DurationMS    int    `json:"duration_ms,omitempty"`
}

// ReplyRef points at the message being replied to.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	Snippet    string `json:"snippet,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
}

// Message is one entry in a thread's ordered log. ID is server-assigned and
// empty while the message is optimistic; LocalID is the client-generated
// correlation id used to match the server echo against the optimistic entry.
type Message struct {
	ID       string           `json:"id,omitempty"`
	LocalID  string           `json:"local_id,omitempty"`
	ThreadID string           `json:"thread_id"`
	Sender   Identity         `json:"sender"`
	Content  string           `json:"content"`
	Audio    *AudioAttachment `json:"audio,omitempty"`
	ReplyTo  *ReplyRef        `json:"reply_to,omitempty"`
	SentAt   time.Time        `json:"sent_at"`
	Status   MessageStatus    `json:"status"`
}

// Confirmed reports whether the message carries a server identity.
func (m Message) Confirmed() bool {
	return m.Status == StatusConfirmed
}
