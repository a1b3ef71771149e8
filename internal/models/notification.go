package models

import "time"

// NotificationType enumerates the supported notification kinds. Unknown
// kinds coming off the wire fold into NotifGeneric.
type NotificationType string

const (
	NotifLike     NotificationType = "like"
	NotifComment  NotificationType = "comment"
	NotifReaction NotificationType = "reaction"
	NotifGeneric  NotificationType = "generic"
)

// Notification is one entry in the aggregator's newest-first list.
// Read is monotonic: once true it never reverts.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Actor     Identity         `json:"actor"`
	Target    string           `json:"target,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

// NormalizeNotificationType maps a wire value onto a known type.
func NormalizeNotificationType(raw string) NotificationType {
	switch NotificationType(raw) {
	case NotifLike, NotifComment, NotifReaction:
		return NotificationType(raw)
	default:
		return NotifGeneric
	}
}
