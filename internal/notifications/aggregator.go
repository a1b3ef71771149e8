// Package notifications merges the REST notification backlog with live
// pushed events into one newest-first, deduplicated list.
package notifications

import (
	"context"
	"errors"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/runloop"
)

var (
	// ErrNotFound is returned when a notification id is unknown.
	ErrNotFound = errors.New("notification not found")
	// ErrClosed is returned once the aggregator has shut down.
	ErrClosed = errors.New("notification aggregator closed")
)

// Backend is the slice of the REST collaborator the aggregator needs.
type Backend interface {
	FetchNotifications(ctx context.Context, accountID string) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error
}

// Aggregator owns the notification list for one account.
type Aggregator struct {
	loop    *runloop.Serial
	backend Backend

	list []models.Notification
	byID map[string]int
}

// NewAggregator builds an empty aggregator against the backend.
func NewAggregator(backend Backend) *Aggregator {
	return &Aggregator{
		loop:    runloop.New(),
		backend: backend,
		byID:    make(map[string]int),
	}
}

// LoadBacklog replaces the list with the REST backlog, newest first. On
// failure the prior list is left untouched.
func (a *Aggregator) LoadBacklog(ctx context.Context, accountID string) ([]models.Notification, error) {
	backlog, err := a.backend.FetchNotifications(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var out []models.Notification
	ok := a.loop.Do(func() {
		a.list = a.list[:0]
		a.byID = make(map[string]int, len(backlog))
		for _, n := range backlog {
			if _, dup := a.byID[n.ID]; dup {
				continue
			}
			a.byID[n.ID] = len(a.list)
			a.list = append(a.list, n)
		}
		a.updateUnreadGauge()
		out = a.copyList()
	})
	if !ok {
		return nil, ErrClosed
	}
	return out, nil
}

// HandleLive prepends a pushed notification unless its id is already
// present; duplicate delivery is a no-op.
func (a *Aggregator) HandleLive(ev models.NewNotificationEvent) {
	a.loop.Do(func() {
		if _, dup := a.byID[ev.ID]; dup {
			return
		}
		n := models.Notification{
			ID:        ev.ID,
			Type:      models.NormalizeNotificationType(ev.Type),
			Actor:     models.Identity{ID: ev.ActorID, Name: ev.ActorName},
			Target:    ev.Target,
			Read:      false,
			CreatedAt: ev.CreatedAt,
		}
		a.list = append([]models.Notification{n}, a.list...)
		a.reindex()
		a.updateUnreadGauge()
	})
}

// MarkRead flips the read flag locally first, then records it with the
// backend. The flag is monotonic: a backend failure leaves it set, so an
// entry the user marked read never flickers back to unread.
func (a *Aggregator) MarkRead(ctx context.Context, notificationID string) error {
	err := ErrNotFound
	ok := a.loop.Do(func() {
		idx, found := a.byID[notificationID]
		if !found {
			return
		}
		err = nil
		if a.list[idx].Read {
			// Already read; the remote call below stays idempotent.
			return
		}
		a.list[idx].Read = true
		a.updateUnreadGauge()
	})
	if !ok {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	return a.backend.MarkNotificationRead(ctx, notificationID)
}

// Notifications returns a copy of the list, newest first.
func (a *Aggregator) Notifications() []models.Notification {
	var out []models.Notification
	a.loop.Do(func() {
		out = a.copyList()
	})
	return out
}

// UnreadCount reports how many entries are unread.
func (a *Aggregator) UnreadCount() int {
	var n int
	a.loop.Do(func() {
		n = a.unread()
	})
	return n
}

func (a *Aggregator) unread() int {
	n := 0
	for _, notif := range a.list {
		if !notif.Read {
			n++
		}
	}
	return n
}

func (a *Aggregator) updateUnreadGauge() {
	observability.SetUnreadNotifications(a.unread())
}

func (a *Aggregator) reindex() {
	a.byID = make(map[string]int, len(a.list))
	for i, n := range a.list {
		a.byID[n.ID] = i
	}
}

func (a *Aggregator) copyList() []models.Notification {
	out := make([]models.Notification, len(a.list))
	copy(out, a.list)
	return out
}

// Close stops the aggregator.
func (a *Aggregator) Close() {
	a.loop.Close()
}
