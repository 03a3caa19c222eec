// Package events carries change notifications between the group and
// content stores and the components that react to them (propagation,
// audit, cache invalidation, external publishing).
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groupgate/groupgate/pkg/observability"
)

// Type identifies what changed.
type Type string

const (
	TypeGroupCreated      Type = "group.created"
	TypeGroupUpdated      Type = "group.updated"
	TypeGroupDeleted      Type = "group.deleted"
	TypeGroupUsersAdded   Type = "group.users.added"
	TypeGroupUsersRemoved Type = "group.users.removed"

	TypeItemReadGroupsAdded   Type = "item.read_groups.added"
	TypeItemReadGroupsRemoved Type = "item.read_groups.removed"
	TypeItemEditGroupsAdded   Type = "item.edit_groups.added"
	TypeItemEditGroupsRemoved Type = "item.edit_groups.removed"
	TypeItemEditGroupsCleared Type = "item.edit_groups.cleared"
)

// Event describes a single change to group membership or content-group
// relationships.
type Event struct {
	ID   string    `json:"id"`
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	// GroupID is set for single-group events (added read group,
	// deleted group).
	GroupID int64 `json:"group_id,omitempty"`

	// ItemID is set for content-side events.
	ItemID int64 `json:"item_id,omitempty"`

	// UserIDs carries the affected users for membership events.
	UserIDs []int64 `json:"user_ids,omitempty"`

	// GroupIDs carries the affected group set for bulk events.
	GroupIDs []int64 `json:"group_ids,omitempty"`

	// ActorID is the user that caused the change, zero when unknown.
	ActorID int64 `json:"actor_id,omitempty"`

	// SuppressCascade marks events emitted by the propagation engine
	// itself so listeners do not re-propagate them.
	SuppressCascade bool `json:"suppress_cascade,omitempty"`
}

// New creates an event with a fresh ID and timestamp.
func New(eventType Type) *Event {
	return &Event{
		ID:   uuid.New().String(),
		Type: eventType,
		At:   time.Now().UTC(),
	}
}

// AccessChangeListener receives change events. Implementations must
// tolerate partial failure in other listeners; the dispatcher treats
// listener errors as best-effort.
type AccessChangeListener interface {
	HandleAccessChange(ctx context.Context, event *Event) error
}

// ListenerFunc adapts a function to the AccessChangeListener interface.
type ListenerFunc func(ctx context.Context, event *Event) error

// HandleAccessChange calls the wrapped function.
func (f ListenerFunc) HandleAccessChange(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Dispatcher fans events out to registered listeners synchronously, in
// registration order. Listener failures are logged and do not abort the
// remaining listeners or the triggering write.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []AccessChangeListener
	logger    *observability.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *observability.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Register adds a listener. Registration order is dispatch order.
func (d *Dispatcher) Register(listener AccessChangeListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, listener)
}

// Dispatch delivers the event to every listener. The returned error
// aggregates listener failures for callers that want to surface them;
// the triggering write has already committed by the time Dispatch runs.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	d.mu.RLock()
	listeners := make([]AccessChangeListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	var failed int
	for _, listener := range listeners {
		if err := listener.HandleAccessChange(ctx, event); err != nil {
			failed++
			if d.logger != nil {
				d.logger.WithError(err).
					WithField("event_type", string(event.Type)).
					WithField("event_id", event.ID).
					Warn("event listener failed")
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d listeners failed for event %s", failed, len(listeners), event.Type)
	}
	return nil
}
