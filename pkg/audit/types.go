package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Group lifecycle events
	EventTypeGroupCreate       EventType = "group.create"
	EventTypeGroupUpdate       EventType = "group.update"
	EventTypeGroupDelete       EventType = "group.delete"
	EventTypeGroupUsersAdd     EventType = "group.users_add"
	EventTypeGroupUsersRemove  EventType = "group.users_remove"

	// Item link events
	EventTypeItemReadGroupsAdd    EventType = "item.read_groups_add"
	EventTypeItemReadGroupsRemove EventType = "item.read_groups_remove"
	EventTypeItemEditGroupsAdd    EventType = "item.edit_groups_add"
	EventTypeItemEditGroupsRemove EventType = "item.edit_groups_remove"
	EventTypeItemEditGroupsClear  EventType = "item.edit_groups_clear"

	// Access decisions
	EventTypeAccessDenied EventType = "access.denied"

	// Configuration events
	EventTypeConfigChange EventType = "config.change"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information. A nil ActorID means the system acted on its
	// own, for example during a propagation cascade.
	ActorID *int64 `json:"actor_id,omitempty"`

	// Subject information
	GroupID *int64  `json:"group_id,omitempty"`
	ItemID  *int64  `json:"item_id,omitempty"`
	UserIDs []int64 `json:"user_ids,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`

	// Additional details
	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Filter describes an audit trail search
type Filter struct {
	EventTypes []EventType
	ActorID    *int64
	GroupID    *int64
	ItemID     *int64
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// id64 returns a pointer when the ID is set, nil for the zero ID.
func id64(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
