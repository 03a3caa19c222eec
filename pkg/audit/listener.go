package audit

import (
	"context"
	"fmt"

	"github.com/groupgate/groupgate/pkg/events"
	"github.com/groupgate/groupgate/pkg/observability"
)

// Recorder turns access change events into audit trail entries. It is
// registered on the event dispatcher alongside the functional
// listeners, so every group and link mutation leaves a record.
type Recorder struct {
	logger Logger
}

// NewRecorder creates an audit recorder writing to the given logger.
func NewRecorder(logger Logger) *Recorder {
	return &Recorder{logger: logger}
}

var eventTypeMap = map[events.Type]EventType{
	events.TypeGroupCreated:          EventTypeGroupCreate,
	events.TypeGroupUpdated:          EventTypeGroupUpdate,
	events.TypeGroupDeleted:          EventTypeGroupDelete,
	events.TypeGroupUsersAdded:       EventTypeGroupUsersAdd,
	events.TypeGroupUsersRemoved:     EventTypeGroupUsersRemove,
	events.TypeItemReadGroupsAdded:   EventTypeItemReadGroupsAdd,
	events.TypeItemReadGroupsRemoved: EventTypeItemReadGroupsRemove,
	events.TypeItemEditGroupsAdded:   EventTypeItemEditGroupsAdd,
	events.TypeItemEditGroupsRemoved: EventTypeItemEditGroupsRemove,
	events.TypeItemEditGroupsCleared: EventTypeItemEditGroupsClear,
}

// HandleAccessChange records the change in the audit trail.
func (r *Recorder) HandleAccessChange(ctx context.Context, event *events.Event) error {
	eventType, ok := eventTypeMap[event.Type]
	if !ok {
		return nil
	}

	entry := &Event{
		Timestamp: event.At,
		EventType: eventType,
		Status:    EventStatusSuccess,
		ActorID:   id64(event.ActorID),
		GroupID:   id64(event.GroupID),
		ItemID:    id64(event.ItemID),
		UserIDs:   event.UserIDs,
		RequestID: observability.GetRequestID(ctx),
	}
	if len(event.GroupIDs) > 0 {
		entry.Metadata = map[string]interface{}{"group_ids": event.GroupIDs}
	}
	if event.SuppressCascade {
		entry.Message = "propagated change"
	}

	return r.logger.Log(ctx, entry)
}

// RecordDenial writes an access denial to the audit trail.
func (r *Recorder) RecordDenial(ctx context.Context, userID, itemID int64, operation string) error {
	entry := &Event{
		EventType: EventTypeAccessDenied,
		Status:    EventStatusDenied,
		ActorID:   id64(userID),
		ItemID:    id64(itemID),
		RequestID: observability.GetRequestID(ctx),
		Message:   fmt.Sprintf("%s access denied", operation),
	}
	return r.logger.Log(ctx, entry)
}

// RecordConfigChange writes a configuration change to the audit trail.
func (r *Recorder) RecordConfigChange(ctx context.Context, actorID int64, detail string) error {
	entry := &Event{
		EventType: EventTypeConfigChange,
		Status:    EventStatusSuccess,
		ActorID:   id64(actorID),
		RequestID: observability.GetRequestID(ctx),
		Message:   detail,
	}
	return r.logger.Log(ctx, entry)
}
