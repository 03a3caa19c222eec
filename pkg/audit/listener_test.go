package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupgate/groupgate/pkg/events"
)

type captureLogger struct {
	entries []*Event
}

func (c *captureLogger) Log(ctx context.Context, event *Event) error {
	c.entries = append(c.entries, event)
	return nil
}

func (c *captureLogger) Close() error { return nil }

func TestRecorder_HandleAccessChange(t *testing.T) {
	capture := &captureLogger{}
	recorder := NewRecorder(capture)
	ctx := context.Background()

	event := events.New(events.TypeGroupUsersAdded)
	event.GroupID = 3
	event.UserIDs = []int64{1, 2}
	event.ActorID = 7

	require.NoError(t, recorder.HandleAccessChange(ctx, event))
	require.Len(t, capture.entries, 1)

	entry := capture.entries[0]
	assert.Equal(t, EventTypeGroupUsersAdd, entry.EventType)
	assert.Equal(t, EventStatusSuccess, entry.Status)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, int64(7), *entry.ActorID)
	require.NotNil(t, entry.GroupID)
	assert.Equal(t, int64(3), *entry.GroupID)
	assert.Equal(t, []int64{1, 2}, entry.UserIDs)
}

func TestRecorder_SystemActor(t *testing.T) {
	capture := &captureLogger{}
	recorder := NewRecorder(capture)

	event := events.New(events.TypeItemReadGroupsAdded)
	event.ItemID = 9
	event.GroupIDs = []int64{4}
	event.SuppressCascade = true

	require.NoError(t, recorder.HandleAccessChange(context.Background(), event))
	require.Len(t, capture.entries, 1)

	entry := capture.entries[0]
	assert.Nil(t, entry.ActorID)
	assert.Equal(t, "propagated change", entry.Message)
	assert.Equal(t, map[string]interface{}{"group_ids": []int64{4}}, entry.Metadata)
}

func TestRecorder_RecordDenial(t *testing.T) {
	capture := &captureLogger{}
	recorder := NewRecorder(capture)

	require.NoError(t, recorder.RecordDenial(context.Background(), 5, 9, "read"))
	require.Len(t, capture.entries, 1)

	entry := capture.entries[0]
	assert.Equal(t, EventTypeAccessDenied, entry.EventType)
	assert.Equal(t, EventStatusDenied, entry.Status)
	assert.Equal(t, "read access denied", entry.Message)
}

func TestRecorder_IgnoresUnknownTypes(t *testing.T) {
	capture := &captureLogger{}
	recorder := NewRecorder(capture)

	event := events.New(events.Type("something.else"))
	require.NoError(t, recorder.HandleAccessChange(context.Background(), event))
	assert.Empty(t, capture.entries)
}
