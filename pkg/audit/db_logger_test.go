package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger, mock
}

func TestNewDBLogger_RequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}

func TestDBLogger_Log(t *testing.T) {
	logger, mock := newMockLogger(t)

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	actorID := int64(7)
	groupID := int64(3)
	event := &Event{
		EventType: EventTypeGroupUsersAdd,
		ActorID:   &actorID,
		GroupID:   &groupID,
		UserIDs:   []int64{1, 2},
		RequestID: "req-123",
	}

	err := logger.Log(context.Background(), event)
	require.NoError(t, err)

	// Defaults are filled on the way in.
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, EventStatusSuccess, event.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Log_InsertError(t *testing.T) {
	logger, mock := newMockLogger(t)

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnError(assert.AnError)

	err := logger.Log(context.Background(), &Event{EventType: EventTypeGroupCreate})
	assert.Error(t, err)
}

func TestDBLogger_Search(t *testing.T) {
	logger, mock := newMockLogger(t)

	now := time.Now().UTC()
	actorID := int64(7)
	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "event_type", "status", "actor_id", "group_id",
		"item_id", "user_ids", "request_id", "message", "metadata",
	}).AddRow(2, now, "group.users_add", "success", 7, 3, nil, "[1,2]", "req-123", nil, nil).
		AddRow(1, now.Add(-time.Minute), "group.create", "success", 7, 3, nil, nil, nil, nil, nil)

	mock.ExpectQuery("SELECT id, timestamp, event_type").
		WithArgs(int64(7)).
		WillReturnRows(rows)

	result, err := logger.Search(context.Background(), Filter{ActorID: &actorID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, result, 2)

	assert.Equal(t, EventTypeGroupUsersAdd, result[0].EventType)
	assert.Equal(t, []int64{1, 2}, result[0].UserIDs)
	assert.Equal(t, "req-123", result[0].RequestID)
	assert.Equal(t, EventTypeGroupCreate, result[1].EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Search_Filters(t *testing.T) {
	logger, mock := newMockLogger(t)

	groupID := int64(3)
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery("SELECT id, timestamp, event_type").
		WithArgs("group.delete", groupID, since).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "timestamp", "event_type", "status", "actor_id", "group_id",
			"item_id", "user_ids", "request_id", "message", "metadata",
		}))

	result, err := logger.Search(context.Background(), Filter{
		EventTypes: []EventType{EventTypeGroupDelete},
		GroupID:    &groupID,
		Since:      since,
	})
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Stats(t *testing.T) {
	logger, mock := newMockLogger(t)

	mock.ExpectQuery("SELECT event_type, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}).
			AddRow("group.create", 4).
			AddRow("access.denied", 2))

	stats, err := logger.Stats(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4, stats[EventTypeGroupCreate])
	assert.Equal(t, 2, stats[EventTypeAccessDenied])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_Stats_Since(t *testing.T) {
	logger, mock := newMockLogger(t)

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT event_type, COUNT").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}))

	stats, err := logger.Stats(context.Background(), since)
	require.NoError(t, err)
	assert.Empty(t, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}
