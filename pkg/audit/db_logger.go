package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DBLogger implements audit logging to a SQL database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the audit_logs table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id BIGINT,
		group_id BIGINT,
		item_id BIGINT,
		user_ids TEXT,
		request_id VARCHAR(100),
		message TEXT,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_group_id ON audit_logs(group_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_item_id ON audit_logs(item_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log writes an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = EventStatusSuccess
	}

	var userIDsJSON, metadataJSON []byte
	var err error
	if event.UserIDs != nil {
		userIDsJSON, err = json.Marshal(event.UserIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal user IDs: %w", err)
		}
	}
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status, actor_id, group_id, item_id,
			user_ids, request_id, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = l.db.ExecContext(ctx, query,
		event.Timestamp,
		string(event.EventType),
		string(event.Status),
		event.ActorID,
		event.GroupID,
		event.ItemID,
		nullableString(userIDsJSON),
		nullIfEmpty(event.RequestID),
		nullIfEmpty(event.Message),
		nullableString(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Search returns audit events matching the filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter Filter) ([]Event, error) {
	var conditions []string
	var args []interface{}
	next := 1

	arg := func(v interface{}) string {
		args = append(args, v)
		p := "$" + strconv.Itoa(next)
		next++
		return p
	}

	if len(filter.EventTypes) > 0 {
		ps := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			ps[i] = arg(string(et))
		}
		conditions = append(conditions, fmt.Sprintf("event_type IN (%s)", strings.Join(ps, ", ")))
	}
	if filter.ActorID != nil {
		conditions = append(conditions, fmt.Sprintf("actor_id = %s", arg(*filter.ActorID)))
	}
	if filter.GroupID != nil {
		conditions = append(conditions, fmt.Sprintf("group_id = %s", arg(*filter.GroupID)))
	}
	if filter.ItemID != nil {
		conditions = append(conditions, fmt.Sprintf("item_id = %s", arg(*filter.ItemID)))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("timestamp >= %s", arg(filter.Since)))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, fmt.Sprintf("timestamp <= %s", arg(filter.Until)))
	}

	query := `
		SELECT id, timestamp, event_type, status, actor_id, group_id,
		       item_id, user_ids, request_id, message, metadata
		FROM audit_logs
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var event Event
		var eventType, status string
		var userIDs, requestID, message, metadata sql.NullString

		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&eventType,
			&status,
			&event.ActorID,
			&event.GroupID,
			&event.ItemID,
			&userIDs,
			&requestID,
			&message,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		event.EventType = EventType(eventType)
		event.Status = EventStatus(status)
		event.RequestID = requestID.String
		event.Message = message.String

		if userIDs.Valid && userIDs.String != "" {
			if err := json.Unmarshal([]byte(userIDs.String), &event.UserIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal user IDs: %w", err)
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}

	return result, nil
}

// Stats returns event counts by type since the given time. A zero time
// counts the whole trail.
func (l *DBLogger) Stats(ctx context.Context, since time.Time) (map[EventType]int, error) {
	query := "SELECT event_type, COUNT(*) FROM audit_logs"
	var args []interface{}
	if !since.IsZero() {
		query += " WHERE timestamp >= $1"
		args = append(args, since)
	}
	query += " GROUP BY event_type"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	defer rows.Close()

	stats := make(map[EventType]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit stats: %w", err)
		}
		stats[EventType(eventType)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	return stats, nil
}

// Close closes the logger. The underlying connection is shared and
// stays open.
func (l *DBLogger) Close() error {
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
