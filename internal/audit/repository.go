// Package audit persists link-session lifecycle events — REGISTER,
// DEREGISTER, CONNECT, DISCONNECT, and session open/close — to a local
// SQLite file for operational forensics. It stores no device state: what
// a device's properties were at any point in time is out of scope, only
// the fact that a session did something.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of session-lifecycle event recorded.
type Action string

const (
	ActionRegister     Action = "register"
	ActionDeregister   Action = "deregister"
	ActionConnect      Action = "connect"
	ActionDisconnect   Action = "disconnect"
	ActionSessionOpen  Action = "session_open"
	ActionSessionClose Action = "session_close"
)

// Event represents a single audit trail entry.
type Event struct {
	ID         string         `json:"id"`
	Action     Action         `json:"action"`
	DeviceID   string         `json:"device_id,omitempty"`
	ConnID     string         `json:"conn_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Filter controls which events List returns.
type Filter struct {
	Action   Action // optional: filter by action
	DeviceID string // optional: filter by device id
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains the paginated event results.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the interface for audit event operations.
type Repository interface {
	Record(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository records and queries session events in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an audit repository backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a new event. ID and OccurredAt are generated if empty.
func (r *SQLiteRepository) Record(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	var detailsJSON *string
	if event.Details != nil {
		b, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_events (id, action, device_id, conn_id, source, details, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Action),
		nullableString(event.DeviceID), nullableString(event.ConnID),
		event.Source, detailsJSON,
		event.OccurredAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or s itself otherwise. Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// WHERE is built entirely from parameterised conditions above, never
	// from raw user input.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM session_events %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit events: %w", err)
	}

	query := fmt.Sprintf(
		"SELECT id, action, device_id, conn_id, source, details, occurred_at FROM session_events %s ORDER BY occurred_at DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var action string
		var deviceID, connID, detailsJSON sql.NullString
		var occurredAt string

		if err := rows.Scan(&event.ID, &action, &deviceID, &connID, &event.Source, &detailsJSON, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		event.Action = Action(action)

		if deviceID.Valid {
			event.DeviceID = deviceID.String
		}
		if connID.Valid {
			event.ConnID = connID.String
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				event.Details = details
			}
		}

		t, err := time.Parse(time.RFC3339, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit event timestamp %q: %w", occurredAt, err)
		}
		event.OccurredAt = t

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}

	if events == nil {
		events = []Event{}
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
