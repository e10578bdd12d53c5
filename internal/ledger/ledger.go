// Package ledger provides an append-only history of reconcile actions and
// host status reports for the current session.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventActionIssued   EventType = "action_issued"
	EventStatusReported EventType = "status_reported"
	EventCommandFailed  EventType = "command_failed"
	EventComponentStale EventType = "component_stale"
)

// DefaultLimit bounds queries that pass a non-positive limit.
const DefaultLimit = 100

// Entry represents a single event in the ledger
type Entry struct {
	ID         int64          `json:"id"`
	EventType  EventType      `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Controller string         `json:"controller,omitempty"`
	Component  string         `json:"component,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, controller, component, requestID string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO session_ledger (event_type, timestamp, controller, component, request_id, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		string(eventType), l.now().UTC().UnixMilli(), controller, component, requestID, string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	return nil
}

// Recent returns the newest entries first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, controller, component, request_id, payload
		FROM session_ledger
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// ByComponent returns the newest entries for one component id
func (l *Ledger) ByComponent(component string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, controller, component, request_id, payload
		FROM session_ledger
		WHERE component = ?
		ORDER BY id DESC
		LIMIT ?
	`, component, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// CountByType returns how many entries of eventType exist for component.
func (l *Ledger) CountByType(eventType EventType, component string) (int, error) {
	var n int
	err := l.db.QueryRow(
		`SELECT COUNT(*) FROM session_ledger WHERE event_type = ? AND component = ?`,
		string(eventType), component,
	).Scan(&n)
	return n, err
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var controller, component, requestID sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &controller, &component, &requestID, &payloadStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.Controller = controller.String
		entry.Component = component.String
		entry.RequestID = requestID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
