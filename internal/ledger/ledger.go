// Package ledger provides an append-only event history for relayd.
// It records relay switches and settings changes for auditing.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventRelaySwitched EventType = "relay_switched"
	EventConfigApplied EventType = "config_applied"
	EventConfigReset   EventType = "config_reset"
	EventClockSynced   EventType = "clock_synced"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        string         `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
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

// Append adds a new event to the ledger and returns its id
func (l *Ledger) Append(eventType EventType, source string, payload map[string]any) (string, error) {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	id := uuid.NewString()
	ts := l.now().UTC().UnixMilli()

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_id, event_type, timestamp, payload, source) VALUES (?, ?, ?, ?, ?)`,
		id, string(eventType), ts, string(payloadJSON), source,
	)
	if err != nil {
		return "", fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	return id, nil
}

// Recent returns the newest entries first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT event_id, event_type, timestamp, payload, source
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT event_id, event_type, timestamp, payload, source
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source); err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		if source.Valid {
			entry.Source = source.String
		}

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
