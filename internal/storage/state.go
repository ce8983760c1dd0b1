// Package storage provides versioned JSON state persisted in SQLite.
package storage

import (
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store provides generic versioned state storage with JSON payloads.
// State is keyed by (kind, id) and stored as JSON blobs with version tracking.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new generic state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves payload and version for a resource.
// Returns empty payload and version 0 if not found.
func (s *Store) Get(kind, id string) (payload []byte, version int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payloadStr string
	err = s.db.QueryRow(`
		SELECT payload, version FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payloadStr, &version)

	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	return []byte(payloadStr), version, nil
}

// Set replaces the payload and returns the new version.
// The first write of a resource gets version 1.
func (s *Store) Set(kind, id string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()

	var version int64
	err := s.db.QueryRow(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
		RETURNING version
	`, kind, id, string(payload), now).Scan(&version)
	if err != nil {
		return 0, err
	}

	log.Debug().
		Str("kind", kind).
		Str("id", id).
		Int64("version", version).
		Msg("Store.Set completed")

	return version, nil
}

// Delete removes a resource state entry.
func (s *Store) Delete(kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		DELETE FROM resource_state WHERE kind = ? AND id = ?
	`, kind, id)

	return err
}

// Clear removes all state for a kind. If kind is empty, clears all state.
func (s *Store) Clear(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.Exec(`DELETE FROM resource_state`)
	} else {
		_, err = s.db.Exec(`DELETE FROM resource_state WHERE kind = ?`, kind)
	}

	return err
}
