package storage

import (
	"encoding/json"
	"fmt"
)

// TypedStore wraps Store with JSON marshaling for a specific type.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a new typed store wrapper for the given kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{
		store: store,
		kind:  kind,
	}
}

// Kind returns the resource kind this store handles.
func (s *TypedStore[T]) Kind() string {
	return s.kind
}

// Get retrieves and unmarshals the state for an ID.
// Returns zero value and version 0 if not found. A payload that fails to
// decode is reported with its version so callers can tell it from absence.
func (s *TypedStore[T]) Get(id string) (value T, version int64, err error) {
	payload, version, err := s.store.Get(s.kind, id)
	if err != nil {
		return value, 0, err
	}

	if payload == nil {
		return value, 0, nil
	}

	if err := json.Unmarshal(payload, &value); err != nil {
		return value, version, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
	}

	return value, version, nil
}

// Set marshals and stores the state for an ID.
func (s *TypedStore[T]) Set(id string, value T) (int64, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal state: %w", err)
	}

	return s.store.Set(s.kind, id, payload)
}

// Delete removes the state for an ID.
func (s *TypedStore[T]) Delete(id string) error {
	return s.store.Delete(s.kind, id)
}

// Clear removes all state for this kind.
func (s *TypedStore[T]) Clear() error {
	return s.store.Clear(s.kind)
}
