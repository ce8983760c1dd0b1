package settings

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/relayd/internal/storage"
)

const (
	kind     = "settings"
	recordID = "device"
)

// Repository persists the single device record.
type Repository struct {
	store *storage.TypedStore[Record]
}

// NewRepository creates a repository on top of the state store.
func NewRepository(store *storage.Store) *Repository {
	return &Repository{store: storage.NewTypedStore[Record](store, kind)}
}

// Load returns the stored record and true, or Default() and false when
// nothing usable is stored. Corrupt records are logged, never fatal.
func (r *Repository) Load() (Record, bool) {
	rec, version, err := r.store.Get(recordID)
	if err != nil {
		log.Warn().Err(err).Int64("version", version).Msg("Stored settings unreadable, using defaults")
		return Default(), false
	}
	if version == 0 {
		return Default(), false
	}
	if rec.DisplayName == "" {
		rec.DisplayName = DefaultDisplayName
	}
	return rec, true
}

// Save replaces the stored record and returns its new version.
func (r *Repository) Save(rec Record) (int64, error) {
	version, err := r.store.Set(recordID, rec)
	if err != nil {
		return 0, fmt.Errorf("failed to save settings: %w", err)
	}
	return version, nil
}

// Reset deletes the stored record.
func (r *Repository) Reset() error {
	if err := r.store.Delete(recordID); err != nil {
		return fmt.Errorf("failed to reset settings: %w", err)
	}
	return nil
}
