// /internal/storage/storage.go
package storage

import (
	"fmt"
	"sync"

	"github.com/keshon/mina/datastore"
	"github.com/rs/zerolog"
)

const (
	keySettings  = "settings"
	keyReminders = "reminders"
	keyProfiles  = "profiles"
)

// Storage keeps all persisted state in memory. Every mutation rewrites the
// affected document; a failed write is logged and the in-memory value stays
// authoritative.
type Storage struct {
	ds  *datastore.DataStore
	log zerolog.Logger

	mu        sync.RWMutex
	settings  Settings
	reminders []Reminder
	profiles  map[string]*Profile
}

// New opens the datastore file and loads every document.
func New(filePath string, defaultVoice string, log zerolog.Logger) (*Storage, error) {
	ds, err := datastore.New(filePath)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		ds:       ds,
		log:      log,
		settings: defaultSettings(defaultVoice),
		profiles: map[string]*Profile{},
	}

	if _, err := ds.Get(keySettings, &s.settings); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if _, err := ds.Get(keyReminders, &s.reminders); err != nil {
		return nil, fmt.Errorf("load reminders: %w", err)
	}
	if _, err := ds.Get(keyProfiles, &s.profiles); err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	s.settings.normalize(defaultVoice)

	return s, nil
}

func (s *Storage) Close() error {
	return s.ds.Close()
}

// persist writes one document. Caller holds s.mu.
func (s *Storage) persist(key string, value any) {
	if err := s.ds.Put(key, value); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("failed to persist")
	}
}
