package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"gemchat/internal/models"
)

const (
	settingsKey = "settings"
	sessionsKey = "sessions"
)

// Store reads and writes the two persisted documents.
type Store struct {
	kv     KV
	cipher *keyCipher
}

// NewStore builds a document store over kv.
func NewStore(kv KV) (*Store, error) {
	c, err := newKeyCipherFromEnv()
	if err != nil {
		return nil, err
	}
	return &Store{kv: kv, cipher: c}, nil
}

// LoadSettings returns nil when nothing usable is stored.
func (s *Store) LoadSettings(ctx context.Context) (*models.UserSettings, error) {
	raw, err := s.kv.Get(ctx, settingsKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load settings: %w", err)
	}
	var settings models.UserSettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		log.Printf("settings document unreadable, ignoring: %v", err)
		return nil, nil
	}
	key, err := s.cipher.open(settings.APIKey)
	if err != nil {
		log.Printf("settings api key unreadable, ignoring: %v", err)
		return nil, nil
	}
	settings.APIKey = key
	return &settings, nil
}

// SaveSettings writes the credential record.
func (s *Store) SaveSettings(ctx context.Context, settings models.UserSettings) error {
	if s.cipher != nil && settings.APIKey != "" {
		sealed, err := s.cipher.seal(settings.APIKey)
		if err != nil {
			return fmt.Errorf("seal api key: %w", err)
		}
		settings.APIKey = sealed
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.kv.Set(ctx, settingsKey, string(data)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// ClearSettings removes the credential record.
func (s *Store) ClearSettings(ctx context.Context) error {
	if err := s.kv.Delete(ctx, settingsKey); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return nil
}

// LoadSessions returns nil when nothing usable is stored.
func (s *Store) LoadSessions(ctx context.Context) ([]*models.Session, error) {
	raw, err := s.kv.Get(ctx, sessionsKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	var sessions []*models.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		log.Printf("sessions document unreadable, starting fresh: %v", err)
		return nil, nil
	}
	out := sessions[:0]
	for _, se := range sessions {
		if se != nil {
			out = append(out, se)
		}
	}
	return out, nil
}

// SaveSessions overwrites the sessions document.
func (s *Store) SaveSessions(ctx context.Context, sessions []*models.Session) error {
	if sessions == nil {
		sessions = []*models.Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	if err := s.kv.Set(ctx, sessionsKey, string(data)); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}
