// Package prefs provides a YAML file backed store for per-user scale
// preferences: the preferred weight unit and the opaque consent / index pair
// maintained by the driver
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// UserPrefs holds the stored preferences of a single user
type UserPrefs struct {
	Unit    string `yaml:"unit"`
	Consent int    `yaml:"consent"`
	Index   int    `yaml:"index"`
}

type fileFormat struct {
	Users map[int]UserPrefs `yaml:"users"`
}

// Store denotes a YAML file backed preference store
type Store struct {
	path string

	mu    sync.Mutex
	users map[int]UserPrefs
}

// DefaultPath returns the default preference file path
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "prefs.yaml"
	}
	return filepath.Join(home, ".config", "btbodyscale", "prefs.yaml")
}

// New instantiates a store backed by the given path, loading existing
// preferences if the file exists
func New(path string) (*Store, error) {

	s := &Store{
		path:  path,
		users: make(map[int]UserPrefs),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read preference file: %w", err)
	}

	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse preference file: %w", err)
	}
	if file.Users != nil {
		s.users = file.Users
	}

	return s, nil
}

// UnitFor returns the preferred weight unit name of a user ("kg" if unset)
func (s *Store) UnitFor(userID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, exists := s.users[userID]; exists && u.Unit != "" {
		return u.Unit
	}

	return "kg"
}

// SetUnit persists the preferred weight unit name of a user
func (s *Store) SetUnit(userID int, unit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)
	u.Unit = unit
	s.users[userID] = u

	return s.saveLocked()
}

// Consent returns the stored consent / index pair of a user (-1 / -1 if unset)
func (s *Store) Consent(userID int) (consent, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[userID]
	if !exists {
		return -1, -1
	}

	return u.Consent, u.Index
}

// StoreConsent persists the consent / index pair of a user (read-modify-write)
func (s *Store) StoreConsent(userID, consent, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)
	u.Consent = consent
	u.Index = index
	s.users[userID] = u

	return s.saveLocked()
}

func (s *Store) userLocked(userID int) UserPrefs {
	if u, exists := s.users[userID]; exists {
		return u
	}

	return UserPrefs{Consent: -1, Index: -1}
}

func (s *Store) saveLocked() error {

	data, err := yaml.Marshal(fileFormat{Users: s.users})
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create preference directory: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}
