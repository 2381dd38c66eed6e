package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

type Store struct {
	config StoreConfig
	events []ProvisionEvent
	mu     sync.RWMutex
}

type StoreConfig struct {
	Enabled   bool
	Path      string
	MaxEvents int
}

// ProvisionEvent records one settled provisioning operation. Events are
// an audit trail for operators; no scaling decision ever reads them.
type ProvisionEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Server         string    `json:"server"`
	Operation      string    `json:"operation"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// New creates a new store instance
func New(cfg StoreConfig) (*Store, error) {
	s := &Store{
		config: cfg,
		events: make([]ProvisionEvent, 0),
	}

	// Load existing events if file exists
	if cfg.Enabled && cfg.Path != "" {
		if err := s.load(); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load store: %w", err)
		}
	}

	return s, nil
}

// RecordEvent records a provisioning event
func (s *Store) RecordEvent(event ProvisionEvent) error {
	if !s.config.Enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	// Trim old events if we exceed max
	if len(s.events) > s.config.MaxEvents {
		s.events = s.events[len(s.events)-s.config.MaxEvents:]
	}

	// Persist to disk
	return s.persist()
}

// GetRecentEvents returns recent provisioning events
func (s *Store) GetRecentEvents(count int) []ProvisionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if count > len(s.events) {
		count = len(s.events)
	}

	return s.events[len(s.events)-count:]
}

// GetAllEvents returns all provisioning events
func (s *Store) GetAllEvents() []ProvisionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]ProvisionEvent(nil), s.events...)
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.config.Path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &s.events)
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	return os.WriteFile(s.config.Path, data, 0644)
}
