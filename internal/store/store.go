// Package store provides storage backends for PageSmith sessions.
//
// It includes an in-memory store for tests and single-process deployments,
// plus SQLite and PostgreSQL backed stores for durable persistence.
package store

import (
	"errors"
	"sync"
)

// ErrListUnsupported is returned by backends that cannot enumerate sessions.
// Startup recovery is skipped for such backends.
var ErrListUnsupported = errors.New("store backend does not support listing sessions")

// Store is the session persistence contract. Sessions are stored as opaque
// serialized blobs keyed by user id. A missing session is (nil, nil), not an
// error; errors mean the backend itself failed.
type Store interface {
	// GetSession retrieves the serialized session for a user, or nil if absent.
	GetSession(userID string) ([]byte, error)

	// SaveSession stores or replaces the serialized session for a user.
	SaveSession(userID string, blob []byte) error

	// DeleteSession removes the persisted session for a user. Deleting an
	// absent session is not an error.
	DeleteSession(userID string) error

	// ListSessions returns all persisted sessions keyed by user id, for
	// startup recovery. Backends that cannot enumerate return ErrListUnsupported.
	ListSessions() (map[string][]byte, error)

	// Close releases backend resources.
	Close() error
}

// InMemoryStore is a thread-safe in-memory session store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]byte)}
}

func (s *InMemoryStore) GetSession(userID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	// Copy so callers cannot mutate the stored blob.
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (s *InMemoryStore) SaveSession(userID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(blob))
	copy(stored, blob)
	s.sessions[userID] = stored
	return nil
}

func (s *InMemoryStore) DeleteSession(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *InMemoryStore) ListSessions() (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.sessions))
	for id, blob := range s.sessions {
		cp := make([]byte, len(blob))
		copy(cp, blob)
		out[id] = cp
	}
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
