package session

import (
	"log/slog"
	"sync"

	"github.com/PageSmith/PageSmith/internal/models"
)

// Entry is one registered session plus its per-session exclusion lock.
// Holders of the lock own the session exclusively: at most one turn, one
// enrichment merge, or one reaper eviction mutates a session at a time.
type Entry struct {
	mu      sync.Mutex
	Session *models.Session
	// Dirty marks a session whose last persistence write failed, so the next
	// successful write is prioritized.
	Dirty bool
	// dead marks an entry removed from the registry while other goroutines
	// may still be blocked on its lock. Those goroutines must discard the
	// entry and re-fetch from the registry.
	dead bool
}

// Lock acquires the per-session exclusion.
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases the per-session exclusion.
func (e *Entry) Unlock() { e.mu.Unlock() }

// TryLock acquires the exclusion only if the session is not mid-turn.
// The reaper uses it to skip actively processing sessions.
func (e *Entry) TryLock() bool { return e.mu.TryLock() }

// Registry is the injectable in-memory session registry shared by all
// per-session actors and the reaper. The registry lock protects only the map;
// session state is protected by each entry's own lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Get returns the entry for a user, or nil if not registered.
func (r *Registry) Get(userID string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[userID]
}

// GetOrCreate returns the entry for a user, creating an empty one if needed.
// The second return reports whether the entry was created.
func (r *Registry) GetOrCreate(userID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[userID]; ok {
		return e, false
	}
	e := &Entry{}
	r.entries[userID] = e
	slog.Debug("Registry entry created", "userID", userID)
	return e, true
}

// Put registers a restored session, replacing any existing entry.
func (r *Registry) Put(s *models.Session) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &Entry{Session: s}
	r.entries[s.UserID] = e
	return e
}

// Delete removes a user's entry. Callers must hold the entry's lock.
func (r *Registry) Delete(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, userID)
	slog.Debug("Registry entry deleted", "userID", userID)
}

// UserIDs returns a snapshot of registered user ids. The reaper iterates the
// snapshot so it never holds the registry lock while touching sessions.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
