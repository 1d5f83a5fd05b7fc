package session

import (
	"log/slog"
	"time"
)

// DefaultIdleThreshold is how long a session may sit without activity before
// the reaper evicts it.
const DefaultIdleThreshold = 24 * time.Hour

// Reaper periodically evicts sessions inactive beyond a threshold, releasing
// their attachment storage and persisted state. It runs concurrently with
// ordinary turn processing; per-session TryLock guarantees it never touches a
// session that is mid-turn, and no cross-session lock is ever taken.
type Reaper struct {
	manager   *Manager
	threshold time.Duration
}

// NewReaper creates a reaper with the given inactivity threshold.
func NewReaper(manager *Manager, threshold time.Duration) *Reaper {
	return &Reaper{manager: manager, threshold: threshold}
}

// Sweep runs one eviction pass over the registry snapshot.
func (r *Reaper) Sweep() {
	evicted := 0
	for _, userID := range r.manager.registry.UserIDs() {
		entry := r.manager.registry.Get(userID)
		if entry == nil {
			continue
		}
		if !entry.TryLock() {
			// Mid-turn or mid-merge; next sweep will see it.
			slog.Debug("Reaper skipping busy session", "userID", userID)
			continue
		}
		if r.evictIfIdle(entry, userID) {
			evicted++
		}
		entry.Unlock()
	}
	if evicted > 0 {
		slog.Info("Reaper sweep completed", "evicted", evicted, "remaining", r.manager.registry.Len())
	}
}

// evictIfIdle evicts the locked entry if its last activity is strictly older
// than the threshold. Entries without a session are leftover mode-selection
// prompts and are removed outright.
func (r *Reaper) evictIfIdle(entry *Entry, userID string) bool {
	s := entry.Session
	if s == nil {
		entry.dead = true
		r.manager.registry.Delete(userID)
		return false
	}
	if time.Since(s.LastActivity) <= r.threshold {
		return false
	}
	slog.Info("Reaper evicting idle session", "userID", userID, "lastActivity", s.LastActivity, "stage", s.Stage)
	r.manager.destroyLocked(entry)
	return true
}
