package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PageSmith/PageSmith/internal/models"
	"github.com/PageSmith/PageSmith/internal/store"
)

// RecoverSessions restores every persisted session into the registry at
// process start and notifies each user that their dialogue resumed. A restore
// failure for one session is logged and never aborts the others.
func (m *Manager) RecoverSessions(ctx context.Context) error {
	blobs, err := m.store.ListSessions()
	if err != nil {
		if errors.Is(err, store.ErrListUnsupported) {
			slog.Warn("Session store cannot enumerate sessions, skipping recovery")
			return nil
		}
		return fmt.Errorf("failed to list persisted sessions: %w", err)
	}
	slog.Info("Starting session recovery", "persisted", len(blobs))

	recovered := 0
	dropped := 0
	for userID, blob := range blobs {
		s, err := Restore(blob)
		if err != nil {
			slog.Error("Dropping unrecoverable session", "error", err, "userID", userID)
			if delErr := m.store.DeleteSession(userID); delErr != nil {
				slog.Error("Failed to delete unrecoverable session", "error", delErr, "userID", userID)
			}
			dropped++
			continue
		}
		if s.Stage == models.StageGeneration {
			// Terminal stage persisted mid-hand-off; nothing left to resume.
			slog.Debug("Skipping completed session", "userID", userID)
			if delErr := m.store.DeleteSession(userID); delErr != nil {
				slog.Error("Failed to delete completed session", "error", delErr, "userID", userID)
			}
			continue
		}
		m.registry.Put(s)
		recovered++

		if m.sender != nil {
			if err := m.sender.SendMessage(ctx, userID, fmt.Sprintf(msgResumed, s.Stage)); err != nil {
				slog.Warn("Failed to send resume notification", "error", err, "userID", userID)
			}
		}
	}

	slog.Info("Session recovery completed", "recovered", recovered, "dropped", dropped)
	return nil
}
