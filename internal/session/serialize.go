// Package session implements the per-user dispatcher: it routes inbound
// events, owns the in-memory session registry, persists and recovers session
// state, and supervises background enrichment and the idle reaper.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/PageSmith/PageSmith/internal/models"
)

// Serialize encodes a session as a JSON blob. History is truncated to the cap
// before encoding so stored blobs stay bounded.
func Serialize(s *models.Session) ([]byte, error) {
	if len(s.History) > models.MaxHistoryTurns {
		s.History = s.History[len(s.History)-models.MaxHistoryTurns:]
	}
	blob, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize session for %s: %w", s.UserID, err)
	}
	return blob, nil
}

// Restore decodes a session blob. Missing optional fields get defaults; a
// missing or unknown mode is a hard error and the session must be dropped,
// never guessed at.
func Restore(blob []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session blob: %w", err)
	}
	if s.Mode == "" {
		return nil, models.ErrMissingMode
	}
	if !models.IsValidMode(s.Mode) {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownMode, s.Mode)
	}
	if s.Stage == "" {
		s.Stage = models.StageGeneral
	}
	if !models.IsValidStage(s.Stage) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStage, s.Stage)
	}
	if s.Data.GeneralInfo == nil {
		s.Data.GeneralInfo = make(map[string]string)
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = time.Now()
	}
	return &s, nil
}
