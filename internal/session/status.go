package session

import (
	"time"

	"github.com/PageSmith/PageSmith/internal/flow"
	"github.com/PageSmith/PageSmith/internal/models"
)

// Status is a read-only snapshot of one session for the ops API.
type Status struct {
	UserID       string       `json:"user_id"`
	Mode         models.Mode  `json:"mode"`
	Stage        models.Stage `json:"stage"`
	Complete     bool         `json:"complete"`
	Missing      []string     `json:"missing,omitempty"`
	Items        int          `json:"items"`
	Attachments  int          `json:"attachments"`
	Turns        int          `json:"turns"`
	LastActivity time.Time    `json:"last_activity"`
}

// SessionStatus reports the current state of a user's session. Sessions not
// held in memory are read from the store without being registered.
func (m *Manager) SessionStatus(userID string) (*Status, error) {
	var s *models.Session

	if entry := m.registry.Get(userID); entry != nil {
		entry.Lock()
		if entry.Session != nil {
			snapshot := *entry.Session
			s = &snapshot
		}
		entry.Unlock()
	}

	if s == nil {
		blob, err := m.store.GetSession(userID)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			return nil, models.ErrSessionNotFound
		}
		s, err = Restore(blob)
		if err != nil {
			return nil, err
		}
	}

	report := flow.CheckStage(s)
	return &Status{
		UserID:       s.UserID,
		Mode:         s.Mode,
		Stage:        s.Stage,
		Complete:     report.Complete,
		Missing:      report.Missing,
		Items:        len(s.Data.Items),
		Attachments:  len(s.Data.Attachments),
		Turns:        len(s.History),
		LastActivity: s.LastActivity,
	}, nil
}
