package session

import (
	"errors"
	"testing"

	"github.com/PageSmith/PageSmith/internal/models"
)

func TestSessionStatusInMemory(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	sendText(t, m, "u1", "single")
	sendText(t, m, "u1", "goal: sell candles")

	status, err := m.SessionStatus("u1")
	if err != nil {
		t.Fatalf("SessionStatus() error = %v", err)
	}
	if status.UserID != "u1" || status.Mode != models.ModeSingleItem || status.Stage != models.StageGeneral {
		t.Errorf("status header = %s/%s/%s", status.UserID, status.Mode, status.Stage)
	}
	if status.Complete {
		t.Error("status complete with audience and style missing")
	}
	if len(status.Missing) != 2 {
		t.Errorf("missing = %v", status.Missing)
	}
}

func TestSessionStatusFromStore(t *testing.T) {
	m, st, _ := newTestManager(t, nil)

	s := models.NewSession("offline", models.ModeSingleItem)
	s.Stage = models.StageItems
	blob, err := Serialize(s)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if err := st.SaveSession("offline", blob); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	status, err := m.SessionStatus("offline")
	if err != nil {
		t.Fatalf("SessionStatus() error = %v", err)
	}
	if status.Stage != models.StageItems {
		t.Errorf("stage = %s", status.Stage)
	}
	// Reading the status must not pull the session into memory.
	if m.registry.Get("offline") != nil {
		t.Error("status read registered the session")
	}
}

func TestSessionStatusNotFound(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	if _, err := m.SessionStatus("ghost"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}
