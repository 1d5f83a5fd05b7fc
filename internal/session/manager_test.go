package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PageSmith/PageSmith/internal/attachments"
	"github.com/PageSmith/PageSmith/internal/models"
	"github.com/PageSmith/PageSmith/internal/renderer"
	"github.com/PageSmith/PageSmith/internal/store"
)

// mockGateway implements genai.ClientInterface with canned behavior.
type mockGateway struct {
	mu            sync.Mutex
	extractResp   models.PartialUpdate
	extractErr    error
	replyText     string
	replyErr      error
	styleResp     *models.StyleSuggestion
	extractCalls  int
	replyCalls    int
	analyzeCalls  int
	analyzedPaths []string
}

func (m *mockGateway) ExtractFields(ctx context.Context, utterance, schemaHint string, knownFields map[string]string) (models.PartialUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractCalls++
	return m.extractResp, m.extractErr
}

func (m *mockGateway) GenerateReply(ctx context.Context, history []models.ConversationTurn, systemContext string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyCalls++
	return m.replyText, m.replyErr
}

func (m *mockGateway) AnalyzeImageStyle(ctx context.Context, imagePath, itemName, description string) (*models.StyleSuggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyzeCalls++
	m.analyzedPaths = append(m.analyzedPaths, imagePath)
	return m.styleResp, nil
}

func (m *mockGateway) counts() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractCalls, m.replyCalls, m.analyzeCalls
}

// mockSender records outbound messages.
type mockSender struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockSender) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+": "+body)
	return nil
}

func (m *mockSender) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type gatewayIface interface {
	ExtractFields(ctx context.Context, utterance, schemaHint string, knownFields map[string]string) (models.PartialUpdate, error)
	GenerateReply(ctx context.Context, history []models.ConversationTurn, systemContext string) (string, error)
	AnalyzeImageStyle(ctx context.Context, imagePath, itemName, description string) (*models.StyleSuggestion, error)
}

func newTestManager(t *testing.T, gateway gatewayIface) (*Manager, *store.InMemoryStore, *mockSender) {
	t.Helper()
	st := store.NewInMemoryStore()
	storage, err := attachments.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	rend, err := renderer.NewHTMLRenderer(t.TempDir())
	if err != nil {
		t.Fatalf("NewHTMLRenderer() error = %v", err)
	}
	sender := &mockSender{}
	m := NewManager(NewRegistry(), st, gateway, storage, rend, sender)
	t.Cleanup(m.Stop)
	return m, st, sender
}

func sendText(t *testing.T, m *Manager, userID, text string) models.Reply {
	t.Helper()
	reply, err := m.HandleEvent(context.Background(), models.InboundEvent{UserID: userID, Text: text})
	if err != nil {
		t.Fatalf("HandleEvent(%q) error = %v", text, err)
	}
	return reply
}

func tempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatalf("writing temp image: %v", err)
	}
	return path
}

func TestHandleEventRejectsEmptyUserID(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	_, err := m.HandleEvent(context.Background(), models.InboundEvent{Text: "hi"})
	if !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("error = %v, want ErrEmptyUserID", err)
	}
}

func TestModeSelectionTurn(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	reply := sendText(t, m, "u1", "hello there")
	if reply.Text != msgChooseMode {
		t.Errorf("reply = %q, want mode prompt", reply.Text)
	}
	if len(reply.Choices) != 2 {
		t.Errorf("choices = %v", reply.Choices)
	}
	if entry := m.registry.Get("u1"); entry == nil || entry.Session != nil {
		t.Error("mode prompt must not create a session")
	}

	reply = sendText(t, m, "u1", "a single offer please")
	if !strings.Contains(reply.Text, "single offer") {
		t.Errorf("mode confirmation = %q", reply.Text)
	}
	entry := m.registry.Get("u1")
	if entry == nil || entry.Session == nil {
		t.Fatal("session not created after mode choice")
	}
	if entry.Session.Mode != models.ModeSingleItem || entry.Session.Stage != models.StageGeneral {
		t.Errorf("session = %s/%s", entry.Session.Mode, entry.Session.Stage)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		text string
		want models.Mode
	}{
		{"single", models.ModeSingleItem},
		{"one offer sounds right", models.ModeSingleItem},
		{"1", models.ModeSingleItem},
		{"a catalog", models.ModeMultiItem},
		{"multi item", models.ModeMultiItem},
		{"2", models.ModeMultiItem},
		{"hello", ""},
		{"12", ""},
	}
	for _, tt := range tests {
		if got := parseMode(tt.text); got != tt.want {
			t.Errorf("parseMode(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestGeneralStageCompletionAdvancesToItems(t *testing.T) {
	m, st, _ := newTestManager(t, nil)
	sendText(t, m, "u1", "single")

	reply := sendText(t, m, "u1", "goal: sell candles\naudience: eco-conscious shoppers\nstyle: warm and rustic")
	entry := m.registry.Get("u1")
	if entry.Session.Stage != models.StageItems {
		t.Fatalf("stage = %s, want items", entry.Session.Stage)
	}
	if !strings.Contains(reply.Text, "name") {
		t.Errorf("fallback reply should list missing item fields, got %q", reply.Text)
	}

	blob, err := st.GetSession("u1")
	if err != nil || blob == nil {
		t.Fatalf("session not persisted: blob=%v err=%v", blob, err)
	}
	restored, err := Restore(blob)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Stage != models.StageItems {
		t.Errorf("persisted stage = %s", restored.Stage)
	}
}

func TestAttachmentOnlyTurnUsesCannedAck(t *testing.T) {
	gw := &mockGateway{replyText: "ok"}
	m, _, _ := newTestManager(t, gw)
	sendText(t, m, "u1", "single")
	sendText(t, m, "u1", "goal: sell candles\naudience: shoppers\nstyle: rustic")
	_, repliesBefore, _ := gw.counts()

	reply, err := m.HandleEvent(context.Background(), models.InboundEvent{
		UserID:      "u1",
		Attachments: []models.IncomingAttachment{{Path: tempImage(t), Kind: models.MediaKindImage}},
	})
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if !strings.Contains(reply.Text, "saved your photo as the main page image") {
		t.Errorf("ack = %q, want primary-image acknowledgement", reply.Text)
	}
	if _, repliesAfter, _ := gw.counts(); repliesAfter != repliesBefore {
		t.Error("attachment-only turn consulted the reply model")
	}

	entry := m.registry.Get("u1")
	if len(entry.Session.Data.Attachments) != 1 || entry.Session.Data.Attachments[0].Role != models.RolePrimaryImage {
		t.Errorf("attachments = %+v", entry.Session.Data.Attachments)
	}
}

func TestAttachmentAckNamesMediaKind(t *testing.T) {
	photo := attachmentAck([]models.AttachmentRecord{{Kind: models.MediaKindImage, Role: models.RoleGallery}})
	if want := "Got it, saved your photo as the gallery image."; photo.Text != want {
		t.Errorf("photo ack = %q, want %q", photo.Text, want)
	}
	video := attachmentAck([]models.AttachmentRecord{{Kind: models.MediaKindVideo, Role: models.RoleSecondaryVideo}})
	if want := "Got it, saved your video as the supporting video."; video.Text != want {
		t.Errorf("video ack = %q, want %q", video.Text, want)
	}
}

func TestGatewayExhaustionKeepsFieldsAndStage(t *testing.T) {
	gw := &mockGateway{extractErr: models.ErrGatewayExhausted}
	m, _, _ := newTestManager(t, gw)
	sendText(t, m, "u1", "single")

	reply := sendText(t, m, "u1", "goal: sell candles")
	if reply.Text != msgGatewayBusy {
		t.Errorf("reply = %q, want busy message", reply.Text)
	}
	entry := m.registry.Get("u1")
	if entry.Session.Stage != models.StageGeneral {
		t.Errorf("stage = %s, want general (no advancement on failure)", entry.Session.Stage)
	}
	if entry.Session.Data.GeneralInfo[models.FieldGoal] != "sell candles" {
		t.Error("deterministic field lost on gateway failure")
	}
}

func TestCancelCommandDestroysSession(t *testing.T) {
	m, st, _ := newTestManager(t, nil)
	sendText(t, m, "u1", "single")
	sendText(t, m, "u1", "goal: sell candles\naudience: shoppers\nstyle: rustic")

	reply := sendText(t, m, "u1", "/cancel")
	if reply.Text != msgCancelled {
		t.Errorf("reply = %q", reply.Text)
	}
	if m.registry.Get("u1") != nil {
		t.Error("registry entry survived /cancel")
	}
	if blob, _ := st.GetSession("u1"); blob != nil {
		t.Error("persisted session survived /cancel")
	}
}

func TestStatusCommand(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	sendText(t, m, "u1", "single")

	reply := sendText(t, m, "u1", "/status")
	if !strings.Contains(reply.Text, "general") {
		t.Errorf("status = %q, want current stage named", reply.Text)
	}
}

func TestUnknownCommand(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	sendText(t, m, "u1", "single")

	reply := sendText(t, m, "u1", "/frobnicate")
	if !strings.Contains(reply.Text, "/status") {
		t.Errorf("reply = %q, want command help", reply.Text)
	}
}

func TestFullSingleItemFlow(t *testing.T) {
	m, st, _ := newTestManager(t, nil)
	sendText(t, m, "u1", "single")
	sendText(t, m, "u1", "goal: sell candles\naudience: eco-conscious shoppers\nstyle: warm and rustic")

	reply, err := m.HandleEvent(context.Background(), models.InboundEvent{
		UserID:      "u1",
		Text:        "name: Beeswax Candle\ndescription: hand-poured beeswax\nprice: $12",
		Attachments: []models.IncomingAttachment{{Path: tempImage(t), Kind: models.MediaKindImage}},
	})
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	entry := m.registry.Get("u1")
	if entry.Session.Stage != models.StageVerification {
		t.Fatalf("stage = %s, want verification", entry.Session.Stage)
	}
	if !strings.Contains(reply.Text, "Beeswax Candle") {
		t.Errorf("verification summary = %q", reply.Text)
	}
	if len(reply.Choices) != 2 || reply.Choices[0] != "generate" {
		t.Errorf("choices = %v", reply.Choices)
	}

	reply = sendText(t, m, "u1", "generate")
	if !strings.Contains(reply.Text, "Your page is ready") {
		t.Fatalf("generation reply = %q", reply.Text)
	}
	indexPath := strings.TrimSpace(reply.Text[strings.LastIndex(reply.Text, " ")+1:])
	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("bundle index missing: %v", err)
	}
	attachmentsDir := filepath.Join(filepath.Dir(indexPath), "attachments")
	if _, err := os.Stat(attachmentsDir); err != nil {
		t.Errorf("attachments not transferred to bundle: %v", err)
	}

	// The dialogue is complete: state is gone everywhere.
	if m.registry.Get("u1") != nil {
		t.Error("registry entry survived generation")
	}
	if blob, _ := st.GetSession("u1"); blob != nil {
		t.Error("persisted session survived generation")
	}
}

func TestVerificationConfirmationRequiresPrimaryImage(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	sendText(t, m, "u1", "single")
	sendText(t, m, "u1", "goal: sell candles\naudience: shoppers\nstyle: rustic")
	sendText(t, m, "u1", "name: Beeswax Candle\ndescription: hand-poured\nprice: $12")

	entry := m.registry.Get("u1")
	if entry.Session.Stage != models.StageVerification {
		t.Fatalf("stage = %s, want verification", entry.Session.Stage)
	}

	reply := sendText(t, m, "u1", "generate")
	if !strings.Contains(reply.Text, "primary image") {
		t.Errorf("reply = %q, want missing primary image", reply.Text)
	}
	if entry.Session.Stage != models.StageVerification {
		t.Errorf("stage = %s, confirmation must not advance an incomplete session", entry.Session.Stage)
	}
}

func TestSessionRestoredFromStoreOnNextEvent(t *testing.T) {
	st := store.NewInMemoryStore()
	storage, _ := attachments.NewStorage(t.TempDir())
	rend, _ := renderer.NewHTMLRenderer(t.TempDir())

	first := NewManager(NewRegistry(), st, nil, storage, rend, &mockSender{})
	if _, err := first.HandleEvent(context.Background(), models.InboundEvent{UserID: "u1", Text: "single"}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if _, err := first.HandleEvent(context.Background(), models.InboundEvent{UserID: "u1", Text: "goal: sell candles\naudience: shoppers\nstyle: rustic"}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	first.Stop()

	// A new process with the same store picks the dialogue up mid-flight.
	second := NewManager(NewRegistry(), st, nil, storage, rend, &mockSender{})
	t.Cleanup(second.Stop)
	reply, err := second.HandleEvent(context.Background(), models.InboundEvent{UserID: "u1", Text: "/status"})
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if !strings.Contains(reply.Text, "items") {
		t.Errorf("status after restore = %q, want items stage", reply.Text)
	}
}

func TestEnrichmentScheduledOnce(t *testing.T) {
	gw := &mockGateway{replyText: "ok", styleResp: &models.StyleSuggestion{Colors: []string{"#aa5500"}}}
	m, _, _ := newTestManager(t, gw)
	sendText(t, m, "u1", "single")
	sendText(t, m, "u1", "goal: sell candles\naudience: shoppers\nstyle: rustic")

	if _, err := m.HandleEvent(context.Background(), models.InboundEvent{
		UserID:      "u1",
		Text:        "name: Beeswax Candle\ndescription: hand-poured beeswax\nprice: $12",
		Attachments: []models.IncomingAttachment{{Path: tempImage(t), Kind: models.MediaKindImage}},
	}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	entry := m.registry.Get("u1")
	entry.Lock()
	started := entry.Session.EnrichmentStarted
	entry.Unlock()
	if !started {
		t.Fatal("enrichment not scheduled with primary image and description present")
	}

	// Another turn must not re-submit.
	sendText(t, m, "u1", "/status")
	m.Stop()
	if _, _, analyses := gw.counts(); analyses != 1 {
		t.Errorf("analyze calls = %d, want exactly 1", analyses)
	}
	entry.Lock()
	defer entry.Unlock()
	if entry.Session.Data.Enrichment == nil || len(entry.Session.Data.Enrichment.Colors) != 1 {
		t.Errorf("enrichment result not merged: %+v", entry.Session.Data.Enrichment)
	}
}

func TestRecoverSessions(t *testing.T) {
	m, st, sender := newTestManager(t, nil)

	good := models.NewSession("alice", models.ModeSingleItem)
	good.Stage = models.StageItems
	blob, err := Serialize(good)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if err := st.SaveSession("alice", blob); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if err := st.SaveSession("bob", []byte(`{"user_id":"bob"}`)); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	done := models.NewSession("carol", models.ModeSingleItem)
	done.Stage = models.StageGeneration
	doneBlob, _ := Serialize(done)
	if err := st.SaveSession("carol", doneBlob); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	if err := m.RecoverSessions(context.Background()); err != nil {
		t.Fatalf("RecoverSessions() error = %v", err)
	}

	if m.registry.Get("alice") == nil {
		t.Error("valid session not recovered")
	}
	if m.registry.Get("bob") != nil {
		t.Error("mode-less blob recovered")
	}
	if blob, _ := st.GetSession("bob"); blob != nil {
		t.Error("unrecoverable blob not deleted")
	}
	if m.registry.Get("carol") != nil {
		t.Error("completed session recovered")
	}
	if blob, _ := st.GetSession("carol"); blob != nil {
		t.Error("completed session blob not deleted")
	}

	msgs := sender.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "alice") || !strings.Contains(msgs[0], "items") {
		t.Errorf("resume notifications = %v", msgs)
	}
}

func TestTurnBlockedOnDestroyedEntryRetries(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	userID := "491112223334"

	sendText(t, m, userID, "hello")
	sendText(t, m, userID, "single")

	entry := m.registry.Get(userID)
	if entry == nil {
		t.Fatal("expected a registered entry")
	}
	entry.Lock()

	replies := make(chan models.Reply, 1)
	go func() {
		reply, err := m.HandleEvent(context.Background(), models.InboundEvent{UserID: userID, Text: "catalog"})
		if err != nil {
			t.Errorf("HandleEvent() error = %v", err)
		}
		replies <- reply
	}()

	// Let the concurrent turn block on the entry lock, then destroy the
	// session the way /cancel does while holding it.
	time.Sleep(50 * time.Millisecond)
	m.destroyLocked(entry)
	entry.Unlock()

	reply := <-replies
	live := m.registry.Get(userID)
	if live == nil {
		t.Fatal("turn after destroy left no registry entry; it ran against the orphan")
	}
	if live == entry {
		t.Error("registry still holds the destroyed entry")
	}
	live.Lock()
	if live.Session == nil || live.Session.Mode != models.ModeMultiItem {
		t.Errorf("Session = %+v, want a fresh multi-item session from the retried turn", live.Session)
	}
	live.Unlock()
	if !strings.Contains(reply.Text, "catalog") {
		t.Errorf("reply = %q, want mode confirmation", reply.Text)
	}
}
