// Package testutil provides common test utilities and helpers for PageSmith tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/PageSmith/PageSmith/internal/attachments"
	"github.com/PageSmith/PageSmith/internal/genai"
	"github.com/PageSmith/PageSmith/internal/renderer"
	"github.com/PageSmith/PageSmith/internal/session"
	"github.com/PageSmith/PageSmith/internal/store"
)

// MockSender records outbound messages for assertions.
type MockSender struct {
	mu   sync.Mutex
	Sent []SentMessage
}

type SentMessage struct {
	To   string
	Body string
}

func (m *MockSender) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a snapshot of everything sent so far.
func (m *MockSender) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// NewTestManager creates a dispatcher with in-memory dependencies and
// temp-dir storage. gateway may be nil for deterministic-only tests.
// This centralizes the manager creation logic used across multiple test files.
func NewTestManager(t *testing.T, gateway genai.ClientInterface) (*session.Manager, *store.InMemoryStore, *MockSender) {
	t.Helper()

	st := store.NewInMemoryStore()
	storage, err := attachments.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create attachment storage: %v", err)
	}
	rend, err := renderer.NewHTMLRenderer(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create renderer: %v", err)
	}
	sender := &MockSender{}
	manager := session.NewManager(session.NewRegistry(), st, gateway, storage, rend, sender)
	t.Cleanup(manager.Stop)
	return manager, st, sender
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
