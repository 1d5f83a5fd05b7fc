package messaging

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PageSmith/PageSmith/internal/models"
	"github.com/PageSmith/PageSmith/internal/twiliowhatsapp"
)

func postWebhookForm(t *testing.T, service *TwilioService, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	service.WebhookHandler(rr, req)
	return rr
}

func TestTwilioValidateAndCanonicalizeRecipient(t *testing.T) {
	service := NewTwilioService(twiliowhatsapp.NewMockClient(), t.TempDir())

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 123-4567", "15551234567", false},
		{"491234567", "491234567", false},
		{"whatsapp:+491234567", "491234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := service.ValidateAndCanonicalizeRecipient(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTwilioSendMessageEmitsReceipt(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	service := NewTwilioService(client, t.TempDir())
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := service.SendMessage(context.Background(), "+49 1234 567", "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(client.SentMessages) != 1 || client.SentMessages[0].To != "491234567" {
		t.Errorf("sent = %+v", client.SentMessages)
	}

	select {
	case receipt := <-service.Receipts():
		if receipt.To != "491234567" || receipt.Status != models.MessageStatusSent {
			t.Errorf("receipt = %+v", receipt)
		}
	case <-time.After(time.Second):
		t.Fatal("no receipt emitted")
	}
}

func TestTwilioSendMessageAfterStop(t *testing.T) {
	service := NewTwilioService(twiliowhatsapp.NewMockClient(), t.TempDir())
	if err := service.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := service.SendMessage(context.Background(), "491234567", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("error = %v, want ErrServiceStopped", err)
	}
	// Stop is idempotent.
	if err := service.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestTwilioWebhookEmitsResponse(t *testing.T) {
	service := NewTwilioService(twiliowhatsapp.NewMockClient(), t.TempDir())
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rr := postWebhookForm(t, service, url.Values{
		"From":     {"whatsapp:+491234567"},
		"Body":     {"goal: sell candles"},
		"NumMedia": {"0"},
	})
	if rr.Code != 200 {
		t.Fatalf("webhook status = %d", rr.Code)
	}

	select {
	case resp := <-service.Responses():
		if resp.From != "+491234567" {
			t.Errorf("from = %q", resp.From)
		}
		if resp.Body != "goal: sell candles" {
			t.Errorf("body = %q", resp.Body)
		}
		if len(resp.Attachments) != 0 {
			t.Errorf("attachments = %+v", resp.Attachments)
		}
	case <-time.After(time.Second):
		t.Fatal("no response emitted")
	}
}

func TestTwilioWebhookRejectsEmptyMessage(t *testing.T) {
	service := NewTwilioService(twiliowhatsapp.NewMockClient(), t.TempDir())

	rr := postWebhookForm(t, service, url.Values{"From": {"whatsapp:+491234567"}})
	if rr.Code != 400 {
		t.Errorf("empty message status = %d, want 400", rr.Code)
	}

	rr = postWebhookForm(t, service, url.Values{"Body": {"hi"}})
	if rr.Code != 400 {
		t.Errorf("missing sender status = %d, want 400", rr.Code)
	}
}

func TestTwilioWebhookDownloadsMedia(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer media.Close()

	service := NewTwilioService(twiliowhatsapp.NewMockClient(), t.TempDir())
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rr := postWebhookForm(t, service, url.Values{
		"From":              {"whatsapp:+491234567"},
		"Body":              {""},
		"NumMedia":          {"1"},
		"MediaUrl0":         {media.URL + "/media/0"},
		"MediaContentType0": {"image/jpeg"},
	})
	if rr.Code != 200 {
		t.Fatalf("webhook status = %d", rr.Code)
	}

	select {
	case resp := <-service.Responses():
		if len(resp.Attachments) != 1 {
			t.Fatalf("attachments = %+v", resp.Attachments)
		}
		att := resp.Attachments[0]
		if att.Kind != models.MediaKindImage {
			t.Errorf("kind = %v", att.Kind)
		}
		if !strings.HasSuffix(att.Path, ".jpg") {
			t.Errorf("path = %q, want .jpg extension", att.Path)
		}
		data, err := os.ReadFile(att.Path)
		if err != nil || string(data) != "jpeg-bytes" {
			t.Errorf("downloaded content = %q, err = %v", data, err)
		}
	case <-time.After(time.Second):
		t.Fatal("no response emitted")
	}
}
