package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/PageSmith/PageSmith/internal/models"
	"github.com/PageSmith/PageSmith/internal/whatsapp"
)

func TestWhatsAppValidateAndCanonicalizeRecipient(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient(), t.TempDir())

	got, err := service.ValidateAndCanonicalizeRecipient("+49 (155) 5123-4567")
	if err != nil {
		t.Fatalf("ValidateAndCanonicalizeRecipient() error = %v", err)
	}
	if got != "4915551234567" {
		t.Errorf("canonical = %q", got)
	}

	if _, err := service.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("empty recipient accepted")
	}
	if _, err := service.ValidateAndCanonicalizeRecipient("007"); err == nil {
		t.Error("too-short recipient accepted")
	}
}

func TestWhatsAppSendMessageEmitsReceipt(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient(), t.TempDir())
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := service.SendMessage(context.Background(), "+491234567", "hello"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
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

func TestWhatsAppSendMessageRejectsInvalidRecipient(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient(), t.TempDir())
	if err := service.SendMessage(context.Background(), "not-a-number", "hello"); err == nil {
		t.Error("invalid recipient accepted")
	}
}

func TestExtensionForMimetype(t *testing.T) {
	tests := []struct {
		mimetype string
		kind     models.MediaKind
		want     string
	}{
		{"image/jpeg", models.MediaKindImage, ".jpg"},
		{"image/png", models.MediaKindImage, ".png"},
		{"image/webp", models.MediaKindImage, ".webp"},
		{"video/mp4", models.MediaKindVideo, ".mp4"},
		{"video/3gpp", models.MediaKindVideo, ".3gp"},
		{"application/octet-stream", models.MediaKindVideo, ".mp4"},
		{"", models.MediaKindImage, ".jpg"},
	}
	for _, tt := range tests {
		if got := extensionForMimetype(tt.mimetype, tt.kind); got != tt.want {
			t.Errorf("extensionForMimetype(%q, %v) = %q, want %q", tt.mimetype, tt.kind, got, tt.want)
		}
	}
}
