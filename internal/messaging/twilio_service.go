package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PageSmith/PageSmith/internal/models"
	"github.com/PageSmith/PageSmith/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API
type TwilioService struct {
	client     twiliowhatsapp.Sender // Could be real Twilio client or MockClient
	inboxDir   string                // directory for downloaded incoming media
	httpClient *http.Client
	receipts   chan models.Receipt
	responses  chan models.Response
	done       chan struct{}
	mu         sync.RWMutex
	stopped    bool
}

// NewTwilioService creates a new TwilioService wrapping the given Sender.
// Media attached to inbound webhook requests is downloaded into inboxDir.
func NewTwilioService(client twiliowhatsapp.Sender, inboxDir string) *TwilioService {
	service := &TwilioService{
		client:     client,
		inboxDir:   inboxDir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		receipts:   make(chan models.Receipt, DefaultChannelBufferSize),
		responses:  make(chan models.Response, DefaultChannelBufferSize),
		done:       make(chan struct{}),
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	// Canonicalize by removing all non-numeric characters
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	wasModified := recipient != canonical

	// Validate canonicalized phone number
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	// Log if canonicalization modified the recipient
	if wasModified {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// Start prepares the inbox directory. Inbound traffic arrives through the
// webhook handler, so there is no polling loop to launch.
func (s *TwilioService) Start(ctx context.Context) error {
	if s.inboxDir != "" {
		if err := os.MkdirAll(s.inboxDir, 0o755); err != nil {
			return fmt.Errorf("failed to create inbox directory %s: %w", s.inboxDir, err)
		}
	}
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.responses)
	}()

	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	err = s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		return err
	}

	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns the channel for sent message receipts
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel for incoming webhook messages
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

func (s *TwilioService) safeEmitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
	}
}

// WebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages, downloads any attached media, and emits them as
// models.Response into the Responses() channel.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	numMedia, _ := strconv.Atoi(r.FormValue("NumMedia"))

	if from == "" || (body == "" && numMedia == 0) {
		slog.Warn("Twilio webhook missing fields", "from", from, "num_media", numMedia)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	// Twilio delivers WhatsApp senders as "whatsapp:+1234567890".
	from = strings.TrimPrefix(from, "whatsapp:")

	var attachments []models.IncomingAttachment
	for i := 0; i < numMedia; i++ {
		mediaURL := r.FormValue(fmt.Sprintf("MediaUrl%d", i))
		contentType := r.FormValue(fmt.Sprintf("MediaContentType%d", i))
		if mediaURL == "" {
			continue
		}
		att, err := s.downloadMedia(r.Context(), mediaURL, contentType)
		if err != nil {
			slog.Error("Twilio webhook media download failed", "error", err, "url", mediaURL, "from", from)
			continue
		}
		attachments = append(attachments, att)
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", from, "body_length", len(body), "attachments", len(attachments))

	response := models.Response{
		From:        from,
		Body:        body,
		Attachments: attachments,
		Time:        time.Now().Unix(),
	}

	s.safeEmitResponse(response)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// downloadMedia fetches a Twilio-hosted media resource into the inbox directory.
func (s *TwilioService) downloadMedia(ctx context.Context, url, contentType string) (models.IncomingAttachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.IncomingAttachment{}, fmt.Errorf("failed to build media request: %w", err)
	}
	if twClient, ok := s.client.(*twiliowhatsapp.Client); ok {
		sid, token := twClient.Credentials()
		req.SetBasicAuth(sid, token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return models.IncomingAttachment{}, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.IncomingAttachment{}, fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	kind := models.MediaKindImage
	if strings.HasPrefix(contentType, "video/") {
		kind = models.MediaKindVideo
	}

	path := filepath.Join(s.inboxDir, uuid.NewString()+extensionForMimetype(contentType, kind))
	f, err := os.Create(path)
	if err != nil {
		return models.IncomingAttachment{}, fmt.Errorf("failed to create media file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return models.IncomingAttachment{}, fmt.Errorf("failed to write media file: %w", err)
	}

	slog.Debug("Twilio media downloaded", "path", path, "content_type", contentType)
	return models.IncomingAttachment{Path: path, Kind: kind}, nil
}

// safeEmitResponse safely pushes responses into the responses channel.
func (s *TwilioService) safeEmitResponse(response models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("TwilioService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", response.From)
	}
}
