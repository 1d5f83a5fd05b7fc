// Package genai provides the LLM gateway for PageSmith using the OpenAI API.
//
// All gateway calls carry a bounded timeout and are retried with exponential
// backoff; rate-limit signals add an extra wait before the next attempt.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/PageSmith/PageSmith/internal/models"
)

// Default gateway configuration constants.
const (
	// DefaultModel is the chat model used for extraction and reply generation.
	DefaultModel = "gpt-4o-mini"
	// DefaultVisionModel is the model used for image style analysis.
	DefaultVisionModel = "gpt-4o-mini"
	// DefaultCallTimeout bounds a single gateway call. It must stay strictly
	// below the transport's own response-delivery timeout.
	DefaultCallTimeout = 25 * time.Second
	// DefaultMaxAttempts is the total number of attempts per gateway call.
	DefaultMaxAttempts = 3
	// DefaultRateLimitWait is the extra wait applied after an explicit
	// rate-limit signal, on top of the exponential backoff.
	DefaultRateLimitWait = 2 * time.Second
)

// ClientInterface is the single gateway abstraction the core depends on.
// One implementation exists per provider, selected at construction time;
// business logic never branches on provider names.
type ClientInterface interface {
	// ExtractFields asks the model to pull structured field values out of one
	// utterance. schemaHint describes the fields wanted for the current stage;
	// knownFields summarizes values already collected so the model does not
	// re-extract them.
	ExtractFields(ctx context.Context, utterance, schemaHint string, knownFields map[string]string) (models.PartialUpdate, error)

	// GenerateReply produces the assistant's next conversational message.
	GenerateReply(ctx context.Context, history []models.ConversationTurn, systemContext string) (string, error)

	// AnalyzeImageStyle derives a style suggestion from the primary image.
	// A nil suggestion with nil error means the model declined to answer.
	AnalyzeImageStyle(ctx context.Context, imagePath, itemName, description string) (*models.StyleSuggestion, error)
}

// Opts holds configuration options for the gateway client.
type Opts struct {
	APIKey        string
	BaseURL       string
	Model         string
	VisionModel   string
	Timeout       time.Duration
	MaxAttempts   int
	RateLimitWait time.Duration
}

// Option defines a configuration option for the gateway client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL sets a custom API endpoint (for compatible providers/proxies).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithVisionModel sets the model used for image analysis.
func WithVisionModel(model string) Option {
	return func(o *Opts) { o.VisionModel = model }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMaxAttempts sets the total attempts per call.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// Client implements ClientInterface against the OpenAI chat completions API.
type Client struct {
	chat          ChatService
	model         string
	visionModel   string
	timeout       time.Duration
	maxAttempts   int
	rateLimitWait time.Duration
}

// ChatService is the minimal surface of the OpenAI SDK the client uses.
// It exists so tests can substitute a mock.
type ChatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// NewClient initializes a gateway client. The API key falls back to the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:         DefaultModel,
		VisionModel:   DefaultVisionModel,
		Timeout:       DefaultCallTimeout,
		MaxAttempts:   DefaultMaxAttempts,
		RateLimitWait: DefaultRateLimitWait,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("GenAI client created", "model", cfg.Model, "vision_model", cfg.VisionModel, "timeout", cfg.Timeout, "max_attempts", cfg.MaxAttempts)

	return &Client{
		chat:          &cli.Chat.Completions,
		model:         cfg.Model,
		visionModel:   cfg.VisionModel,
		timeout:       cfg.Timeout,
		maxAttempts:   cfg.MaxAttempts,
		rateLimitWait: cfg.RateLimitWait,
	}, nil
}

// NewClientWithChatService creates a client with an injected chat service,
// used by tests to avoid real API calls.
func NewClientWithChatService(chat ChatService) *Client {
	return &Client{
		chat:          chat,
		model:         DefaultModel,
		visionModel:   DefaultVisionModel,
		timeout:       DefaultCallTimeout,
		maxAttempts:   DefaultMaxAttempts,
		rateLimitWait: time.Millisecond,
	}
}

// GenerateReply produces the assistant's next conversational message.
func (c *Client) GenerateReply(ctx context.Context, history []models.ConversationTurn, systemContext string) (string, error) {
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemContext)}
	for _, turn := range history {
		switch turn.Role {
		case models.TurnRoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(turn.Content))
		default:
			msgs = append(msgs, openai.UserMessage(turn.Content))
		}
	}

	resp, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	return resp, nil
}

// complete runs one chat completion with timeout, retry and backoff, and
// returns the first choice's content.
func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	var content string
	attempt := 0

	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.chat.New(callCtx, params)
		if err != nil {
			if isRateLimited(err) {
				slog.Warn("GenAI rate limited, adding extra wait", "attempt", attempt, "wait", c.rateLimitWait)
				select {
				case <-time.After(c.rateLimitWait):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices returned")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		slog.Warn("GenAI call failed, retrying", "error", err, "attempt", attempt, "wait", wait)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		slog.Error("GenAI call exhausted retries", "error", err, "attempts", attempt)
		return "", fmt.Errorf("%w: %v", models.ErrGatewayExhausted, err)
	}
	return content, nil
}

// isRateLimited reports whether the error carries an explicit rate-limit signal.
func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
