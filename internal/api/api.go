// Package api provides HTTP handlers and the main API server logic for PageSmith.
//
// It exposes endpoints for health checks, session inspection, generic inbound
// event injection, and the Twilio inbound webhook. The API integrates with the
// session dispatcher and the messaging modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PageSmith/PageSmith/internal/messaging"
	"github.com/PageSmith/PageSmith/internal/session"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultReadTimeout bounds how long reading a request may take
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds how long writing a response may take
	DefaultWriteTimeout = 30 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address for the API server.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the HTTP endpoints and delegates to the session dispatcher.
type Server struct {
	addr       string
	manager    *session.Manager
	msgService messaging.Service
	httpServer *http.Server
}

// NewServer creates a new API server wired to the given dispatcher and
// messaging service.
func NewServer(manager *session.Manager, msgService messaging.Service, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("API server configured", "addr", cfg.Addr)
	return &Server{
		addr:       cfg.Addr,
		manager:    manager,
		msgService: msgService,
	}
}

// Start begins serving HTTP requests. It returns once the listener is
// running; serve errors are reported on the returned channel.
func (s *Server) Start() <-chan error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/sessions/", s.sessionHandler)
	mux.HandleFunc("/events", s.eventsHandler)

	// The Twilio webhook is only mounted when the transport is Twilio.
	if twilioService, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhook/twilio", twilioService.WebhookHandler)
		slog.Info("Twilio webhook endpoint mounted", "path", "/webhook/twilio")
	}

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server failed: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}
