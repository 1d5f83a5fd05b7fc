// Package api provides HTTP handlers for PageSmith endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PageSmith/PageSmith/internal/models"
)

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	// Active session count as a liveness indicator for the dispatcher
	if s.manager != nil {
		healthData["active_sessions"] = s.manager.Registry().Len()
	}

	writeJSONResponse(w, http.StatusOK, healthData)
}

// sessionHandler handles GET /sessions/{id}, returning the collection state
// and completeness of one user's session.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sessionHandler: processing session request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.sessionHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	userID = strings.Trim(userID, "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing or invalid session id"))
		return
	}

	status, err := s.manager.SessionStatus(userID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			slog.Debug("Server.sessionHandler: session not found", "userID", userID)
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server.sessionHandler: failed to load session", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}

	slog.Debug("Server.sessionHandler: session status returned", "userID", userID, "stage", status.Stage)
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// eventsHandler handles POST /events, injecting an inbound user turn through
// the same path WhatsApp messages take. Useful for testing and for transports
// without a native integration.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.eventsHandler: processing event request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.eventsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var event models.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		slog.Warn("Server.eventsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	// Validate and canonicalize the user identifier using the messaging service
	canonicalID, err := s.msgService.ValidateAndCanonicalizeRecipient(event.UserID)
	if err != nil {
		slog.Warn("Server.eventsHandler: user validation failed", "error", err, "original_user", event.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	event.UserID = canonicalID

	reply, err := s.manager.HandleEvent(r.Context(), event)
	if err != nil {
		slog.Error("Server.eventsHandler: failed to handle event", "error", err, "userID", event.UserID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	slog.Info("Server.eventsHandler: event handled", "userID", event.UserID, "reply_length", len(reply.Text))
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}
