package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSONResponse marshals payload and sends it with the given status.
// A payload that fails to marshal degrades to a plain 500 error body.
func writeJSONResponse(w http.ResponseWriter, statusCode int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode API response", "error", err)
		statusCode = http.StatusInternalServerError
		data = []byte(`{"status":"error","message":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write API response", "error", err)
	}
}
