// Package handler exposes the engine over a JSON HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/teacaddy/internal/model"
)

// mutationResponse carries a locally applied change. SyncError is set when
// the change could not reach the remote store yet.
type mutationResponse struct {
	Data      any    `json:"data"`
	SyncError string `json:"sync_error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalid), errors.Is(err, model.ErrFormat):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrImmutable):
		return http.StatusConflict
	case errors.Is(err, model.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status. Server errors are logged and their
// details withheld.
func writeError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= 500 {
		logger.Error(msg, "error", err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeMutation answers a mutation whose local write succeeded. A push
// failure is reported next to the data.
func writeMutation(w http.ResponseWriter, logger *slog.Logger, status int, msg string, result any, err error) {
	resp := mutationResponse{Data: result}
	if err != nil {
		logger.Warn(msg+": saved locally", "error", err)
		resp.SyncError = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDeletion answers a delete. The record is gone locally unless err
// fails for a reason other than the remote push.
func writeDeletion(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	if err != nil && !errors.Is(err, model.ErrRemote) {
		writeError(w, logger, msg, err)
		return
	}
	resp := mutationResponse{}
	if err != nil {
		logger.Warn(msg+": deleted locally", "error", err)
		resp.SyncError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
