package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/teacaddy/internal/session"
)

type SessionHandler struct {
	session *session.Session
	logger  *slog.Logger
}

func NewSessionHandler(s *session.Session, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{session: s, logger: logger}
}

type sessionResponse struct {
	State    session.State     `json:"state"`
	Identity *session.Identity `json:"identity,omitempty"`
}

type loginRequest struct {
	Token string `json:"token"`
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{State: h.session.State(), Identity: h.session.Current()})
}

// Login signs in with a bearer access token. Merging starts in the
// background; watch /ws or poll /api/state for progress.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}
	id, err := h.session.Login(req.Token)
	if err != nil {
		writeError(w, h.logger, "login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: session.StateAuthenticated, Identity: id})
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout()
	writeJSON(w, http.StatusOK, sessionResponse{State: h.session.State()})
}
