package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/teacaddy/internal/reconcile"
)

type StateHandler struct {
	engine *reconcile.Engine
	logger *slog.Logger
}

func NewStateHandler(engine *reconcile.Engine, logger *slog.Logger) *StateHandler {
	return &StateHandler{engine: engine, logger: logger}
}

func (h *StateHandler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.State(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to read state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Sync pushes both collections now. With ?merge=true it runs a merge pass
// instead.
func (h *StateHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var err error
	if r.URL.Query().Get("merge") == "true" {
		err = h.engine.Reconcile(r.Context())
	} else {
		err = h.engine.SyncNow(r.Context())
	}
	if err != nil {
		writeError(w, h.logger, "sync failed", err)
		return
	}
	h.State(w, r)
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
