package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/reconcile"
	"github.com/go-chi/chi/v5"
)

type BrewLogHandler struct {
	engine *reconcile.Engine
	logger *slog.Logger
}

func NewBrewLogHandler(engine *reconcile.Engine, logger *slog.Logger) *BrewLogHandler {
	return &BrewLogHandler{engine: engine, logger: logger}
}

// brewLogRequest accepts tasting notes either as a list or as the comma
// separated text a form field produces.
type brewLogRequest struct {
	TeaID        string     `json:"teaId"`
	Date         *time.Time `json:"date"`
	WaterTemp    float64    `json:"waterTemp"`
	SteepTime    int        `json:"steepTime"`
	TeaAmount    *float64   `json:"teaAmount"`
	Rating       int        `json:"rating"`
	TastingNotes []string   `json:"tastingNotes"`
	NotesText    string     `json:"tastingNotesText"`
}

func (req brewLogRequest) apply(b *model.BrewLog) {
	b.TeaID = req.TeaID
	if req.Date != nil {
		b.Date = req.Date.UTC()
	}
	b.WaterTemp = req.WaterTemp
	b.SteepTime = req.SteepTime
	b.TeaAmount = req.TeaAmount
	b.Rating = req.Rating
	switch {
	case req.TastingNotes != nil:
		b.TastingNotes = req.TastingNotes
	case req.NotesText != "":
		b.TastingNotes = model.SplitTastingNotes(req.NotesText)
	}
}

func (h *BrewLogHandler) List(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.State(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to list brew logs", err)
		return
	}
	writeJSON(w, http.StatusOK, state.BrewLogs)
}

func (h *BrewLogHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req brewLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	var b model.BrewLog
	req.apply(&b)

	created, err := h.engine.AddBrewLog(r.Context(), b)
	if created == nil {
		writeError(w, h.logger, "failed to create brew log", err)
		return
	}
	writeMutation(w, h.logger, http.StatusCreated, "create brew log", created, err)
}

func (h *BrewLogHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req brewLogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	updated, err := h.engine.UpdateBrewLog(r.Context(), chi.URLParam(r, "id"), func(b *model.BrewLog) error {
		req.apply(b)
		return nil
	})
	if err != nil {
		writeError(w, h.logger, "failed to update brew log", err)
		return
	}
	writeMutation(w, h.logger, http.StatusOK, "update brew log", updated, nil)
}

func (h *BrewLogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.engine.DeleteBrewLog(r.Context(), chi.URLParam(r, "id"))
	writeDeletion(w, h.logger, "failed to delete brew log", err)
}
