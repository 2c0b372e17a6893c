package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/teacaddy/internal/blob"
	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/reconcile"
	"github.com/go-chi/chi/v5"
)

type TeaHandler struct {
	engine *reconcile.Engine
	logger *slog.Logger
}

func NewTeaHandler(engine *reconcile.Engine, logger *slog.Logger) *TeaHandler {
	return &TeaHandler{engine: engine, logger: logger}
}

// teaRequest is a tea plus an optional photo given as a data URL.
type teaRequest struct {
	model.Tea
	Image string `json:"image,omitempty"`
}

type consumeRequest struct {
	Grams float64 `json:"grams"`
}

func (h *TeaHandler) List(w http.ResponseWriter, r *http.Request) {
	teas, err := h.engine.Teas(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to list teas", err)
		return
	}
	views := make([]model.TeaView, 0, len(teas))
	for _, t := range teas {
		views = append(views, t.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *TeaHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.Tea(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "failed to get tea", err)
		return
	}
	writeJSON(w, http.StatusOK, t.View())
}

func (h *TeaHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req teaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.ID = ""

	var created *model.Tea
	var err error
	if req.Image != "" {
		mimeType, data, decodeErr := blob.DecodeDataURL(req.Image)
		if decodeErr != nil {
			writeError(w, h.logger, "invalid image", decodeErr)
			return
		}
		created, err = h.engine.AddTeaWithImage(r.Context(), req.Tea, data, mimeType)
	} else {
		created, err = h.engine.AddTea(r.Context(), req.Tea)
	}
	if created == nil {
		writeError(w, h.logger, "failed to create tea", err)
		return
	}
	writeMutation(w, h.logger, http.StatusCreated, "create tea", created.View(), err)
}

// Update replaces the editable fields of a tea. The photo is kept unless the
// request names or uploads another one.
func (h *TeaHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req teaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Image != "" {
		mimeType, data, err := blob.DecodeDataURL(req.Image)
		if err != nil {
			writeError(w, h.logger, "invalid image", err)
			return
		}
		photoID, err := h.engine.StorePhoto(r.Context(), data, mimeType)
		if err != nil {
			writeError(w, h.logger, "failed to store photo", err)
			return
		}
		req.ImageBlobID = photoID
	}

	updated, err := h.engine.UpdateTea(r.Context(), id, func(t *model.Tea) error {
		photo := t.ImageBlobID
		*t = req.Tea
		if t.ImageBlobID == "" {
			t.ImageBlobID = photo
		}
		return nil
	})
	if updated == nil {
		writeError(w, h.logger, "failed to update tea", err)
		return
	}
	writeMutation(w, h.logger, http.StatusOK, "update tea", updated.View(), err)
}

func (h *TeaHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	updated, err := h.engine.ConsumeTea(r.Context(), chi.URLParam(r, "id"), req.Grams)
	if updated == nil {
		writeError(w, h.logger, "failed to consume tea", err)
		return
	}
	writeMutation(w, h.logger, http.StatusOK, "consume tea", updated.View(), err)
}

func (h *TeaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.engine.DeleteTea(r.Context(), chi.URLParam(r, "id"))
	writeDeletion(w, h.logger, "failed to delete tea", err)
}
