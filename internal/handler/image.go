package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/teacaddy/internal/blob"
	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/reconcile"
	"github.com/go-chi/chi/v5"
)

type ImageHandler struct {
	engine *reconcile.Engine
	logger *slog.Logger
}

func NewImageHandler(engine *reconcile.Engine, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{engine: engine, logger: logger}
}

// Upload stores a photo sent either as the "image" field of a multipart form
// or as the raw request body.
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var data []byte
	mimeType := r.Header.Get("Content-Type")

	if strings.HasPrefix(mimeType, "multipart/form-data") {
		file, header, err := r.FormFile("image")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image field is required"})
			return
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read image"})
			return
		}
		mimeType = header.Header.Get("Content-Type")
	} else {
		var err error
		if data, err = io.ReadAll(r.Body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read image"})
			return
		}
	}
	if len(data) == 0 {
		writeError(w, h.logger, "empty image", fmt.Errorf("%w: image is empty", model.ErrInvalid))
		return
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	id, err := h.engine.StorePhoto(r.Context(), data, mimeType)
	if err != nil {
		writeError(w, h.logger, "failed to store image", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.Photo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, "failed to get image", err)
		return
	}
	mimeType := b.MIMEType
	if mimeType == "" {
		mimeType = blob.DefaultMIMEType
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Data)))
	// Photo ids are never reused.
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(b.Data)
}
