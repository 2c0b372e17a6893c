package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/teacaddy/internal/backup"
	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/reconcile"
)

// PassphraseHeader overrides the configured backup passphrase per request.
const PassphraseHeader = "X-Backup-Passphrase"

type BackupHandler struct {
	engine     *reconcile.Engine
	passphrase string
	logger     *slog.Logger
}

// NewBackupHandler creates the handler. A non-empty passphrase seals exports.
func NewBackupHandler(engine *reconcile.Engine, passphrase string, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{engine: engine, passphrase: passphrase, logger: logger}
}

func (h *BackupHandler) passphraseFor(r *http.Request) string {
	if p := r.Header.Get(PassphraseHeader); p != "" {
		return p
	}
	return h.passphrase
}

// Export downloads the backup document.
func (h *BackupHandler) Export(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.ExportBackup(r.Context())
	if err != nil {
		writeError(w, h.logger, "failed to export backup", err)
		return
	}
	passphrase := h.passphraseFor(r)
	data, err := backup.Marshal(doc, passphrase)
	if err != nil {
		writeError(w, h.logger, "failed to encode backup", err)
		return
	}

	name := backup.FileName(time.Now())
	contentType := "application/json"
	if passphrase != "" {
		name += ".sealed"
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Import restores an uploaded document. mode is "merge" (default) or "replace".
func (h *BackupHandler) Import(w http.ResponseWriter, r *http.Request) {
	mode := model.ImportMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = model.ImportMerge
	}
	if !mode.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be merge or replace"})
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	doc, err := backup.Unmarshal(data, h.passphraseFor(r))
	if err != nil {
		writeError(w, h.logger, "invalid backup", err)
		return
	}

	result, err := h.engine.ImportBackup(r.Context(), doc, mode)
	if err != nil {
		writeError(w, h.logger, "failed to import backup", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Schema serves the JSON Schema of the backup document.
func (h *BackupHandler) Schema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, backup.Schema())
}
