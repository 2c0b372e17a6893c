// Package backup exports the local state into a portable JSON document and
// restores it.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dukerupert/teacaddy/internal/blob"
	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/dukerupert/teacaddy/internal/store"
)

// Codec reads the local cache and blob store into documents and writes
// documents back. Callers serialize it against other writers of the cache.
type Codec struct {
	cache  *store.Cache
	blobs  blob.Store
	logger *slog.Logger
}

func NewCodec(cache *store.Cache, blobs blob.Store, logger *slog.Logger) *Codec {
	return &Codec{cache: cache, blobs: blobs, logger: logger.With("component", "backup")}
}

// FileName is the conventional name of a document exported at t.
func FileName(t time.Time) string {
	return "tea-manager-backup-" + t.Format(time.DateOnly) + ".json"
}

// Export snapshots both collections and every photo a tea refers to.
// Photos that no longer exist are left out; the tea keeps its reference.
func (c *Codec) Export(ctx context.Context) (*model.BackupDocument, error) {
	teas, err := c.cache.Teas.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("export teas: %w", err)
	}
	logs, err := c.cache.BrewLogs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("export brew logs: %w", err)
	}

	doc := &model.BackupDocument{
		Version:    model.BackupVersion,
		ExportDate: time.Now().UTC(),
		Teas:       teas,
		BrewLogs:   logs,
		Images:     make(map[string]string),
	}
	for _, t := range teas {
		if t.ImageBlobID == "" {
			continue
		}
		if _, done := doc.Images[t.ImageBlobID]; done {
			continue
		}
		b, err := c.blobs.Get(ctx, t.ImageBlobID)
		if err != nil {
			return nil, fmt.Errorf("export photo of tea %s: %w", t.ID, err)
		}
		if b == nil {
			c.logger.Warn("photo missing from export", "tea", t.ID, "blob", t.ImageBlobID)
			continue
		}
		doc.Images[b.ID] = blob.EncodeDataURL(b.MIMEType, b.Data)
	}
	return doc, nil
}

// Import restores doc. The whole document is checked before anything is
// written; a bad document leaves the local state untouched.
func (c *Codec) Import(ctx context.Context, doc *model.BackupDocument, mode model.ImportMode) (*model.ImportResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown import mode %q", model.ErrInvalid, mode)
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	images := make([]model.Blob, 0, len(doc.Images))
	for id, url := range doc.Images {
		mimeType, data, err := blob.DecodeDataURL(url)
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", id, err)
		}
		images = append(images, model.Blob{ID: id, MIMEType: mimeType, Data: data})
	}

	teas, logs := doc.Teas, doc.BrewLogs
	result := &model.ImportResult{Mode: mode, TeasAdded: len(teas), BrewLogsAdded: len(logs)}
	if mode == model.ImportMerge {
		existingTeas, err := c.cache.Teas.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("import: %w", err)
		}
		existingLogs, err := c.cache.BrewLogs.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("import: %w", err)
		}
		var addedTeas []model.Tea
		teas, addedTeas = appendUnknown(existingTeas, doc.Teas, model.Tea.RecordID)
		var addedLogs []model.BrewLog
		logs, addedLogs = appendUnknown(existingLogs, doc.BrewLogs, model.BrewLog.RecordID)
		result.TeasAdded, result.BrewLogsAdded = len(addedTeas), len(addedLogs)
	}

	// Photos first: they are keyed by id, so writing them again is harmless,
	// and records must never point at photos that are not there yet.
	for _, b := range images {
		if err := c.blobs.Save(ctx, b); err != nil {
			return nil, fmt.Errorf("import photo %s: %w", b.ID, err)
		}
		result.ImagesWritten++
	}
	if err := c.cache.ReplaceAll(ctx, teas, logs); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	c.logger.Info("backup imported",
		"mode", mode, "teas", result.TeasAdded, "brew_logs", result.BrewLogsAdded, "images", result.ImagesWritten)
	return result, nil
}

// appendUnknown returns existing followed by the incoming records whose id
// is not in existing, and those added records.
func appendUnknown[T any](existing, incoming []T, id func(T) string) ([]T, []T) {
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[id(r)] = true
	}
	merged := append([]T{}, existing...)
	var added []T
	for _, r := range incoming {
		if seen[id(r)] {
			continue
		}
		seen[id(r)] = true
		merged = append(merged, r)
		added = append(added, r)
	}
	return merged, added
}

// Validate checks the parts of a document Import depends on.
func Validate(doc *model.BackupDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: empty document", model.ErrFormat)
	}
	if doc.Version != model.BackupVersion {
		return fmt.Errorf("%w: unsupported backup version %q", model.ErrFormat, doc.Version)
	}
	if err := uniqueIDs("tea", doc.Teas, model.Tea.RecordID); err != nil {
		return err
	}
	return uniqueIDs("brew log", doc.BrewLogs, model.BrewLog.RecordID)
}

func uniqueIDs[T any](kind string, records []T, id func(T) string) error {
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		rid := id(r)
		if rid == "" {
			return fmt.Errorf("%w: %s %d has no id", model.ErrFormat, kind, i)
		}
		if seen[rid] {
			return fmt.Errorf("%w: duplicate %s id %q", model.ErrFormat, kind, rid)
		}
		seen[rid] = true
	}
	return nil
}

// rawDocument tells absent fields apart from empty ones.
type rawDocument struct {
	Version    *string            `json:"version"`
	ExportDate *time.Time         `json:"exportDate"`
	Teas       *[]model.Tea       `json:"teas"`
	BrewLogs   *[]model.BrewLog   `json:"brewLogs"`
	Images     *map[string]string `json:"images"`
}

// Decode parses a document and fails with ErrFormat when it is malformed or
// lacks a required field.
func Decode(r io.Reader) (*model.BackupDocument, error) {
	var raw rawDocument
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode backup: %w", model.ErrFormat, err)
	}
	switch {
	case raw.Version == nil:
		return nil, fmt.Errorf("%w: missing version", model.ErrFormat)
	case raw.Teas == nil:
		return nil, fmt.Errorf("%w: missing teas", model.ErrFormat)
	case raw.BrewLogs == nil:
		return nil, fmt.Errorf("%w: missing brewLogs", model.ErrFormat)
	case raw.Images == nil:
		return nil, fmt.Errorf("%w: missing images", model.ErrFormat)
	}
	doc := &model.BackupDocument{
		Version:  *raw.Version,
		Teas:     *raw.Teas,
		BrewLogs: *raw.BrewLogs,
		Images:   *raw.Images,
	}
	if raw.ExportDate != nil {
		doc.ExportDate = *raw.ExportDate
	}
	for i := range doc.BrewLogs {
		if doc.BrewLogs[i].TastingNotes == nil {
			doc.BrewLogs[i].TastingNotes = []string{}
		}
	}
	return doc, nil
}

// Encode writes doc with two-space indentation.
func Encode(w io.Writer, doc *model.BackupDocument) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return nil
}

// Marshal encodes doc and, with a passphrase, seals it.
func Marshal(doc *model.BackupDocument, passphrase string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	if passphrase == "" {
		return buf.Bytes(), nil
	}
	return Seal(buf.Bytes(), passphrase)
}

// Unmarshal decodes data, opening it first when it is sealed.
func Unmarshal(data []byte, passphrase string) (*model.BackupDocument, error) {
	if IsSealed(data) {
		if passphrase == "" {
			return nil, fmt.Errorf("%w: backup is sealed and no passphrase was given", model.ErrFormat)
		}
		opened, err := Open(data, passphrase)
		if err != nil {
			return nil, err
		}
		data = opened
	}
	return Decode(bytes.NewReader(data))
}
