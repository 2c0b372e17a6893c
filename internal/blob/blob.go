// Package blob stores tea photos and encodes them for backup documents.
package blob

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dukerupert/teacaddy/internal/model"
	"github.com/maruel/ksid"
)

// IDPrefix marks blob ids generated by this package.
const IDPrefix = "tea-img-"

// DefaultMIMEType is assumed when neither caller nor data URL names one.
const DefaultMIMEType = "image/jpeg"

// Store is binary attachment storage keyed by generated ids.
type Store interface {
	// Put stores data under a new id and returns the id.
	Put(ctx context.Context, data []byte, mimeType string) (string, error)
	// Get returns the blob, or nil when no blob has that id.
	Get(ctx context.Context, id string) (*model.Blob, error)
	// Save writes a blob under its own id, replacing any previous content.
	Save(ctx context.Context, b model.Blob) error
}

// NewID returns a fresh blob id. ksid ids carry a millisecond timestamp and
// random bits, so they sort by creation time and are never reused.
func NewID() string {
	return IDPrefix + ksid.NewID().String()
}

// EncodeDataURL renders a blob as a self-describing data URL.
func EncodeDataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a base64 data URL into its MIME type and bytes.
func DecodeDataURL(s string) (string, []byte, error) {
	header, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return "", nil, fmt.Errorf("%w: not a data URL", model.ErrFormat)
	}
	meta := strings.TrimPrefix(header, "data:")
	mimeType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return "", nil, fmt.Errorf("%w: data URL is not base64 encoded", model.ErrFormat)
	}
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: decode data URL: %w", model.ErrFormat, err)
	}
	return mimeType, data, nil
}
