package blob

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/dukerupert/teacaddy/internal/model"
)

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if !strings.HasPrefix(id, IDPrefix) {
			t.Fatalf("id %q missing prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	data := []byte{0xff, 0xd8, 0xff, 0x00, 0x01, 0x02}
	url := EncodeDataURL("image/png", data)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("url = %q", url)
	}

	mime, got, err := DecodeDataURL(url)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q, want %q", mime, "image/png")
	}
	if !bytes.Equal(got, data) {
		t.Errorf("data = %v, want %v", got, data)
	}
}

func TestDataURLDefaultMIME(t *testing.T) {
	mime, _, err := DecodeDataURL(EncodeDataURL("", []byte("x")))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mime != DefaultMIMEType {
		t.Errorf("mime = %q, want %q", mime, DefaultMIMEType)
	}
}

func TestDecodeDataURLRejectsGarbage(t *testing.T) {
	for _, in := range []string{
		"",
		"not a data url",
		"data:image/png,plain",
		"data:image/png;base64,***",
	} {
		if _, _, err := DecodeDataURL(in); !errors.Is(err, model.ErrFormat) {
			t.Errorf("DecodeDataURL(%q) err = %v, want ErrFormat", in, err)
		}
	}
}
