package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("hello"))
	}))

	for _, path := range []string{"/api/state", "/missing", "/healthz"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	out := buf.String()
	if !strings.Contains(out, "path=/api/state") || !strings.Contains(out, "bytes=5") {
		t.Errorf("missing info record: %q", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=404") {
		t.Errorf("missing warn record: %q", out)
	}
	if strings.Contains(out, "/healthz") {
		t.Errorf("health probe logged at info: %q", out)
	}
}
