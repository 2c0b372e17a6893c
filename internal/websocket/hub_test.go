package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/dukerupert/teacaddy/internal/reconcile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{hub: hub, send: make(chan []byte, sendBufferSize)}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func TestRegisterSendsHello(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	if got := receive(t, c); got.Type != "feed_connected" {
		t.Errorf("type = %q, want %q", got.Type, "feed_connected")
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(testLogger())
	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("clients = %d, want 2", got)
	}

	hub.Unregister(c1)
	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("clients = %d, want 1", got)
	}
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("clients = %d, want 0", got)
	}
}

func TestPublishForwardsEvents(t *testing.T) {
	hub := NewHub(testLogger())
	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.Publish(reconcile.Event{Entity: reconcile.EntityTea, Action: reconcile.ActionCreated, ID: "t-1"})

	for _, c := range []*Client{c1, c2} {
		receive(t, c) // hello
		got := receive(t, c)
		if got.Type != "tea_created" || got.Entity != "tea" || got.ID != "t-1" {
			t.Errorf("message = %+v", got)
		}
	}
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Broadcast(NewMessage("sync", "started", "teas"))
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	for range sendBufferSize + 5 {
		hub.Broadcast(NewMessage("tea", "updated", "x"))
	}
	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered = %d, want %d", got, sendBufferSize)
	}
}

func TestHandleWebSocket(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(HandleWebSocket(hub, nil, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	read := func() Message {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return m
	}

	if got := read(); got.Type != HelloMessage.Type {
		t.Fatalf("first message = %+v", got)
	}
	hub.Publish(reconcile.Event{Entity: reconcile.EntityBackup, Action: reconcile.ActionImported})
	if got := read(); got.Type != "backup_imported" {
		t.Errorf("type = %q, want %q", got.Type, "backup_imported")
	}
}

func TestCloseAllSendsGoingAway(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(HandleWebSocket(hub, nil, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("read hello: %v", err)
	}

	done := make(chan struct{})
	go func() {
		hub.CloseAll()
		close(done)
	}()

	_, _, err = conn.Read(ctx)
	if got := ws.CloseStatus(err); got != ws.StatusGoingAway {
		t.Errorf("close status = %v (err %v), want %v", got, err, ws.StatusGoingAway)
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("CloseAll did not return")
	}
}

func TestHandleWebSocketRefusesWhenFull(t *testing.T) {
	hub := NewHub(testLogger())
	for range MaxClients {
		hub.Register(mockClient(hub))
	}
	srv := httptest.NewServer(HandleWebSocket(hub, nil, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
}
