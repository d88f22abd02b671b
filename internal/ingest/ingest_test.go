package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/basinlabs/browserbridge/internal/redaction"
	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, *session.Registry) {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	registry := session.NewRegistry()
	p := New(s, redaction.New(""), registry, zerolog.Nop())
	return p, s, registry
}

func dialTestServer(t *testing.T, p *Pipeline) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(p.ServeHTTP))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func TestSessionStartThenEventPersists(t *testing.T) {
	p, s, _ := newTestPipeline(t)
	conn, cleanup := dialTestServer(t, p)
	defer cleanup()

	if err := conn.WriteJSON(map[string]any{
		"type":      "session_start",
		"sessionId": "sess-a",
		"url":       "https://example.com/app",
		"safeMode":  false,
	}); err != nil {
		t.Fatalf("write session_start: %v", err)
	}

	if err := conn.WriteJSON(map[string]any{
		"type":      "event",
		"sessionId": "sess-a",
		"eventType": "console",
		"data":      map[string]any{"level": "info", "message": "hello"},
		"timestamp": time.Now().UnixMilli(),
	}); err != nil {
		t.Fatalf("write event: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := s.RecentEvents(context.Background(), store.EventFilter{SessionID: "sess-a", Limit: 10})
		if err != nil {
			t.Fatalf("RecentEvents: %v", err)
		}
		if len(events) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event was not persisted within deadline, got %d rows", len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionStartUnknownEventIsRejected(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	conn, cleanup := dialTestServer(t, p)
	defer cleanup()

	if err := conn.WriteJSON(map[string]any{
		"type":      "event",
		"sessionId": "sess-does-not-exist",
		"eventType": "console",
		"data":      map[string]any{},
		"timestamp": time.Now().UnixMilli(),
	}); err != nil {
		t.Fatalf("write event: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("expected an error frame, got: %v", err)
	}
	if frame.Code != "SESSION_NOT_FOUND" {
		t.Fatalf("expected SESSION_NOT_FOUND, got %q", frame.Code)
	}
}

func TestSendCaptureTimesOutWithNoPendingEntryLeftBehind(t *testing.T) {
	p, _, registry := newTestPipeline(t)
	conn, cleanup := dialTestServer(t, p)
	defer cleanup()

	if err := conn.WriteJSON(map[string]any{
		"type":      "session_start",
		"sessionId": "sess-a",
		"url":       "https://example.com/app",
		"safeMode":  false,
	}); err != nil {
		t.Fatalf("write session_start: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the server-side bind land

	// The dialed connection never answers capture_command, simulating the
	// capture-timeout scenario (spec.md §8 scenario 1).
	start := time.Now()
	_, err := p.SendCapture(context.Background(), "sess-a", "CAPTURE_LAYOUT_METRICS", nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	if err == nil || !strings.HasPrefix(err.Error(), "Capture command timed out after 100ms") {
		t.Fatalf("expected capture timeout error, got %v", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("expected call to block for at least the timeout, elapsed %v", elapsed)
	}

	st, ok := registry.ConnectionState("sess-a")
	if !ok || !st.Bound {
		t.Fatalf("expected session still bound after capture timeout")
	}
}
