package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/basinlabs/browserbridge/internal/retention"
	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ret := retention.New(s, zerolog.Nop())
	reg := session.NewRegistry()
	return New(s, ret, reg, "test", zerolog.Nop())
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Host = "127.0.0.1"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHealthReportsOK(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()

	rr := doRequest(t, mux, http.MethodGet, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestNonLocalHostIsRejected(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "evil.example.com"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-local host, got %d", rr.Code)
	}
}

func TestStatsReportsSessionCount(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	if _, err := srv.store.CreateSession(ctx, store.SessionMeta{SessionID: "sess-1", CreatedAt: 1000, URL: "https://example.com"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mux := srv.Routes()
	rr := doRequest(t, mux, http.MethodGet, "/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !containsAll(rr.Body.String(), `"sessionCount":1`) {
		t.Fatalf("expected sessionCount 1 in body: %s", rr.Body.String())
	}
}

func TestSessionsListIncludesCreatedSession(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	if _, err := srv.store.CreateSession(ctx, store.SessionMeta{SessionID: "sess-a", CreatedAt: 1000, URL: "https://example.com"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mux := srv.Routes()
	rr := doRequest(t, mux, http.MethodGet, "/sessions")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !containsAll(rr.Body.String(), `"sess-a"`) {
		t.Fatalf("expected sess-a in body: %s", rr.Body.String())
	}
}

func TestPinSessionRequiresPost(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	if _, err := srv.store.CreateSession(ctx, store.SessionMeta{SessionID: "sess-b", CreatedAt: 1000, URL: "https://example.com"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mux := srv.Routes()
	rr := doRequest(t, mux, http.MethodGet, "/sessions/sess-b/pin")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 on GET /pin, got %d", rr.Code)
	}
}

func TestDBResetRequiresConfirmation(t *testing.T) {
	srv := newTestServer(t)
	mux := srv.Routes()

	rr := doRequest(t, mux, http.MethodPost, "/db/reset")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirm=yes, got %d", rr.Code)
	}

	rr = doRequest(t, mux, http.MethodPost, "/db/reset?confirm=yes")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with confirm=yes, got %d: %s", rr.Code, rr.Body.String())
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}
