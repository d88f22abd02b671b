package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/basinlabs/browserbridge/internal/wire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreateSession(t *testing.T, s *Store, id string) {
	t.Helper()
	if _, err := s.CreateSession(context.Background(), SessionMeta{
		SessionID: id, CreatedAt: 1000, URL: "https://example.com/a",
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "sess-1")

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.SessionID != "sess-1" || got.URLInitial != "https://example.com/a" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Pinned {
		t.Fatalf("new session should not be pinned")
	}

	if _, err := s.GetSession(ctx, "missing"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPinSessionUnknown(t *testing.T) {
	s := openTestStore(t)
	if err := s.PinSession(context.Background(), "nope", true); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInsertEventBatchKindMapping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "sess-1")

	events := []EventInput{
		{SessionID: "sess-1", Timestamp: 10, EventType: "click", Payload: json.RawMessage(`{"selector":"#go"}`)},
		{SessionID: "sess-1", Timestamp: 11, EventType: "scroll", Payload: json.RawMessage(`{}`)},
		{SessionID: "sess-1", Timestamp: 12, EventType: "weird-unknown-type", Payload: json.RawMessage(`{}`)},
	}
	if err := s.InsertEventBatch(ctx, events); err != nil {
		t.Fatalf("InsertEventBatch: %v", err)
	}

	got, err := s.RecentEvents(ctx, EventFilter{SessionID: "sess-1", Limit: 10})
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for _, ev := range got {
		if ev.Kind != "ui" {
			t.Fatalf("expected every event folded to kind ui, got %s", ev.Kind)
		}
	}
}

func TestErrorFingerprintAggregation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "sess-1")

	for i := 0; i < 3; i++ {
		err := s.InsertEventBatch(ctx, []EventInput{{
			SessionID: "sess-1", Timestamp: int64(100 + i), EventType: "error",
			Payload: json.RawMessage(`{"message":"boom","stack":"at foo.js:1"}`),
		}})
		if err != nil {
			t.Fatalf("InsertEventBatch: %v", err)
		}
	}

	fps, err := s.ErrorFingerprints(ctx, "sess-1", 0, 10, 0)
	if err != nil {
		t.Fatalf("ErrorFingerprints: %v", err)
	}
	if len(fps) != 1 {
		t.Fatalf("expected fingerprints to collapse to 1, got %d", len(fps))
	}
	if fps[0].Count != 3 {
		t.Fatalf("expected count 3, got %d", fps[0].Count)
	}
	if fps[0].LastSeen != 102 {
		t.Fatalf("expected last_seen bumped to 102, got %d", fps[0].LastSeen)
	}
}

func TestRecentEventsOriginFilterPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "sess-1")

	var events []EventInput
	for i := 0; i < 10; i++ {
		origin := "https://a.test"
		if i%2 == 0 {
			origin = "https://b.test"
		}
		events = append(events, EventInput{
			SessionID: "sess-1", Timestamp: int64(i), EventType: "click",
			Payload: json.RawMessage(`{"url":"` + origin + `/page"}`),
		})
	}
	if err := s.InsertEventBatch(ctx, events); err != nil {
		t.Fatalf("InsertEventBatch: %v", err)
	}

	page1, err := s.RecentEvents(ctx, EventFilter{SessionID: "sess-1", OriginFilter: "https://a.test", Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("RecentEvents page1: %v", err)
	}
	page2, err := s.RecentEvents(ctx, EventFilter{SessionID: "sess-1", OriginFilter: "https://a.test", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("RecentEvents page2: %v", err)
	}
	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("expected 2 events per page, got %d and %d", len(page1), len(page2))
	}
	if page1[0].ID == page2[0].ID {
		t.Fatalf("pages should not overlap")
	}
}

func TestNetworkFailuresFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "sess-1")

	events := []EventInput{
		{SessionID: "sess-1", Timestamp: 1, EventType: "network", Payload: json.RawMessage(
			`{"url":"https://api.test/ok","status":200,"initiator":"fetch"}`)},
		{SessionID: "sess-1", Timestamp: 2, EventType: "network", Payload: json.RawMessage(
			`{"url":"https://api.test/bad","status":500,"initiator":"fetch"}`)},
		{SessionID: "sess-1", Timestamp: 3, EventType: "network", Payload: json.RawMessage(
			`{"url":"https://api.test/timeout","errorClass":"timeout","initiator":"xhr"}`)},
	}
	if err := s.InsertEventBatch(ctx, events); err != nil {
		t.Fatalf("InsertEventBatch: %v", err)
	}

	failures, err := s.NetworkFailures(ctx, NetworkFilter{SessionID: "sess-1", Limit: 10})
	if err != nil {
		t.Fatalf("NetworkFailures: %v", err)
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	for _, f := range failures {
		if !f.IsFailure() {
			t.Fatalf("row %+v should report IsFailure true", f)
		}
	}
}

func TestSnapshotSizeBudgetTruncation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "sess-1")

	huge := make([]byte, domStylesMaxBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	payload, _ := json.Marshal(map[string]json.RawMessage{
		"dom": json.RawMessage(append([]byte(`"`), append(huge, '"')...)),
	})

	if err := s.InsertEventBatch(ctx, []EventInput{{
		SessionID: "sess-1", Timestamp: 1, EventType: wire.EventTypeUISnapshot, Payload: payload,
	}}); err != nil {
		t.Fatalf("InsertEventBatch: %v", err)
	}

	snaps, err := s.ListSnapshots(ctx, "sess-1", 10, 0)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if !snaps[0].DOMTruncated {
		t.Fatalf("expected dom_truncated for oversized payload")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustCreateSession(t, s, "sess-1")

	if err := s.InsertEventBatch(ctx, []EventInput{
		{SessionID: "sess-1", Timestamp: 1, EventType: "console", Payload: json.RawMessage(`{"level":"warn","message":"hi"}`)},
		{SessionID: "sess-1", Timestamp: 2, EventType: "error", Payload: json.RawMessage(`{"message":"boom","stack":"x"}`)},
	}); err != nil {
		t.Fatalf("InsertEventBatch: %v", err)
	}

	payload, err := s.ExportSessionJSON(ctx, "sess-1", false)
	if err != nil {
		t.Fatalf("ExportSessionJSON: %v", err)
	}
	if len(payload.Events) != 2 {
		t.Fatalf("expected 2 exported events, got %d", len(payload.Events))
	}

	newID, err := s.ImportSessionJSON(ctx, *payload, 123456)
	if err != nil {
		t.Fatalf("ImportSessionJSON: %v", err)
	}
	if newID != "sess-1-import-123456" {
		t.Fatalf("expected collision remap, got %q", newID)
	}

	reimported, err := s.RecentEvents(ctx, EventFilter{SessionID: newID, Limit: 10})
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(reimported) != 2 {
		t.Fatalf("expected 2 events under remapped session, got %d", len(reimported))
	}
}

func TestImportSectionCapRejected(t *testing.T) {
	s := openTestStore(t)
	payload := ExportPayload{Session: Session{SessionID: "sess-x", CreatedAt: 1}}
	for i := 0; i < maxImportRecordsPerSection+1; i++ {
		payload.Events = append(payload.Events, ExportEvent{ID: "e", Timestamp: int64(i), Kind: "ui"})
	}
	if _, err := s.ImportSessionJSON(context.Background(), payload, 1); err == nil {
		t.Fatalf("expected cap rejection error")
	}
}
