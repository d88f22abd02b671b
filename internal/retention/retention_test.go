package retention

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/basinlabs/browserbridge/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createSession(t *testing.T, s *store.Store, id string, createdAt int64, pinned bool) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.CreateSession(ctx, store.SessionMeta{SessionID: id, CreatedAt: createdAt, URL: "https://x.test"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if pinned {
		if err := s.PinSession(ctx, id, true); err != nil {
			t.Fatalf("PinSession: %v", err)
		}
	}
}

func TestAgePhaseDeletesOldUnpinned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	createSession(t, s, "old", now.Add(-30*24*time.Hour).UnixMilli(), false)
	createSession(t, s, "new", now.UnixMilli(), false)

	settings, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	settings.RetentionDays = 14
	settings.MaxSessions = 0
	settings.MaxDBMb = 0
	if err := s.UpdateSettings(ctx, *settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	eng := New(s, zerolog.Nop())
	res, err := eng.Run(ctx, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DeletedSessions != 1 {
		t.Fatalf("expected 1 deleted session, got %d", res.DeletedSessions)
	}
	if exists, _ := s.SessionExists(ctx, "old"); exists {
		t.Fatalf("expected old session deleted")
	}
	if exists, _ := s.SessionExists(ctx, "new"); !exists {
		t.Fatalf("expected new session to survive")
	}
}

func TestAgePhaseNeverDeletesPinned(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	createSession(t, s, "old-pinned", now.Add(-30*24*time.Hour).UnixMilli(), true)

	settings, _ := s.GetSettings(ctx)
	settings.RetentionDays = 14
	settings.MaxSessions = 0
	settings.MaxDBMb = 0
	_ = s.UpdateSettings(ctx, *settings)

	eng := New(s, zerolog.Nop())
	res, err := eng.Run(ctx, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.DeletedSessions != 0 {
		t.Fatalf("expected 0 deletions, got %d", res.DeletedSessions)
	}
	if exists, _ := s.SessionExists(ctx, "old-pinned"); !exists {
		t.Fatalf("pinned session must survive")
	}
}

func TestCountPhaseStopsWhenOnlyPinnedRemain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	createSession(t, s, "p1", now.UnixMilli(), true)
	createSession(t, s, "p2", now.UnixMilli(), true)

	settings, _ := s.GetSettings(ctx)
	settings.RetentionDays = 0
	settings.MaxSessions = 1
	settings.MaxDBMb = 0
	_ = s.UpdateSettings(ctx, *settings)

	eng := New(s, zerolog.Nop())
	res, err := eng.Run(ctx, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.PinnedProtected {
		t.Fatalf("expected pinnedProtected true")
	}
	if res.Warning == "" {
		t.Fatalf("expected a warning message")
	}
	if res.DeletedSessions != 0 {
		t.Fatalf("expected 0 deletions, got %d", res.DeletedSessions)
	}
}

func TestDueForRun(t *testing.T) {
	now := time.Now()
	settings := store.ServerSettings{CleanupIntervalMinutes: 60, LastCleanupAt: now.Add(-2 * time.Hour).UnixMilli()}
	if !DueForRun(settings, now) {
		t.Fatalf("expected due for run after interval elapsed")
	}
	settings.LastCleanupAt = now.Add(-1 * time.Minute).UnixMilli()
	if DueForRun(settings, now) {
		t.Fatalf("expected not due for run within interval")
	}
}
