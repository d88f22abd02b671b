package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by operations that require an existing session.
var ErrSessionNotFound = errors.New("session not found")

// CreateSession inserts a new session row from a session_start frame.
func (s *Store) CreateSession(ctx context.Context, meta SessionMeta) (string, error) {
	originTabs := "[]"
	if meta.TabID != nil {
		b, _ := json.Marshal([]int64{*meta.TabID})
		originTabs = string(b)
	}
	originWindow := ""
	if meta.WindowID != nil {
		originWindow = fmt.Sprintf("%d", *meta.WindowID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, origin_tabs, origin_window,
			url_initial, url_last, viewport_width, viewport_height, dpr, user_agent, safe_mode, pinned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(session_id) DO UPDATE SET url_last = excluded.url_last`,
		meta.SessionID, meta.CreatedAt, originTabs, originWindow,
		meta.URL, meta.URL, meta.ViewportW, meta.ViewportH, meta.DPR, meta.UserAgent, boolToInt(meta.SafeMode))
	if err != nil {
		return "", fmt.Errorf("store: create session: %w", err)
	}
	return meta.SessionID, nil
}

// EndSession sets ended_at; idempotent (repeated calls are a no-op beyond the
// first successful update).
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`,
		endedAt, sessionID)
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	return nil
}

// SessionExists reports whether a session row is present.
func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: session exists: %w", err)
	}
	return true, nil
}

// PinSession sets or clears the pinned flag. Pinned sessions are immune to
// retention eviction (spec.md §4.4).
func (s *Store) PinSession(ctx context.Context, sessionID string, pinned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET pinned = ? WHERE session_id = ?`, boolToInt(pinned), sessionID)
	if err != nil {
		return fmt.Errorf("store: pin session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// UpdateLastURL bumps url_last for the session, used when a nav event arrives.
func (s *Store) UpdateLastURL(ctx context.Context, sessionID, url string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET url_last = ? WHERE session_id = ?`, url, sessionID)
	return err
}

// GetSession fetches a single session row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, created_at, ended_at, origin_tabs, origin_window,
			url_initial, url_last, viewport_width, viewport_height, dpr, user_agent, safe_mode, pinned
		FROM sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// ListRecentSessions returns sessions ordered by created_at desc, honoring
// sinceMinutes (0 = no floor), limit and offset.
func (s *Store) ListRecentSessions(ctx context.Context, sinceMinutesAgo int64, limit, offset int) ([]Session, error) {
	query := `
		SELECT session_id, created_at, ended_at, origin_tabs, origin_window,
			url_initial, url_last, viewport_width, viewport_height, dpr, user_agent, safe_mode, pinned
		FROM sessions`
	args := []any{}
	if sinceMinutesAgo > 0 {
		query += ` WHERE created_at >= ?`
		args = append(args, sinceMinutesAgo)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// CountSessions returns the total session count, used by retention's count phase.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// OldestUnpinnedSessionID returns the oldest unpinned session id, or "" if none.
func (s *Store) OldestUnpinnedSessionID(ctx context.Context, olderThan int64) (string, bool, error) {
	query := `SELECT session_id FROM sessions WHERE pinned = 0`
	args := []any{}
	if olderThan > 0 {
		query += ` AND created_at < ?`
		args = append(args, olderThan)
	}
	query += ` ORDER BY created_at ASC LIMIT 1`
	var id string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// DeleteSession removes a session row; foreign keys cascade to events,
// network_records, error_fingerprints, and snapshots.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	return scanSessionRows(r)
}

func scanSessionRows(r rowScanner) (*Session, error) {
	var sess Session
	var endedAt sql.NullInt64
	var safeMode, pinned int
	if err := r.Scan(&sess.SessionID, &sess.CreatedAt, &endedAt, &sess.OriginTabs, &sess.OriginWindow,
		&sess.URLInitial, &sess.URLLast, &sess.ViewportWidth, &sess.ViewportHeight, &sess.DPR,
		&sess.UserAgent, &safeMode, &pinned); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Int64
	}
	sess.SafeMode = safeMode != 0
	sess.Pinned = pinned != 0
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
