package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/basinlabs/browserbridge/internal/wire"
)

// EventFilter selects events for RecentEvents/NavigationHistory/ConsoleEvents.
// Exactly one of SessionID or OriginFilter is expected to be set by callers
// (spec.md §4.7: "session-id or url filter, at least one required").
type EventFilter struct {
	SessionID    string
	OriginFilter string
	Kinds        []wire.StoredKind
	Limit        int // caller passes limit+1 to detect truncation
	Offset       int
}

// recentEventsOriginScanCap bounds how many rows RecentEvents pulls before
// applying an origin filter in Go (origin-or-payload-URL matching can't be
// pushed into SQL), so pagination over a filtered view stays correct without
// scanning the whole table.
const recentEventsOriginScanCap = 5000

// RecentEvents returns events ordered by ts desc, honoring session or origin
// filter plus an optional kind allowlist.
func (s *Store) RecentEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	query := `SELECT id, session_id, ts, type, payload, tab_id, origin FROM events WHERE 1=1`
	var args []any

	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if len(f.Kinds) > 0 {
		placeholders := ""
		for i, k := range f.Kinds {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, string(k))
		}
		query += fmt.Sprintf(` AND type IN (%s)`, placeholders)
	}
	query += ` ORDER BY ts DESC`

	if f.OriginFilter == "" {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("store: recent events: %w", err)
		}
		defer rows.Close()
		return scanEvents(rows)
	}

	// Origin filtering happens after SQL returns rows, so fetch a wider
	// window (capped) and then slice out [offset, offset+limit) ourselves.
	query += ` LIMIT ?`
	args = append(args, recentEventsOriginScanCap)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	events = filterByOrigin(events, f.OriginFilter)

	if f.Offset >= len(events) {
		return nil, nil
	}
	end := f.Offset + f.Limit
	if end > len(events) {
		end = len(events)
	}
	return events[f.Offset:end], nil
}

func filterByOrigin(events []Event, origin string) []Event {
	out := events[:0]
	for _, ev := range events {
		if eventMatchesOrigin(ev.Origin, ev.Payload, origin) {
			out = append(out, ev)
		}
	}
	return out
}

// NavigationHistory returns nav-kind events for a session or origin filter.
func (s *Store) NavigationHistory(ctx context.Context, f EventFilter) ([]Event, error) {
	f.Kinds = []wire.StoredKind{wire.KindNav}
	return s.RecentEvents(ctx, f)
}

// ConsoleLevel filters console events by level found in the payload's
// "level" field (e.g. log/info/warn/error).
type ConsoleFilter struct {
	EventFilter
	Level string
}

// ConsoleEvents returns console-kind events, optionally filtered by level.
func (s *Store) ConsoleEvents(ctx context.Context, f ConsoleFilter) ([]Event, error) {
	f.Kinds = []wire.StoredKind{wire.KindConsole}
	events, err := s.RecentEvents(ctx, f.EventFilter)
	if err != nil {
		return nil, err
	}
	if f.Level == "" {
		return events, nil
	}
	out := events[:0]
	for _, ev := range events {
		if payloadStringField(ev.Payload, "level") == f.Level {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ElementRefsBySelector returns element_ref events matching a selector found
// in the payload's "selector" field.
func (s *Store) ElementRefsBySelector(ctx context.Context, sessionID, selector string, limit, offset int) ([]Event, error) {
	events, err := s.RecentEvents(ctx, EventFilter{
		SessionID: sessionID,
		Kinds:     []wire.StoredKind{wire.KindElementRef},
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, err
	}
	out := events[:0]
	for _, ev := range events {
		if payloadStringField(ev.Payload, "selector") == selector {
			out = append(out, ev)
		}
	}
	return out, nil
}

// NetworkFilter selects network rows for get_network_failures.
type NetworkFilter struct {
	SessionID    string
	OriginFilter string
	ErrorType    string
	Limit        int
	Offset       int
}

// NetworkFailures returns rows where IsFailure() is true: any row with a
// non-null error class, or status >= 400.
func (s *Store) NetworkFailures(ctx context.Context, f NetworkFilter) ([]NetworkRecord, error) {
	query := `SELECT id, session_id, ts, duration_ms, method, url, origin, status, initiator, error_class, size_bytes
		FROM network_records WHERE (error_class IS NOT NULL OR status >= 400)`
	var args []any
	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.ErrorType != "" {
		query += ` AND error_class = ?`
		args = append(args, f.ErrorType)
	}
	if f.OriginFilter != "" {
		query += ` AND origin = ?`
		args = append(args, f.OriginFilter)
	}
	query += ` ORDER BY ts DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: network failures: %w", err)
	}
	defer rows.Close()
	records, err := scanNetwork(rows)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ErrorFingerprints returns fingerprints ordered by count desc, last-seen desc.
func (s *Store) ErrorFingerprints(ctx context.Context, sessionID string, sinceMs int64, limit, offset int) ([]ErrorFingerprint, error) {
	query := `SELECT id, session_id, count, sample_message, sample_stack, first_seen, last_seen FROM error_fingerprints WHERE 1=1`
	var args []any
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if sinceMs > 0 {
		query += ` AND last_seen >= ?`
		args = append(args, sinceMs)
	}
	query += ` ORDER BY count DESC, last_seen DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ErrorFingerprint
	for rows.Next() {
		var fp ErrorFingerprint
		if err := rows.Scan(&fp.ID, &fp.SessionID, &fp.Count, &fp.SampleMessage, &fp.SampleStack, &fp.FirstSeen, &fp.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// SessionSummary aggregates the counts get_session_summary needs.
type SessionSummary struct {
	SessionID            string `json:"sessionId"`
	ErrorCount           int    `json:"errorCount"`
	ConsoleWarnCount     int    `json:"consoleWarnCount"`
	NetworkFailureCount  int    `json:"networkFailureCount"`
	MinTs                int64  `json:"minTs"`
	MaxTs                int64  `json:"maxTs"`
	LastURL              string `json:"lastUrl"`
}

// GetSessionSummary computes per-session counts and time range.
func (s *Store) GetSessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	sum := &SessionSummary{SessionID: sessionID}

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session_id = ? AND type = 'error'`, sessionID).Scan(&sum.ErrorCount)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM events WHERE session_id = ? AND type = 'console'`, sessionID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return nil, err
		}
		if payloadStringField([]byte(payload), "level") == "warn" {
			sum.ConsoleWarnCount++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM network_records WHERE session_id = ? AND (error_class IS NOT NULL OR status >= 400)`, sessionID).Scan(&sum.NetworkFailureCount)
	if err != nil {
		return nil, err
	}

	var minTs, maxTs sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT MIN(ts), MAX(ts) FROM events WHERE session_id = ?`, sessionID).Scan(&minTs, &maxTs)
	if err != nil {
		return nil, err
	}
	sum.MinTs = minTs.Int64
	sum.MaxTs = maxTs.Int64

	var lastNavPayload sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT payload FROM events WHERE session_id = ? AND type = 'nav' ORDER BY ts DESC LIMIT 1`, sessionID).Scan(&lastNavPayload)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if lastNavPayload.Valid {
		sum.LastURL = payloadStringField([]byte(lastNavPayload.String), "url")
	}
	if sum.LastURL == "" {
		sess, err := s.GetSession(ctx, sessionID)
		if err == nil {
			sum.LastURL = sess.URLLast
		}
	}
	return sum, nil
}

// TimelineWindow returns all events for a session within [fromTs, toTs].
func (s *Store) TimelineWindow(ctx context.Context, sessionID string, fromTs, toTs int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, ts, type, payload, tab_id, origin FROM events
		WHERE session_id = ? AND ts BETWEEN ? AND ? ORDER BY ts ASC`, sessionID, fromTs, toTs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// NetworkWindow returns network rows for a session within [fromTs, toTs].
func (s *Store) NetworkWindow(ctx context.Context, sessionID string, fromTs, toTs int64) ([]NetworkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, ts, duration_ms, method, url, origin, status, initiator, error_class, size_bytes
		FROM network_records WHERE session_id = ? AND ts BETWEEN ? AND ? ORDER BY ts ASC`, sessionID, fromTs, toTs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNetwork(rows)
}

// GetEvent fetches one event row by id.
func (s *Store) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, session_id, ts, type, payload, tab_id, origin FROM events WHERE id = ?`, id)
	var ev Event
	var tabID sql.NullInt64
	var origin sql.NullString
	var payload, kind string
	if err := row.Scan(&ev.ID, &ev.SessionID, &ev.Timestamp, &kind, &payload, &tabID, &origin); err != nil {
		return nil, err
	}
	ev.Kind = wire.StoredKind(kind)
	ev.Payload = []byte(payload)
	if tabID.Valid {
		ev.TabID = &tabID.Int64
	}
	ev.Origin = origin.String
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var ev Event
		var tabID sql.NullInt64
		var origin sql.NullString
		var payload, kind string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Timestamp, &kind, &payload, &tabID, &origin); err != nil {
			return nil, err
		}
		ev.Kind = wire.StoredKind(kind)
		ev.Payload = []byte(payload)
		if tabID.Valid {
			ev.TabID = &tabID.Int64
		}
		ev.Origin = origin.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanNetwork(rows *sql.Rows) ([]NetworkRecord, error) {
	var out []NetworkRecord
	for rows.Next() {
		var n NetworkRecord
		var origin, errClass sql.NullString
		var status sql.NullInt64
		if err := rows.Scan(&n.ID, &n.SessionID, &n.Timestamp, &n.DurationMs, &n.Method, &n.URL, &origin, &status, &n.Initiator, &errClass, &n.SizeBytes); err != nil {
			return nil, err
		}
		n.Origin = origin.String
		n.ErrorClass = errClass.String
		if status.Valid {
			v := int(status.Int64)
			n.Status = &v
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func payloadStringField(payload []byte, field string) string {
	var tree map[string]any
	if err := json.Unmarshal(payload, &tree); err != nil {
		return ""
	}
	v, ok := tree[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
