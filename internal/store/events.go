package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/basinlabs/browserbridge/internal/idgen"
	"github.com/basinlabs/browserbridge/internal/wire"
)

// EventInput is one inbound event, already redacted, ready for InsertEventBatch.
type EventInput struct {
	SessionID string
	Timestamp int64
	EventType string // original wire eventType, e.g. "click", "navigation"
	TabID     *int64
	Origin    string
	Payload   json.RawMessage
}

// payloadEnvelope is the subset of an event payload InsertEventBatch reads to
// derive tab-id/origin when the envelope omits them, and to special-case
// network/error/snapshot rows.
type payloadEnvelope struct {
	TabID   *int64 `json:"tabId,omitempty"`
	URL     string `json:"url,omitempty"`
	Origin  string `json:"origin,omitempty"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`

	Method     string `json:"method,omitempty"`
	Status     *int   `json:"status,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Initiator  string `json:"initiator,omitempty"`
	ErrorClass string `json:"errorClass,omitempty"`
	SizeBytes  int64  `json:"sizeBytes,omitempty"`

	Trigger        string          `json:"trigger,omitempty"`
	TriggerEventID string          `json:"triggerEventId,omitempty"`
	Selector       string          `json:"selector,omitempty"`
	Mode           string          `json:"mode,omitempty"`
	StyleMode      string          `json:"styleMode,omitempty"`
	DOM            json.RawMessage `json:"dom,omitempty"`
	Styles         json.RawMessage `json:"styles,omitempty"`
	PNGDataURL     string          `json:"pngDataUrl,omitempty"`
}

// InsertEventBatch inserts every event in a single transaction. Per spec.md
// §4.1: normalize kind mapping, extract tab-id/origin from either the
// envelope or payload, insert into events; error kinds also upsert
// error_fingerprints; network kinds also insert a network_records row;
// ui_snapshot inbound type also persists a snapshot.
func (s *Store) InsertEventBatch(ctx context.Context, events []EventInput) error {
	if len(events) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ev := range events {
			if err := s.insertOneEventTx(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertOneEventTx(ctx context.Context, tx *sql.Tx, ev EventInput) error {
	var env payloadEnvelope
	_ = json.Unmarshal(ev.Payload, &env) // best-effort; malformed payload still stores as opaque JSON

	tabID := ev.TabID
	if tabID == nil {
		tabID = env.TabID
	}
	origin := ev.Origin
	if origin == "" {
		origin = NormalizeOrigin(env.URL)
	}
	if origin == "" {
		origin = NormalizeOrigin(env.Origin)
	}

	kind := wire.MapEventType(ev.EventType)
	id := idgen.NewRowID()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, session_id, ts, type, payload, tab_id, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, ev.SessionID, ev.Timestamp, string(kind), string(ev.Payload), nullableInt64(tabID), nullableString(origin)); err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}

	switch {
	case kind == wire.KindError:
		if err := s.upsertFingerprintTx(ctx, tx, ev.SessionID, env.Message, env.Stack, ev.Timestamp); err != nil {
			return err
		}
	case kind == wire.KindNetwork:
		if err := s.insertNetworkTx(ctx, tx, ev.SessionID, ev.Timestamp, env, origin); err != nil {
			return err
		}
	case ev.EventType == wire.EventTypeUISnapshot:
		if err := s.persistSnapshotTx(ctx, tx, ev.SessionID, ev.Timestamp, id, env); err != nil {
			return err
		}
	case ev.EventType == wire.EventTypeNavigation:
		if env.URL != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET url_last = ? WHERE session_id = ?`, env.URL, ev.SessionID); err != nil {
				return fmt.Errorf("store: update url_last: %w", err)
			}
		}
	}
	return nil
}

// upsertFingerprintTx implements spec.md §3's ErrorFingerprint invariant:
// inserts are idempotent under the id; count increments and last-seen bumps
// on collision.
func (s *Store) upsertFingerprintTx(ctx context.Context, tx *sql.Tx, sessionID, message, stack string, ts int64) error {
	fpID := idgen.ErrorFingerprintID(message, stack)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO error_fingerprints (id, session_id, count, sample_message, sample_stack, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET count = count + 1, last_seen = excluded.last_seen`,
		fpID, sessionID, message, stack, ts, ts)
	if err != nil {
		return fmt.Errorf("store: upsert fingerprint: %w", err)
	}
	return nil
}

func (s *Store) insertNetworkTx(ctx context.Context, tx *sql.Tx, sessionID string, ts int64, env payloadEnvelope, origin string) error {
	initiator := env.Initiator
	if !validInitiator(initiator) {
		initiator = InitiatorOther
	}
	errClass := env.ErrorClass
	if errClass != "" && !validErrorClass(errClass) {
		errClass = ErrClassUnknown
	}
	id := idgen.NewRowID()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO network_records (id, session_id, ts, duration_ms, method, url, origin, status, initiator, error_class, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, ts, env.DurationMs, env.Method, env.URL, nullableString(origin), nullableIntPtr(env.Status), initiator, nullableString(errClass), env.SizeBytes)
	if err != nil {
		return fmt.Errorf("store: insert network: %w", err)
	}
	return nil
}

func validInitiator(v string) bool {
	switch v {
	case InitiatorFetch, InitiatorXHR, InitiatorImg, InitiatorScript, InitiatorOther:
		return true
	}
	return false
}

func validErrorClass(v string) bool {
	switch v {
	case ErrClassTimeout, ErrClassCORS, ErrClassDNS, ErrClassBlocked, ErrClassHTTPError, ErrClassUnknown:
		return true
	}
	return false
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
