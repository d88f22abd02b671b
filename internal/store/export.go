package store

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/basinlabs/browserbridge/internal/idgen"
	"github.com/basinlabs/browserbridge/internal/wire"
)

// pngMagic is the canonical PNG file signature, used to verify ZIP-exported
// assets (spec.md §4.4).
var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// maxImportRecordsPerSection caps each section of an import payload.
const maxImportRecordsPerSection = 100_000

// ExportPayload is the full JSON export shape for one session.
type ExportPayload struct {
	Session      Session            `json:"session"`
	Events       []ExportEvent      `json:"events"`
	Network      []NetworkRecord    `json:"network"`
	Fingerprints []ErrorFingerprint `json:"errorFingerprints"`
	Snapshots    []ExportSnapshot   `json:"snapshots"`
}

// ExportEvent carries the payload as a raw JSON value for round-tripping.
type ExportEvent struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	TabID     *int64          `json:"tabId,omitempty"`
	Origin    string          `json:"origin,omitempty"`
}

// ExportSnapshot mirrors Snapshot but optionally inlines the PNG as base64.
type ExportSnapshot struct {
	Snapshot
	PNGBase64 string `json:"pngBase64,omitempty"`
}

// ExportSessionJSON builds the full JSON export payload for one session,
// optionally inlining PNG bytes as base64.
func (s *Store) ExportSessionJSON(ctx context.Context, sessionID string, includePNGBase64 bool) (*ExportPayload, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := s.RecentEvents(ctx, EventFilter{SessionID: sessionID, Limit: 1_000_000})
	if err != nil {
		return nil, err
	}
	network, err := s.NetworkWindow(ctx, sessionID, 0, 1<<62)
	if err != nil {
		return nil, err
	}
	fps, err := s.ErrorFingerprints(ctx, sessionID, 0, 1_000_000, 0)
	if err != nil {
		return nil, err
	}
	snaps, err := s.ListSnapshots(ctx, sessionID, 1_000_000, 0)
	if err != nil {
		return nil, err
	}

	payload := &ExportPayload{
		Session:      *sess,
		Network:      network,
		Fingerprints: fps,
	}
	for _, ev := range events {
		payload.Events = append(payload.Events, ExportEvent{
			ID: ev.ID, Timestamp: ev.Timestamp, Kind: string(ev.Kind),
			Payload: json.RawMessage(ev.Payload), TabID: ev.TabID, Origin: ev.Origin,
		})
	}
	for _, snap := range snaps {
		es := ExportSnapshot{Snapshot: snap}
		if includePNGBase64 && snap.PNGPath != "" {
			absPath, err := s.resolveAssetPath(snap.PNGPath)
			if err == nil {
				raw, readErr := os.ReadFile(absPath) // #nosec G304 -- path validated by resolveAssetPath
				if readErr == nil {
					es.PNGBase64 = base64.StdEncoding.EncodeToString(raw)
				}
			}
		}
		payload.Snapshots = append(payload.Snapshots, es)
	}
	return payload, nil
}

// ExportSessionZIP packages one session as manifest.json plus referenced PNG
// files, verifying each PNG's magic bytes before writing it into the archive.
func (s *Store) ExportSessionZIP(ctx context.Context, sessionID string) ([]byte, error) {
	payload, err := s.ExportSessionJSON(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifestJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("store: marshal manifest: %w", err)
	}
	mw, err := zw.Create("manifest.json")
	if err != nil {
		return nil, err
	}
	if _, err := mw.Write(manifestJSON); err != nil {
		return nil, err
	}

	for _, snap := range payload.Snapshots {
		if snap.PNGPath == "" {
			continue
		}
		absPath, err := s.resolveAssetPath(snap.PNGPath)
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(absPath) // #nosec G304 -- path validated by resolveAssetPath
		if err != nil {
			continue
		}
		if len(raw) < len(pngMagic) || !bytes.Equal(raw[:len(pngMagic)], pngMagic) {
			continue
		}
		fw, err := zw.Create(filepath.ToSlash(snap.PNGPath))
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(raw); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ImportSessionJSON imports a JSON export payload inside a single
// transaction. Session-id collisions are remapped to
// `<sanitized>-import-<ms-epoch>`. Unknown event kinds coerce to ui; unknown
// initiator/error-class coerce to null/other.
func (s *Store) ImportSessionJSON(ctx context.Context, payload ExportPayload, nowMs int64) (newSessionID string, err error) {
	if len(payload.Events) > maxImportRecordsPerSection ||
		len(payload.Network) > maxImportRecordsPerSection ||
		len(payload.Fingerprints) > maxImportRecordsPerSection ||
		len(payload.Snapshots) > maxImportRecordsPerSection {
		return "", fmt.Errorf("store: import section exceeds %d record cap", maxImportRecordsPerSection)
	}

	sessionID := payload.Session.SessionID
	if exists, err := s.SessionExists(ctx, sessionID); err != nil {
		return "", err
	} else if exists {
		sessionID = fmt.Sprintf("%s-import-%d", idgen.SanitizeForPath(payload.Session.SessionID), nowMs)
	}

	txErr := s.withTx(ctx, func(tx *sql.Tx) error {
		if insertErr := s.importSessionRowTx(ctx, tx, sessionID, payload.Session); insertErr != nil {
			return insertErr
		}
		for _, ev := range payload.Events {
			kind := normalizeImportKind(ev.Kind)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO events (id, session_id, ts, type, payload, tab_id, origin) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				idgen.NewRowID(), sessionID, ev.Timestamp, kind, string(ev.Payload), nullableInt64(ev.TabID), nullableString(ev.Origin)); err != nil {
				return fmt.Errorf("store: import event: %w", err)
			}
		}
		for _, n := range payload.Network {
			initiator := n.Initiator
			if !validInitiator(initiator) {
				initiator = InitiatorOther
			}
			errClass := n.ErrorClass
			if errClass != "" && !validErrorClass(errClass) {
				errClass = ""
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO network_records (id, session_id, ts, duration_ms, method, url, origin, status, initiator, error_class, size_bytes)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				idgen.NewRowID(), sessionID, n.Timestamp, n.DurationMs, n.Method, n.URL, nullableString(n.Origin), nullableIntPtr(n.Status), initiator, nullableString(errClass), n.SizeBytes); err != nil {
				return fmt.Errorf("store: import network: %w", err)
			}
		}
		for _, fp := range payload.Fingerprints {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO error_fingerprints (id, session_id, count, sample_message, sample_stack, first_seen, last_seen)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET count = count + excluded.count, last_seen = excluded.last_seen`,
				fp.ID, sessionID, fp.Count, fp.SampleMessage, fp.SampleStack, fp.FirstSeen, fp.LastSeen); err != nil {
				return fmt.Errorf("store: import fingerprint: %w", err)
			}
		}
		for _, snap := range payload.Snapshots {
			if err := s.importSnapshotTx(ctx, tx, sessionID, snap); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		return "", txErr
	}
	return sessionID, nil
}

func (s *Store) importSessionRowTx(ctx context.Context, tx *sql.Tx, sessionID string, sess Session) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, ended_at, origin_tabs, origin_window,
			url_initial, url_last, viewport_width, viewport_height, dpr, user_agent, safe_mode, pinned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, sess.CreatedAt, nullableInt64(sess.EndedAt), sess.OriginTabs, sess.OriginWindow,
		sess.URLInitial, sess.URLLast, sess.ViewportWidth, sess.ViewportHeight, sess.DPR,
		sess.UserAgent, boolToInt(sess.SafeMode), boolToInt(sess.Pinned))
	return err
}

// importSnapshotTx re-persists a snapshot's PNG onto disk under the new
// session id; a manifest entry referencing a missing asset is an error.
func (s *Store) importSnapshotTx(ctx context.Context, tx *sql.Tx, sessionID string, snap ExportSnapshot) error {
	var pngPath string
	if snap.PNGBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(snap.PNGBase64)
		if err != nil {
			return fmt.Errorf("store: import snapshot png decode: %w", err)
		}
		sanitizedSession := idgen.SanitizeForPath(sessionID)
		rel := filepath.Join(AssetDirName, sanitizedSession, snap.ID+".png")
		abs := filepath.Join(s.dataDir, rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(abs, raw, 0o644); err != nil {
			return err
		}
		pngPath = rel
	} else if snap.PNGPath != "" {
		return ErrSnapshotAssetMissing
	}

	mode := snap.Mode
	if !validMode(mode) {
		mode = SnapshotModeDOM
	}
	styleMode := snap.StyleMode
	if !validStyleMode(styleMode) {
		styleMode = StyleModeLite
	}
	trigger := snap.Trigger
	if !validTrigger(trigger) {
		trigger = SnapshotTriggerManual
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, session_id, trigger_event_id, ts, trigger, selector, url, mode, style_mode,
			dom_json, styles_json, png_path, png_mime, png_bytes, dom_truncated, styles_truncated, png_truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, sessionID, nullableStringPtr(snap.TriggerEventID), snap.Timestamp, trigger, snap.Selector, snap.URL, mode, styleMode,
		nullableBytes(snap.DOMJSON), nullableBytes(snap.StylesJSON), nullableString(pngPath), nullableString(snap.PNGMime), snap.PNGBytes,
		boolToInt(snap.DOMTruncated), boolToInt(snap.StylesTruncated), boolToInt(snap.PNGTruncated))
	return err
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

// normalizeImportKind coerces an unrecognized stored kind to "ui" per
// spec.md §4.4's import coercion rule.
func normalizeImportKind(kind string) string {
	if wire.ValidKinds[wire.StoredKind(kind)] {
		return kind
	}
	return string(wire.KindUI)
}

// ImportSessionZIP reads a manifest.json plus PNG assets from a ZIP archive
// (as produced by ExportSessionZIP) and imports it the same way as JSON.
func (s *Store) ImportSessionZIP(ctx context.Context, zipBytes []byte, nowMs int64) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return "", fmt.Errorf("store: open zip: %w", err)
	}

	var manifest ExportPayload
	var manifestFound bool
	pngFiles := make(map[string][]byte)

	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		switch {
		case f.Name == "manifest.json":
			if err := json.Unmarshal(data, &manifest); err != nil {
				return "", fmt.Errorf("store: parse manifest: %w", err)
			}
			manifestFound = true
		default:
			pngFiles[filepath.ToSlash(f.Name)] = data
		}
	}
	if !manifestFound {
		return "", fmt.Errorf("store: zip missing manifest.json")
	}

	for i, snap := range manifest.Snapshots {
		if snap.PNGPath == "" {
			continue
		}
		data, ok := pngFiles[filepath.ToSlash(snap.PNGPath)]
		if !ok {
			return "", fmt.Errorf("store: %w: %s", ErrSnapshotAssetMissing, snap.PNGPath)
		}
		if len(data) < len(pngMagic) || !bytes.Equal(data[:len(pngMagic)], pngMagic) {
			return "", fmt.Errorf("store: asset %s is not a valid PNG", snap.PNGPath)
		}
		manifest.Snapshots[i].PNGBase64 = base64.StdEncoding.EncodeToString(data)
	}

	return s.ImportSessionJSON(ctx, manifest, nowMs)
}
