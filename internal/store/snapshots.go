package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/basinlabs/browserbridge/internal/idgen"
)

const (
	domStylesMaxBytes = 512 * 1024
	pngMaxBytes       = 5 * 1024 * 1024
)

// ErrSnapshotTooLarge is returned when DOM/styles JSON exceeds its 512KiB
// budget, or a decoded PNG exceeds 5MiB (spec.md §4.2).
var ErrSnapshotTooLarge = errors.New("snapshot payload exceeds size budget")

// ErrSnapshotAssetMissing is returned when a referenced PNG asset file is
// absent or its resolved path escapes the asset tree (path-traversal guard).
var ErrSnapshotAssetMissing = errors.New("snapshot asset missing")

func (s *Store) persistSnapshotTx(ctx context.Context, tx *sql.Tx, sessionID string, ts int64, triggerEventID string, env payloadEnvelope) error {
	trigger := env.Trigger
	if !validTrigger(trigger) {
		trigger = SnapshotTriggerManual
	}
	mode := env.Mode
	if !validMode(mode) {
		mode = SnapshotModeDOM
	}
	styleMode := env.StyleMode
	if !validStyleMode(styleMode) {
		styleMode = StyleModeLite
	}

	var domJSON, stylesJSON []byte
	var domTruncated, stylesTruncated bool
	if len(env.DOM) > 0 {
		if len(env.DOM) > domStylesMaxBytes {
			domTruncated = true
		} else {
			domJSON = env.DOM
		}
	}
	if len(env.Styles) > 0 {
		if len(env.Styles) > domStylesMaxBytes {
			stylesTruncated = true
		} else {
			stylesJSON = env.Styles
		}
	}

	id := idgen.NewRowID()
	var pngPath, pngMime string
	var pngBytes int64
	var pngTruncated bool
	if env.PNGDataURL != "" {
		path, mime, n, truncated, err := s.writeSnapshotPNG(sessionID, id, env.PNGDataURL)
		if err != nil {
			return err
		}
		pngPath, pngMime, pngBytes, pngTruncated = path, mime, n, truncated
	}

	var triggerEventCol any
	if triggerEventID != "" {
		triggerEventCol = triggerEventID
	}
	eventIDCol := env.TriggerEventID
	if eventIDCol != "" {
		triggerEventCol = eventIDCol
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, session_id, trigger_event_id, ts, trigger, selector, url, mode, style_mode,
			dom_json, styles_json, png_path, png_mime, png_bytes, dom_truncated, styles_truncated, png_truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, triggerEventCol, ts, trigger, env.Selector, env.URL, mode, styleMode,
		nullableBytes(domJSON), nullableBytes(stylesJSON), nullableString(pngPath), nullableString(pngMime), pngBytes,
		boolToInt(domTruncated), boolToInt(stylesTruncated), boolToInt(pngTruncated))
	if err != nil {
		return fmt.Errorf("store: insert snapshot: %w", err)
	}
	return nil
}

func validTrigger(v string) bool {
	switch v {
	case SnapshotTriggerClick, SnapshotTriggerManual, SnapshotTriggerNavigation, SnapshotTriggerError:
		return true
	}
	return false
}

func validMode(v string) bool {
	switch v {
	case SnapshotModeDOM, SnapshotModePNG, SnapshotModeBoth:
		return true
	}
	return false
}

func validStyleMode(v string) bool {
	return v == StyleModeLite || v == StyleModeFull
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// writeSnapshotPNG decodes a data:image/png;base64,... URL, size-checks it
// against the 5MiB budget, and writes it under
// <dataDir>/snapshot-assets/<sanitized-session-id>/<snapshot-id>.png.
// Returns the path stored in the DB, which is relative to dataDir.
func (s *Store) writeSnapshotPNG(sessionID, snapshotID, dataURL string) (relPath, mime string, size int64, truncated bool, err error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		return "", "", 0, true, nil
	}
	raw, decodeErr := base64.StdEncoding.DecodeString(dataURL[len(prefix):])
	if decodeErr != nil {
		return "", "", 0, true, nil
	}
	if len(raw) > pngMaxBytes {
		return "", "", 0, true, nil
	}

	sanitizedSession := idgen.SanitizeForPath(sessionID)
	relPath = filepath.Join(AssetDirName, sanitizedSession, snapshotID+".png")
	absPath := filepath.Join(s.dataDir, relPath)

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", "", 0, false, fmt.Errorf("store: mkdir asset dir: %w", err)
	}
	if err := os.WriteFile(absPath, raw, 0o644); err != nil {
		return "", "", 0, false, fmt.Errorf("store: write asset: %w", err)
	}
	return relPath, "image/png", int64(len(raw)), false, nil
}

// resolveAssetPath re-resolves a stored relative asset path against the DB
// directory, rejecting any path that escapes that base (path-traversal
// defense, spec.md §4.2).
func (s *Store) resolveAssetPath(relPath string) (string, error) {
	if relPath == "" {
		return "", ErrSnapshotAssetMissing
	}
	base := filepath.Clean(s.dataDir)
	abs := filepath.Join(base, relPath)
	abs = filepath.Clean(abs)
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", fmt.Errorf("store: asset path escapes base: %s", relPath)
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", ErrSnapshotAssetMissing
		}
		return "", err
	}
	return abs, nil
}

// GetSnapshotAssetChunk reads up to chunkSize bytes starting at offset from
// a snapshot's PNG asset.
func (s *Store) GetSnapshotAssetChunk(ctx context.Context, snapshotID string, offset, chunkSize int64) ([]byte, bool, error) {
	snap, err := s.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, false, err
	}
	absPath, err := s.resolveAssetPath(snap.PNGPath)
	if err != nil {
		return nil, false, err
	}
	f, err := os.Open(absPath) // #nosec G304 -- path validated by resolveAssetPath
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	if offset >= info.Size() {
		return nil, false, nil
	}
	buf := make([]byte, chunkSize)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, false, err
	}
	hasMore := offset+int64(n) < info.Size()
	return buf[:n], hasMore, nil
}

// GetSnapshot fetches a single snapshot row by id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, trigger_event_id, ts, trigger, selector, url, mode, style_mode,
			dom_json, styles_json, png_path, png_mime, png_bytes, dom_truncated, styles_truncated, png_truncated
		FROM snapshots WHERE id = ?`, id)
	return scanSnapshot(row)
}

// GetSnapshotForEvent prefers the exact trigger_event_id link; falls back to
// the nearest-ts snapshot for the session within maxDeltaMs.
func (s *Store) GetSnapshotForEvent(ctx context.Context, eventID string, maxDeltaMs int64) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, trigger_event_id, ts, trigger, selector, url, mode, style_mode,
			dom_json, styles_json, png_path, png_mime, png_bytes, dom_truncated, styles_truncated, png_truncated
		FROM snapshots WHERE trigger_event_id = ? LIMIT 1`, eventID)
	snap, err := scanSnapshot(row)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var evSessionID string
	var evTs int64
	err = s.db.QueryRowContext(ctx, `SELECT session_id, ts FROM events WHERE id = ?`, eventID).Scan(&evSessionID, &evTs)
	if err != nil {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT id, session_id, trigger_event_id, ts, trigger, selector, url, mode, style_mode,
			dom_json, styles_json, png_path, png_mime, png_bytes, dom_truncated, styles_truncated, png_truncated
		FROM snapshots WHERE session_id = ? AND ts BETWEEN ? AND ?
		ORDER BY ABS(ts - ?) ASC LIMIT 1`, evSessionID, evTs-maxDeltaMs, evTs+maxDeltaMs, evTs)
	return scanSnapshot(row)
}

// ListSnapshots lists snapshots for a session, newest first.
func (s *Store) ListSnapshots(ctx context.Context, sessionID string, limit, offset int) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, trigger_event_id, ts, trigger, selector, url, mode, style_mode,
			dom_json, styles_json, png_path, png_mime, png_bytes, dom_truncated, styles_truncated, png_truncated
		FROM snapshots WHERE session_id = ? ORDER BY ts DESC LIMIT ? OFFSET ?`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func scanSnapshot(r rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var triggerEventID, selector, url, pngPath, pngMime sql.NullString
	var domJSON, stylesJSON sql.NullString
	var domTrunc, stylesTrunc, pngTrunc int
	if err := r.Scan(&snap.ID, &snap.SessionID, &triggerEventID, &snap.Timestamp, &snap.Trigger, &selector, &url,
		&snap.Mode, &snap.StyleMode, &domJSON, &stylesJSON, &pngPath, &pngMime, &snap.PNGBytes,
		&domTrunc, &stylesTrunc, &pngTrunc); err != nil {
		return nil, err
	}
	if triggerEventID.Valid {
		snap.TriggerEventID = &triggerEventID.String
	}
	snap.Selector = selector.String
	snap.URL = url.String
	snap.PNGPath = pngPath.String
	snap.PNGMime = pngMime.String
	if domJSON.Valid {
		snap.DOMJSON = []byte(domJSON.String)
	}
	if stylesJSON.Valid {
		snap.StylesJSON = []byte(stylesJSON.String)
	}
	snap.DOMTruncated = domTrunc != 0
	snap.StylesTruncated = stylesTrunc != 0
	snap.PNGTruncated = pngTrunc != 0
	return &snap, nil
}

// SweepOrphanAssets enumerates every file under snapshot-assets/ and deletes
// those whose relative path is not referenced in the snapshots table.
func (s *Store) SweepOrphanAssets(ctx context.Context) (deleted int, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT png_path FROM snapshots WHERE png_path IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		referenced[filepath.Clean(p)] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	assetRoot := filepath.Join(s.dataDir, AssetDirName)
	walkErr := filepath.WalkDir(assetRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.dataDir, path)
		if relErr != nil {
			return nil
		}
		if !referenced[filepath.Clean(rel)] {
			if rmErr := os.Remove(path); rmErr == nil {
				deleted++
			}
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return deleted, walkErr
	}
	return deleted, nil
}
