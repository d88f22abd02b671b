package admin

import (
	"encoding/base64"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/basinlabs/browserbridge/internal/store"
)

const maxImportBodyBytes = 256 << 20 // 256MiB: ZIP export bundles can carry many PNG assets

// handleHealth answers GET /health: a liveness probe plus uptime, grounded
// on the teacher's health.go (uptime, counters) but reporting this server's
// own shape.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"uptimeMs":   time.Since(s.startedAt).Milliseconds(),
		"goVersion":  runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
	})
}

// handleStats answers GET /stats: database size and session count, the
// numbers an operator dashboard needs to judge retention pressure.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	dbSize, err := s.store.DBSizeBytes()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	count, err := s.store.CountSessions(ctx)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"dbSizeBytes":  dbSize,
		"sessionCount": count,
		"dataDir":      s.store.DataDir(),
		"settings":     settings,
	})
}

// handleRetentionSettings answers GET/POST /retention/settings: read the
// singleton settings row, or update it (partial updates not supported — the
// caller submits the full ServerSettings shape, matching store.UpdateSettings).
func (s *Server) handleRetentionSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		settings, err := s.store.GetSettings(ctx)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
		jsonResponse(w, http.StatusOK, settings)
	case http.MethodPost:
		var in store.ServerSettings
		if err := decodeJSONBody(r, &in); err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.store.UpdateSettings(ctx, in); err != nil {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
		jsonResponse(w, http.StatusOK, in)
	default:
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRunCleanup answers POST /retention/run-cleanup: forces one
// retention pass regardless of the configured interval. Concurrent calls
// (or a call landing mid-scheduled-tick) collapse via the Engine's
// singleflight group, so this never races the background loop.
func (s *Server) handleRunCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	result, err := s.retention.Run(r.Context(), time.Now())
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// handleSessionsList answers GET /sessions: recent sessions plus their live
// connection state, the same shape list_sessions returns to a tool caller,
// so the dashboard and the MCP client never disagree about what's connected.
func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 50)
	offset := parseIntDefault(q.Get("offset"), 0)
	sinceMinutes := int64(parseIntDefault(q.Get("sinceMinutes"), 0))

	sessions, err := s.store.ListRecentSessions(r.Context(), sinceMinutes, limit, offset)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		entry := map[string]any{}
		entry["sessionId"] = sess.SessionID
		entry["createdAt"] = sess.CreatedAt
		entry["endedAt"] = sess.EndedAt
		entry["urlLast"] = sess.URLLast
		entry["pinned"] = sess.Pinned
		entry["safeMode"] = sess.SafeMode
		if cs, bound := s.sessions.ConnectionState(sess.SessionID); bound {
			entry["connection"] = cs
		}
		out = append(out, entry)
	}

	jsonResponse(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleSessionSubroute dispatches /sessions/:id/{pin,export,entries,snapshots}
// by splitting the path, since net/http's classic ServeMux (no Go 1.22
// method-pattern routing assumed here, matching the teacher's plain
// http.ServeMux style) doesn't do path-parameter matching itself.
func (s *Server) handleSessionSubroute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		jsonError(w, http.StatusNotFound, "not found")
		return
	}
	sessionID, action := parts[0], parts[1]

	switch action {
	case "pin":
		s.handleSessionPin(w, r, sessionID)
	case "export":
		s.handleSessionExport(w, r, sessionID)
	case "entries":
		s.handleSessionEntries(w, r, sessionID)
	case "snapshots":
		s.handleSessionSnapshots(w, r, sessionID)
	default:
		jsonError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleSessionPin(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Pinned *bool `json:"pinned"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	pinned := true
	if body.Pinned != nil {
		pinned = *body.Pinned
	}
	if err := s.store.PinSession(r.Context(), sessionID, pinned); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"sessionId": sessionID, "pinned": pinned})
}

// handleSessionExport answers POST /sessions/:id/export. ?format=zip (the
// default) streams a ZIP bundle including PNG assets; ?format=json returns
// the JSON payload inline, with PNGs inlined as base64 if ?includePng=true.
func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "zip"
	}

	switch format {
	case "zip":
		zipBytes, err := s.store.ExportSessionZIP(r.Context(), sessionID)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", "attachment; filename=\""+sessionID+".zip\"")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(zipBytes)
	case "json":
		includePNG := r.URL.Query().Get("includePng") == "true"
		payload, err := s.store.ExportSessionJSON(r.Context(), sessionID, includePNG)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, err.Error())
			return
		}
		jsonResponse(w, http.StatusOK, payload)
	default:
		jsonError(w, http.StatusBadRequest, "unknown format: "+format)
	}
}

// handleSessionsImport answers POST /sessions/import. A ZIP body (or one
// base64-framed as {"zipBase64": "..."}) re-creates a session with a fresh
// id, per store.ImportSessionZIP.
func (s *Server) handleSessionsImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	var zipBytes []byte
	if strings.Contains(contentType, "application/json") {
		var body struct {
			ZipBase64 string `json:"zipBase64"`
		}
		if err := decodeJSONBody(r, &body); err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(body.ZipBase64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid zipBase64")
			return
		}
		zipBytes = decoded
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBodyBytes))
		if err != nil {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
		zipBytes = body
	}

	newSessionID, err := s.store.ImportSessionZIP(r.Context(), zipBytes, time.Now().UnixMilli())
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"sessionId": newSessionID})
}

// handleSessionEntries answers GET /sessions/:id/entries: the raw event
// rows for a session, newest first, for the dashboard's timeline view.
func (s *Server) handleSessionEntries(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 100)
	offset := parseIntDefault(q.Get("offset"), 0)

	events, err := s.store.RecentEvents(r.Context(), store.EventFilter{
		SessionID: sessionID,
		Limit:     limit + 1,
		Offset:    offset,
	})
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	truncated := len(events) > limit
	if truncated {
		events = events[:limit]
	}
	jsonResponse(w, http.StatusOK, map[string]any{"entries": events, "truncated": truncated})
}

// handleSessionSnapshots answers GET /sessions/:id/snapshots.
func (s *Server) handleSessionSnapshots(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 25)
	offset := parseIntDefault(q.Get("offset"), 0)

	snaps, err := s.store.ListSnapshots(r.Context(), sessionID, limit, offset)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

// handleDBReset answers POST /db/reset: a destructive, operator-only wipe
// of every session and snapshot asset. Requires ?confirm=yes so a stray
// curl/POST from a dashboard bug can't wipe the database by accident.
func (s *Server) handleDBReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.URL.Query().Get("confirm") != "yes" {
		jsonError(w, http.StatusBadRequest, "pass ?confirm=yes to reset the database")
		return
	}
	if err := s.store.ResetAll(r.Context()); err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"reset": true})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
