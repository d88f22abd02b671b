// Package ingest implements the Ingest Pipeline (spec.md §4.5): a single
// duplex websocket endpoint at /ws on the local HTTP listener. Each agent
// connection is a long-lived frame channel; session-lifecycle frames mutate
// Store + Session Registry, event frames are redacted then persisted, and
// capture_result frames resolve pending commands registered by V2 tool
// handlers via SendCapture.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/basinlabs/browserbridge/internal/redaction"
	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/store"
	"github.com/basinlabs/browserbridge/internal/util"
	"github.com/basinlabs/browserbridge/internal/wire"
)

// Liveness timing (spec.md §4.5, §5): probe every 30s, force-close after
// 30+10s of silence (including pongs).
const (
	probeInterval   = 30 * time.Second
	staleAfter      = 40 * time.Second
	writeWait       = 10 * time.Second
	maxFrameBytes   = 10 << 20 // 10 MiB: generous enough for a ui_snapshot event
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // local-only listener, spec.md §1 non-goals exclude auth
}

// Pipeline wires a websocket listener to the Store, Redactor, and Session
// Registry.
type Pipeline struct {
	store    *store.Store
	redactor *redaction.Redactor
	sessions *session.Registry
	log      zerolog.Logger
}

// New builds an Ingest Pipeline.
func New(s *store.Store, r *redaction.Redactor, registry *session.Registry, log zerolog.Logger) *Pipeline {
	return &Pipeline{store: s, redactor: r, sessions: registry, log: log.With().Str("component", "ingest").Logger()}
}

// ServeHTTP upgrades the request to a websocket and runs the connection's
// read loop until it closes.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &agentConn{
		id:   uuid.NewString(),
		ws:   wsConn,
		p:    p,
		done: make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().UnixMilli())
	util.SafeGo(c.livenessLoop)
	c.readLoop()
}

// SendCapture is the V2 tool handlers' entrypoint (spec.md §4.5): mint a
// command id, register it against the session's bound connection, send the
// capture_command frame, and block until either a capture_result arrives or
// the deadline fires.
func (p *Pipeline) SendCapture(ctx context.Context, sessionID, command string, payload json.RawMessage, timeout time.Duration) (session.CaptureResult, error) {
	pc, resultCh, err := p.sessions.SendCapture(sessionID, command, payload, int(timeout.Milliseconds()))
	if err != nil {
		return session.CaptureResult{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res, nil
	case <-timer.C:
		p.sessions.CancelCapture(sessionID, pc.CommandID)
		return session.CaptureResult{}, fmt.Errorf("Capture command timed out after %dms", timeout.Milliseconds())
	case <-ctx.Done():
		p.sessions.CancelCapture(sessionID, pc.CommandID)
		return session.CaptureResult{}, ctx.Err()
	}
}

// agentConn is one live browser-agent connection. Writes are serialized
// through writeMu because gorilla/websocket forbids concurrent writers.
type agentConn struct {
	id   string
	ws   *websocket.Conn
	p    *Pipeline
	done chan struct{}

	writeMu sync.Mutex

	mu             sync.Mutex
	boundSessionID string
	lastActivity   atomic.Int64
}

// ConnID satisfies session.Conn.
func (c *agentConn) ConnID() string { return c.id }

// SendCaptureCommand satisfies session.Conn: sends a capture_command frame.
func (c *agentConn) SendCaptureCommand(commandID, sessionID, command string, payload []byte, timeoutMs int) error {
	frame := wire.CaptureCommand{
		Type:      wire.FrameCaptureCmd,
		CommandID: commandID,
		SessionID: sessionID,
		Command:   command,
		Payload:   payload,
		TimeoutMs: timeoutMs,
	}
	return c.writeJSON(frame)
}

func (c *agentConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *agentConn) touch() {
	c.lastActivity.Store(time.Now().UnixMilli())
}

func (c *agentConn) readLoop() {
	defer c.close(session.DisconnectNormalClosure)
	c.ws.SetReadLimit(maxFrameBytes)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.close(session.DisconnectAbnormalClose)
			} else {
				c.close(session.DisconnectNormalClosure)
			}
			return
		}
		c.touch()
		c.dispatch(raw)
	}
}

func (c *agentConn) dispatch(raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError("INVALID_MESSAGE", "frame is not valid JSON")
		return
	}

	ctx := context.Background()
	switch env.Type {
	case wire.FramePing:
		_ = c.writeJSON(map[string]string{"type": string(wire.FramePong)})
	case wire.FramePong:
		// lastActivity already touched in readLoop.
	case wire.FrameSessionStart:
		c.handleSessionStart(ctx, raw)
	case wire.FrameSessionEnd:
		c.handleSessionEnd(ctx, raw)
	case wire.FrameEvent:
		c.handleEvent(ctx, raw)
	case wire.FrameEventBatch:
		c.handleEventBatch(ctx, raw)
	case wire.FrameCaptureResult:
		c.handleCaptureResult(raw)
	default:
		c.sendError("UNKNOWN_TYPE", fmt.Sprintf("unrecognized frame type %q", env.Type))
	}
}

func (c *agentConn) handleSessionStart(ctx context.Context, raw []byte) {
	var f wire.SessionStart
	if err := json.Unmarshal(raw, &f); err != nil {
		c.sendError("INVALID_MESSAGE", "malformed session_start frame")
		return
	}
	meta := store.SessionMeta{
		SessionID: f.SessionID,
		CreatedAt: time.Now().UnixMilli(),
		URL:       f.URL,
		TabID:     f.TabID,
		WindowID:  f.WindowID,
		UserAgent: f.UserAgent,
		SafeMode:  f.SafeMode,
		DPR:       f.DPR,
	}
	if f.Viewport != nil {
		meta.ViewportW = f.Viewport.Width
		meta.ViewportH = f.Viewport.Height
	}
	if _, err := c.p.store.CreateSession(ctx, meta); err != nil {
		c.p.log.Error().Err(err).Str("sessionId", f.SessionID).Msg("create session failed")
		c.sendError("INTERNAL_ERROR", "failed to create session")
		return
	}

	c.mu.Lock()
	c.boundSessionID = f.SessionID
	c.mu.Unlock()
	now := time.Now().UnixMilli()
	c.p.sessions.Bind(f.SessionID, c, now)
	if f.TabID != nil {
		c.p.sessions.SetTabScope(f.SessionID, []int64{*f.TabID})
	}
}

func (c *agentConn) handleSessionEnd(ctx context.Context, raw []byte) {
	var f wire.SessionEnd
	if err := json.Unmarshal(raw, &f); err != nil {
		c.sendError("INVALID_MESSAGE", "malformed session_end frame")
		return
	}
	if err := c.p.store.EndSession(ctx, f.SessionID, time.Now().UnixMilli()); err != nil {
		c.p.log.Error().Err(err).Str("sessionId", f.SessionID).Msg("end session failed")
	}
	c.mu.Lock()
	bound := c.boundSessionID
	if bound == f.SessionID {
		c.boundSessionID = ""
	}
	c.mu.Unlock()
	if bound == f.SessionID {
		c.p.sessions.Unbind(f.SessionID, time.Now().UnixMilli(), session.DisconnectManualStop)
	}
}

func (c *agentConn) handleEvent(ctx context.Context, raw []byte) {
	var f wire.Event
	if err := json.Unmarshal(raw, &f); err != nil {
		c.sendError("INVALID_MESSAGE", "malformed event frame")
		return
	}
	c.ingestEvents(ctx, f.SessionID, []wire.Event{f})
}

func (c *agentConn) handleEventBatch(ctx context.Context, raw []byte) {
	var f wire.EventBatch
	if err := json.Unmarshal(raw, &f); err != nil {
		c.sendError("INVALID_MESSAGE", "malformed event_batch frame")
		return
	}
	c.ingestEvents(ctx, f.SessionID, f.Events)
}

func (c *agentConn) ingestEvents(ctx context.Context, sessionID string, events []wire.Event) {
	exists, err := c.p.store.SessionExists(ctx, sessionID)
	if err != nil {
		c.sendError("INTERNAL_ERROR", "session lookup failed")
		return
	}
	if !exists {
		c.sendError("SESSION_NOT_FOUND", fmt.Sprintf("session %q is not known", sessionID))
		return
	}

	sess, err := c.p.store.GetSession(ctx, sessionID)
	safeMode := err == nil && sess.SafeMode

	inputs := make([]store.EventInput, 0, len(events))
	for _, ev := range events {
		if redaction.ShouldDropEventType(ev.EventType, safeMode) {
			continue
		}
		redacted, summary := c.p.redactor.RedactJSON(ev.Data)
		_ = summary // per-event summaries aren't persisted; redaction is pre-storage only

		c.mirrorLiveConsole(sessionID, ev)

		inputs = append(inputs, store.EventInput{
			SessionID: sessionID,
			Timestamp: ev.Timestamp,
			EventType: ev.EventType,
			TabID:     ev.TabID,
			Origin:    ev.Origin,
			Payload:   redacted,
		})
	}
	if len(inputs) == 0 {
		return
	}
	if err := c.p.store.InsertEventBatch(ctx, inputs); err != nil {
		c.p.log.Error().Err(err).Str("sessionId", sessionID).Msg("insert event batch failed")
		c.sendError("INTERNAL_ERROR", "failed to persist events")
	}
}

// mirrorLiveConsole copies console and runtime-error events into the
// Session Registry's ring so get_live_console_logs can serve them without a
// round-trip to the agent for already-seen entries (spec.md §4.5).
func (c *agentConn) mirrorLiveConsole(sessionID string, ev wire.Event) {
	if ev.EventType != wire.EventTypeConsole && ev.EventType != wire.EventTypeError {
		return
	}
	var payload struct {
		Level   string   `json:"level"`
		Message string   `json:"message"`
		Args    []string `json:"args"`
	}
	_ = json.Unmarshal(ev.Data, &payload)
	c.p.sessions.AppendConsole(sessionID, session.ConsoleEntry{
		Timestamp:      ev.Timestamp,
		Level:          payload.Level,
		Message:        payload.Message,
		Args:           payload.Args,
		TabID:          ev.TabID,
		Origin:         ev.Origin,
		IsRuntimeError: ev.EventType == wire.EventTypeError,
	})
}

func (c *agentConn) handleCaptureResult(raw []byte) {
	var f wire.CaptureResult
	if err := json.Unmarshal(raw, &f); err != nil {
		c.sendError("INVALID_MESSAGE", "malformed capture_result frame")
		return
	}
	c.p.sessions.ResolveCapture(f.SessionID, f.CommandID, session.CaptureResult{
		OK:        f.OK,
		Payload:   f.Payload,
		Truncated: f.Truncated,
		Error:     f.Error,
	})
}

func (c *agentConn) sendError(code, message string) {
	_ = c.writeJSON(wire.ErrorFrame{Type: wire.FrameError, Error: message, Code: code})
}

// livenessLoop enforces the 30+10s staleness timeout (spec.md §4.5, §5) by
// probing every 30s and force-closing once lastActivity is stale.
func (c *agentConn) livenessLoop() {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			last := time.UnixMilli(c.lastActivity.Load())
			if time.Since(last) > staleAfter {
				c.close(session.DisconnectStaleTimeout)
				return
			}
			_ = c.writeJSON(map[string]string{"type": string(wire.FramePing)})
		}
	}
}

func (c *agentConn) close(reason string) {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	_ = c.ws.Close()

	c.mu.Lock()
	bound := c.boundSessionID
	c.boundSessionID = ""
	c.mu.Unlock()
	if bound != "" {
		c.p.sessions.Unbind(bound, time.Now().UnixMilli(), reason)
	}
}
