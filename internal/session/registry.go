// Package session implements the Session Registry (spec.md §4.6): the
// in-process, lock-guarded map of per-session connection state, pending
// capture commands, and the live-console ring that the Store never sees.
// The Ingest Pipeline and V2 tool handlers are the only callers; the Store
// owns persisted rows and never reaches into this package.
package session

import (
	"errors"
	"strings"
	"sync"

	"github.com/basinlabs/browserbridge/internal/idgen"
)

// ErrLiveSessionDisconnected is returned by SendCapture when no connection
// is bound to the session. Callers map this to the LIVE_SESSION_DISCONNECTED
// tool error kind (spec.md §7).
var ErrLiveSessionDisconnected = errors.New("LIVE_SESSION_DISCONNECTED: session is not connected")

// Disconnect reasons (spec.md §3 SessionConnectionState).
const (
	DisconnectManualStop    = "manual_stop"
	DisconnectNetworkError  = "network_error"
	DisconnectStaleTimeout  = "stale_timeout"
	DisconnectNormalClosure = "normal_closure"
	DisconnectAbnormalClose = "abnormal_close"
	DisconnectUnknown       = "unknown"
)

const (
	defaultConsoleBufferCapacity = 1500
	maxConsoleArgCount           = 25
	maxConsoleMessageChars       = 2000

	DefaultLiveConsoleLimit = 100
	MaxLiveConsoleLimit     = 500
)

// Conn is the minimal surface the registry needs from a live agent
// connection: send an outbound frame and identify the connection so a
// session_start on the same socket can replace a prior binding. Satisfied by
// the Ingest Pipeline's websocket wrapper.
type Conn interface {
	SendCaptureCommand(commandID, sessionID, command string, payload []byte, timeoutMs int) error
	ConnID() string
}

// ConnectionState is the spec's SessionConnectionState entity, exposed to
// callers (e.g. list_sessions' live-connection metadata).
type ConnectionState struct {
	Bound            bool
	ConnectedAt      int64
	LastHeartbeatAt  int64
	DisconnectedAt   int64
	DisconnectReason string
}

// ConsoleEntry is one LiveConsoleBuffer entry (console message or runtime
// error), capped per-field per spec.md §5 backpressure rules.
type ConsoleEntry struct {
	Timestamp      int64
	Level          string
	Message        string
	Args           []string
	TabID          *int64
	Origin         string
	IsRuntimeError bool
}

// ConsoleFilter narrows a live-console query (spec.md §4.6).
type ConsoleFilter struct {
	TabID                *int64
	Origin               string
	Levels               []string
	Substring            string
	SinceTimestamp       int64
	ExcludeRuntimeErrors bool
	Limit                int
}

// ConsoleQueryResult is returned by QueryConsole.
type ConsoleQueryResult struct {
	Entries  []ConsoleEntry
	Dropped  int64
	Buffered int
	Matched  int
}

// CaptureResult is what a pending command resolves to.
type CaptureResult struct {
	OK        bool
	Payload   []byte
	Truncated bool
	Error     string
}

// PendingCapture tracks one outstanding SendCapture call.
type PendingCapture struct {
	CommandID string
	SessionID string
	resultCh  chan CaptureResult
	once      sync.Once
}

func (p *PendingCapture) resolve(res CaptureResult) {
	p.once.Do(func() { p.resultCh <- res })
}

type sessionEntry struct {
	mu sync.Mutex

	conn  Conn
	state ConnectionState

	tabScope map[int64]bool

	console        *consoleRing
	droppedConsole int64

	pending map[string]*PendingCapture
}

func newSessionEntry() *sessionEntry {
	return newSessionEntryWithCapacity(defaultConsoleBufferCapacity)
}

func newSessionEntryWithCapacity(capacity int) *sessionEntry {
	return &sessionEntry{
		console: newConsoleRing(capacity),
		pending: make(map[string]*PendingCapture),
	}
}

// Registry is the Session Registry: one lock-guarded map of sessionID to
// in-memory state. All mutations are short and non-blocking per spec.md §5.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	// connSession maps a connection's ConnID to the session it is currently
	// bound to, so a second session_start on the same socket can replace the
	// prior binding (spec.md §4.5).
	connSession map[string]string
}

// NewRegistry builds an empty Session Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*sessionEntry),
		connSession: make(map[string]string),
	}
}

func (r *Registry) entry(sessionID string) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		e = newSessionEntry()
		r.sessions[sessionID] = e
	}
	return e
}

// Bind associates a connection with a session, replacing any prior binding
// on the same connection (a socket can only ever be bound to one session at
// a time).
func (r *Registry) Bind(sessionID string, conn Conn, now int64) {
	r.mu.Lock()
	if prior, ok := r.connSession[conn.ConnID()]; ok && prior != sessionID {
		if priorEntry, ok := r.sessions[prior]; ok {
			priorEntry.mu.Lock()
			priorEntry.conn = nil
			priorEntry.state.Bound = false
			priorEntry.state.DisconnectedAt = now
			priorEntry.state.DisconnectReason = DisconnectNormalClosure
			priorEntry.mu.Unlock()
		}
	}
	r.connSession[conn.ConnID()] = sessionID
	e, ok := r.sessions[sessionID]
	if !ok {
		e = newSessionEntry()
		r.sessions[sessionID] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	e.conn = conn
	e.state = ConnectionState{Bound: true, ConnectedAt: now, LastHeartbeatAt: now}
	e.mu.Unlock()
}

// Unbind clears the connection for a session (session_end, or a
// liveness-triggered force-close) and rejects every pending capture with the
// given reason.
func (r *Registry) Unbind(sessionID string, now int64, reason string) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if ok {
		var connID string
		e.mu.Lock()
		if e.conn != nil {
			connID = e.conn.ConnID()
		}
		e.conn = nil
		e.state.Bound = false
		e.state.DisconnectedAt = now
		e.state.DisconnectReason = reason
		e.mu.Unlock()
		if connID != "" && r.connSession[connID] == sessionID {
			delete(r.connSession, connID)
		}
	}
	r.mu.Unlock()

	if ok {
		r.RejectPendingForSession(sessionID, "connection closed before capture completed")
	}
}

// Touch refreshes last-activity on an inbound frame (spec.md §4.5 liveness).
func (r *Registry) Touch(sessionID string, now int64) {
	e := r.entry(sessionID)
	e.mu.Lock()
	e.state.LastHeartbeatAt = now
	e.mu.Unlock()
}

// ConnectionState returns a copy of the session's current connection state.
func (r *Registry) ConnectionState(sessionID string) (ConnectionState, bool) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return ConnectionState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// IsBound reports whether a session currently has a live connection.
func (r *Registry) IsBound(sessionID string) bool {
	st, ok := r.ConnectionState(sessionID)
	return ok && st.Bound
}

// AppendConsole mirrors a console or runtime-error event into the session's
// live ring, applying the per-entry backpressure caps (spec.md §5: max 25
// args, max 2000 chars per message) and incrementing the drop counter when
// the ring was already full.
func (r *Registry) AppendConsole(sessionID string, entry ConsoleEntry) {
	entry.Message = truncateString(entry.Message, maxConsoleMessageChars)
	if len(entry.Args) > maxConsoleArgCount {
		entry.Args = entry.Args[:maxConsoleArgCount]
	}

	e := r.entry(sessionID)
	e.mu.Lock()
	if e.console.len() >= e.console.cap() {
		e.droppedConsole++
	}
	e.mu.Unlock()
	e.console.writeOne(entry)
}

// QueryConsole returns the most recent entries matching filter, newest
// first, along with the buffer's drop/buffered counters (spec.md §4.6,
// concrete scenario 5).
func (r *Registry) QueryConsole(sessionID string, filter ConsoleFilter) ConsoleQueryResult {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLiveConsoleLimit
	}
	if limit > MaxLiveConsoleLimit {
		limit = MaxLiveConsoleLimit
	}

	e := r.entry(sessionID)
	all := e.console.readAll() // oldest first
	e.mu.Lock()
	dropped := e.droppedConsole
	buffered := e.console.len()
	e.mu.Unlock()

	levels := make(map[string]bool, len(filter.Levels))
	for _, l := range filter.Levels {
		levels[l] = true
	}

	matched := make([]ConsoleEntry, 0, len(all))
	for _, entry := range all {
		if !consoleEntryMatches(entry, filter, levels) {
			continue
		}
		matched = append(matched, entry)
	}

	// Newest first, capped to limit.
	out := make([]ConsoleEntry, 0, limit)
	for i := len(matched) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, matched[i])
	}

	return ConsoleQueryResult{
		Entries:  out,
		Dropped:  dropped,
		Buffered: buffered,
		Matched:  len(matched),
	}
}

func consoleEntryMatches(entry ConsoleEntry, filter ConsoleFilter, levels map[string]bool) bool {
	if filter.TabID != nil {
		if entry.TabID == nil || *entry.TabID != *filter.TabID {
			return false
		}
	}
	if filter.Origin != "" && entry.Origin != filter.Origin {
		return false
	}
	if len(levels) > 0 && !levels[entry.Level] {
		return false
	}
	if filter.ExcludeRuntimeErrors && entry.IsRuntimeError {
		return false
	}
	if filter.SinceTimestamp > 0 && entry.Timestamp < filter.SinceTimestamp {
		return false
	}
	if filter.Substring != "" && !strings.Contains(strings.ToLower(entry.Message), strings.ToLower(filter.Substring)) {
		return false
	}
	return true
}

// SendCapture mints a command id, registers a pending entry, and sends the
// capture_command frame. The caller is responsible for waiting on the
// returned channel (via Ingest.SendCapture, which also owns the deadline
// timer) and calling Cancel if it gives up early.
func (r *Registry) SendCapture(sessionID, command string, payload []byte, timeoutMs int) (*PendingCapture, <-chan CaptureResult, error) {
	e := r.entry(sessionID)
	e.mu.Lock()
	conn := e.conn
	bound := e.state.Bound
	e.mu.Unlock()
	if conn == nil || !bound {
		return nil, nil, ErrLiveSessionDisconnected
	}

	commandID := idgen.NewCorrelationID()
	pc := &PendingCapture{
		CommandID: commandID,
		SessionID: sessionID,
		resultCh:  make(chan CaptureResult, 1),
	}

	e.mu.Lock()
	e.pending[commandID] = pc
	e.mu.Unlock()

	if err := conn.SendCaptureCommand(commandID, sessionID, command, payload, timeoutMs); err != nil {
		e.mu.Lock()
		delete(e.pending, commandID)
		e.mu.Unlock()
		return nil, nil, err
	}

	return pc, pc.resultCh, nil
}

// ResolveCapture is called from the Ingest Pipeline's capture_result frame
// handler. An unknown commandID is silently dropped (spec.md §4.5).
func (r *Registry) ResolveCapture(sessionID, commandID string, res CaptureResult) {
	e := r.entry(sessionID)
	e.mu.Lock()
	pc, ok := e.pending[commandID]
	if ok {
		delete(e.pending, commandID)
	}
	e.mu.Unlock()
	if ok {
		pc.resolve(res)
	}
}

// CancelCapture removes a pending entry without resolving it further — used
// when the tool-call deadline has already fired and the caller has stopped
// waiting, so a late capture_result finds nothing to resolve.
func (r *Registry) CancelCapture(sessionID, commandID string) {
	e := r.entry(sessionID)
	e.mu.Lock()
	delete(e.pending, commandID)
	e.mu.Unlock()
}

// RejectPendingForSession resolves every pending capture for a session with
// a failure, used on disconnect (spec.md §4.5, concrete scenario 2).
func (r *Registry) RejectPendingForSession(sessionID, errMsg string) {
	e := r.entry(sessionID)
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]*PendingCapture)
	e.mu.Unlock()
	for _, pc := range pending {
		pc.resolve(CaptureResult{OK: false, Error: errMsg})
	}
}

// TabScope records the set of tab ids a session is allowed to report on.
func (r *Registry) SetTabScope(sessionID string, tabIDs []int64) {
	e := r.entry(sessionID)
	scope := make(map[int64]bool, len(tabIDs))
	for _, id := range tabIDs {
		scope[id] = true
	}
	e.mu.Lock()
	e.tabScope = scope
	e.mu.Unlock()
}

// InTabScope reports whether tabID is within a session's recorded scope. A
// session with no recorded scope permits any tab.
func (r *Registry) InTabScope(sessionID string, tabID int64) bool {
	e := r.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.tabScope) == 0 {
		return true
	}
	return e.tabScope[tabID]
}

// Remove drops a session's in-memory state entirely (called after the Store
// deletes the session row — retention or explicit session_end cleanup).
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	var connID string
	if e.conn != nil {
		connID = e.conn.ConnID()
	}
	e.mu.Unlock()
	if connID != "" {
		r.mu.Lock()
		if r.connSession[connID] == sessionID {
			delete(r.connSession, connID)
		}
		r.mu.Unlock()
	}
}

func truncateString(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}

