// Package wire defines the JSON frame shapes exchanged with the in-browser
// capture agent over the persistent duplex socket at /ws.
//
// Changes here are the wire contract with the agent; keep field names
// snake_case and additive only.
package wire

import "encoding/json"

// FrameType discriminates an inbound or outbound frame by its "type" field.
type FrameType string

const (
	FramePing          FrameType = "ping"
	FramePong          FrameType = "pong"
	FrameSessionStart  FrameType = "session_start"
	FrameSessionEnd    FrameType = "session_end"
	FrameEvent         FrameType = "event"
	FrameEventBatch    FrameType = "event_batch"
	FrameCaptureResult FrameType = "capture_result"
	FrameCaptureCmd    FrameType = "capture_command"
	FrameError         FrameType = "error"
)

// Envelope is the minimal shape needed to route a frame before full decode.
type Envelope struct {
	Type FrameType `json:"type"`
}

// SessionStart is sent once per browser tab group when capture begins.
type SessionStart struct {
	Type      FrameType        `json:"type"`
	SessionID string           `json:"sessionId"`
	URL       string           `json:"url"`
	TabID     *int64           `json:"tabId,omitempty"`
	WindowID  *int64           `json:"windowId,omitempty"`
	UserAgent string           `json:"userAgent,omitempty"`
	Viewport  *Viewport        `json:"viewport,omitempty"`
	DPR       float64          `json:"dpr,omitempty"`
	SafeMode  bool             `json:"safeMode"`
	Meta      *json.RawMessage `json:"meta,omitempty"`
}

// Viewport records the reported browser viewport at session start.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionEnd closes out a session explicitly (rather than via last-tab-closed).
type SessionEnd struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"sessionId"`
}

// Event is a single telemetry record from the agent.
type Event struct {
	Type      FrameType       `json:"type"`
	SessionID string          `json:"sessionId"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TabID     *int64          `json:"tabId,omitempty"`
	Origin    string          `json:"origin,omitempty"`
}

// EventBatch carries multiple Events for one session in a single frame.
type EventBatch struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"sessionId"`
	Events    []Event   `json:"events"`
}

// CaptureResult answers a previously sent CaptureCommand.
type CaptureResult struct {
	Type      FrameType       `json:"type"`
	CommandID string          `json:"commandId"`
	SessionID string          `json:"sessionId"`
	OK        bool            `json:"ok"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// CaptureCommand is sent server -> agent to request a live capture.
type CaptureCommand struct {
	Type      FrameType       `json:"type"`
	CommandID string          `json:"commandId"`
	SessionID string          `json:"sessionId"`
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TimeoutMs int             `json:"timeoutMs,omitempty"`
}

// ErrorFrame is sent back to the agent for protocol violations.
type ErrorFrame struct {
	Type  FrameType `json:"type"`
	Error string    `json:"error"`
	Code  string    `json:"code"`
}

// Recognized capture commands (§4.5).
const (
	CmdCaptureDOMSubtree     = "CAPTURE_DOM_SUBTREE"
	CmdCaptureDOMDocument    = "CAPTURE_DOM_DOCUMENT"
	CmdCaptureComputedStyle = "CAPTURE_COMPUTED_STYLES"
	CmdCaptureLayoutMetrics = "CAPTURE_LAYOUT_METRICS"
	CmdCaptureUISnapshot    = "CAPTURE_UI_SNAPSHOT"
	CmdCaptureLiveConsole   = "CAPTURE_GET_LIVE_CONSOLE_LOGS"
)

// Recognized inbound eventType values (§6). The longer canonical mapping
// (Open Question in spec.md §9) is honored: every value below maps into
// the closed six-value stored kind set via kindmap.Map.
const (
	EventTypeNavigation = "navigation"
	EventTypeConsole    = "console"
	EventTypeError      = "error"
	EventTypeNetwork    = "network"
	EventTypeClick      = "click"
	EventTypeScroll     = "scroll"
	EventTypeInput      = "input"
	EventTypeChange     = "change"
	EventTypeSubmit     = "submit"
	EventTypeFocus      = "focus"
	EventTypeBlur       = "blur"
	EventTypeKeydown    = "keydown"
	EventTypeCustom     = "custom"
	EventTypeUISnapshot = "ui_snapshot"

	// Safe-mode-droppable kinds (spec.md §4.3): never persisted when the
	// session was started with safeMode set, regardless of any other rule.
	EventTypeCookie         = "cookie"
	EventTypeStorage        = "storage"
	EventTypeLocalStorage   = "local_storage"
	EventTypeSessionStorage = "session_storage"
)

// SafeModeDroppableEventTypes is the closed set of eventType values
// redaction drops wholesale when a session's safeMode flag is set.
var SafeModeDroppableEventTypes = map[string]bool{
	EventTypeCookie:         true,
	EventTypeStorage:        true,
	EventTypeLocalStorage:   true,
	EventTypeSessionStorage: true,
}
