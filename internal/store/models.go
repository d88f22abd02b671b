package store

import "github.com/basinlabs/browserbridge/internal/wire"

// Session mirrors the sessions table (spec.md §3).
type Session struct {
	SessionID      string  `json:"sessionId"`
	CreatedAt      int64   `json:"createdAt"`
	EndedAt        *int64  `json:"endedAt,omitempty"`
	OriginTabs     string  `json:"originTabs,omitempty"`
	OriginWindow   string  `json:"originWindow,omitempty"`
	URLInitial     string  `json:"urlInitial,omitempty"`
	URLLast        string  `json:"urlLast,omitempty"`
	ViewportWidth  int     `json:"viewportWidth,omitempty"`
	ViewportHeight int     `json:"viewportHeight,omitempty"`
	DPR            float64 `json:"dpr,omitempty"`
	UserAgent      string  `json:"userAgent,omitempty"`
	SafeMode       bool    `json:"safeMode"`
	Pinned         bool    `json:"pinned"`
}

// SessionMeta is the input to CreateSession, derived from a session_start frame.
type SessionMeta struct {
	SessionID    string
	CreatedAt    int64
	URL          string
	TabID        *int64
	WindowID     *int64
	UserAgent    string
	ViewportW    int
	ViewportH    int
	DPR          float64
	SafeMode     bool
}

// Event mirrors the events table.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Timestamp int64          `json:"timestamp"`
	Kind      wire.StoredKind `json:"kind"`
	Payload   []byte         `json:"-"`
	TabID     *int64         `json:"tabId,omitempty"`
	Origin    string         `json:"origin,omitempty"`
	// InboundType is the original wire eventType (recovered from payload's
	// sub-kind where relevant), exposed to reads per spec.md §4.1.
	InboundType string `json:"inboundType,omitempty"`
}

// NetworkRecord mirrors the network_records table.
type NetworkRecord struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionId"`
	Timestamp  int64  `json:"timestamp"`
	DurationMs int64  `json:"durationMs"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	Origin     string `json:"origin,omitempty"`
	Status     *int   `json:"status,omitempty"`
	Initiator  string `json:"initiator"`
	ErrorClass string `json:"errorClass,omitempty"`
	SizeBytes  int64  `json:"sizeBytes"`
}

// IsFailure reports whether this network row counts as a failure for
// get_network_failures: any row with a non-null error class, or status >= 400.
func (n NetworkRecord) IsFailure() bool {
	if n.ErrorClass != "" {
		return true
	}
	return n.Status != nil && *n.Status >= 400
}

// ErrorFingerprint mirrors the error_fingerprints table.
type ErrorFingerprint struct {
	ID            string `json:"id"`
	SessionID     string `json:"sessionId"`
	Count         int64  `json:"count"`
	SampleMessage string `json:"sampleMessage"`
	SampleStack   string `json:"sampleStack,omitempty"`
	FirstSeen     int64  `json:"firstSeen"`
	LastSeen      int64  `json:"lastSeen"`
}

// Snapshot mirrors the snapshots table.
type Snapshot struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"sessionId"`
	TriggerEventID  *string `json:"triggerEventId,omitempty"`
	Timestamp       int64   `json:"timestamp"`
	Trigger         string  `json:"trigger"`
	Selector        string  `json:"selector,omitempty"`
	URL             string  `json:"url,omitempty"`
	Mode            string  `json:"mode"`
	StyleMode       string  `json:"styleMode"`
	DOMJSON         []byte  `json:"-"`
	StylesJSON      []byte  `json:"-"`
	PNGPath         string  `json:"-"`
	PNGMime         string  `json:"pngMime,omitempty"`
	PNGBytes        int64   `json:"pngBytes,omitempty"`
	DOMTruncated    bool    `json:"domTruncated"`
	StylesTruncated bool    `json:"stylesTruncated"`
	PNGTruncated    bool    `json:"pngTruncated"`
}

// ServerSettings mirrors the singleton server_settings row.
type ServerSettings struct {
	RetentionDays          int    `json:"retentionDays"`
	MaxDBMb                int    `json:"maxDbMb"`
	MaxSessions            int    `json:"maxSessions"`
	CleanupIntervalMinutes int    `json:"cleanupIntervalMinutes"`
	LastCleanupAt          int64  `json:"lastCleanupAt"`
	ExportPathOverride     string `json:"exportPathOverride,omitempty"`
}

// Recognized initiator and error-class enums (spec.md §3).
const (
	InitiatorFetch  = "fetch"
	InitiatorXHR    = "xhr"
	InitiatorImg    = "img"
	InitiatorScript = "script"
	InitiatorOther  = "other"
)

const (
	ErrClassTimeout    = "timeout"
	ErrClassCORS       = "cors"
	ErrClassDNS        = "dns"
	ErrClassBlocked    = "blocked"
	ErrClassHTTPError  = "http_error"
	ErrClassUnknown    = "unknown"
)

// Recognized snapshot trigger/mode/style-mode enums.
const (
	SnapshotTriggerClick      = "click"
	SnapshotTriggerManual     = "manual"
	SnapshotTriggerNavigation = "navigation"
	SnapshotTriggerError      = "error"
)

const (
	SnapshotModeDOM  = "dom"
	SnapshotModePNG  = "png"
	SnapshotModeBoth = "both"
)

const (
	StyleModeLite = "computed-lite"
	StyleModeFull = "computed-full"
)
