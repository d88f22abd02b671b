// timeout.go — Per-request timeout logic for MCP tool calls.
package bridge

import (
	"encoding/json"
	"time"
)

// Timeout constants for different tool categories (spec.md §5 concurrency
// model: "every capture command has an explicit timeout").
const (
	FastTimeout     = 10 * time.Second // V1 query tools: pure Store reads, no agent round-trip
	DOMTimeout      = 4 * time.Second  // get_dom_subtree, get_dom_document
	StyleTimeout    = 3 * time.Second  // get_computed_styles, get_layout_metrics
	SnapshotTimeout = 5 * time.Second  // capture_ui_snapshot
)

// liveToolTimeouts maps each V2 live tool name to its capture deadline.
var liveToolTimeouts = map[string]time.Duration{
	"get_dom_subtree":       DOMTimeout,
	"get_dom_document":      DOMTimeout,
	"get_computed_styles":   StyleTimeout,
	"get_layout_metrics":    StyleTimeout,
	"capture_ui_snapshot":   SnapshotTimeout,
	"get_live_console_logs": SnapshotTimeout,
}

// ToolCallTimeout returns the per-request timeout based on the MCP method and
// tool name. V1 query tools (list_sessions, get_recent_events, ...) never
// touch the agent and get FastTimeout; V2 live tools that round-trip through
// the Ingest Pipeline's capture-command correlation get their own deadline
// class per spec.md §5.
//
// method is the JSON-RPC method (e.g. "tools/call", "resources/read").
// params is the raw JSON of the request params.
func ToolCallTimeout(method string, params json.RawMessage) time.Duration {
	if method != "tools/call" {
		return FastTimeout
	}

	var p struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(params, &p) != nil {
		return FastTimeout
	}

	if d, ok := liveToolTimeouts[p.Name]; ok {
		return d
	}
	return FastTimeout
}

// ExtractToolName extracts the tool name from a tools/call request. Returns
// the empty string for non-tools/call methods or if parsing fails.
func ExtractToolName(method string, params json.RawMessage) string {
	if method != "tools/call" {
		return ""
	}
	var p struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(params, &p) != nil {
		return ""
	}
	return p.Name
}
