// Package tools is the Tool Runtime's catalogue (spec.md §4.7): the fixed
// list of tool names/input-schemas registered at startup, and the
// dispatcher that turns a validated tools/call into a handler invocation and
// maps its result (or typed error) onto the uniform MCP tool-result
// envelope.
//
// V1 query tools (internal/tools/v1) and V2 live-capture tools
// (internal/tools/v2) are registered the same way, as plain
// func(ctx, json.RawMessage) (map[string]any, error) handlers — the
// catalogue doesn't care which subsystem answers a call, only how to
// validate its schema and marshal its result.
package tools

import (
	"context"
	"encoding/json"

	"github.com/basinlabs/browserbridge/internal/ingest"
	"github.com/basinlabs/browserbridge/internal/mcp"
	"github.com/basinlabs/browserbridge/internal/redaction"
	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/store"
	"github.com/basinlabs/browserbridge/internal/tools/v1"
	"github.com/basinlabs/browserbridge/internal/tools/v2"
)

// HandlerFunc is the uniform shape every registered tool handler satisfies.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (map[string]any, error)

// Tool is one catalogue entry: its MCP-visible shape plus the handler that
// answers it.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     HandlerFunc
}

func schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
func intProp(desc string) map[string]any { return map[string]any{"type": "integer", "description": desc} }
func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}
func strArrayProp(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

// Deps bundles everything the catalogue needs to build v1/v2 handlers. It
// mirrors the construction shape of v1.Deps/v2.Deps one level up.
type Deps struct {
	Store    *store.Store
	Sessions *session.Registry
	Redactor *redaction.Redactor
	Ingest   *ingest.Pipeline
}

// BuildCatalogue registers every tool named in spec.md §4.7, in the order
// they're documented there (V1 query handlers, then V2 live handlers).
func BuildCatalogue(d Deps) []Tool {
	v1d := v1.New(d.Store, d.Sessions, d.Redactor)
	v2d := v2.New(d.Ingest, d.Sessions, d.Store)

	return []Tool{
		{
			Name:        "list_sessions",
			Description: "List recorded browser-debugging sessions, newest first, with live-connection status when bound.",
			InputSchema: schema(map[string]any{
				"sinceMinutes": intProp("only include sessions created within the last N minutes"),
				"limit":        intProp("max rows to return (default 25, max 200)"),
				"offset":       intProp("pagination offset"),
			}),
			Handler: v1d.ListSessions,
		},
		{
			Name:        "get_session_summary",
			Description: "Summarize a session: error/warning/network-failure counts, time range, and last known URL.",
			InputSchema: schema(map[string]any{
				"sessionId":         strProp("session to summarize"),
				"previousSessionId": strProp("optional prior session id to compute a delta against"),
			}, "sessionId"),
			Handler: v1d.GetSessionSummary,
		},
		{
			Name:        "get_recent_events",
			Description: "Read recent telemetry events for a session or across sessions by origin URL.",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session to read from"),
				"url":       strProp("absolute http(s) URL; filters by normalized origin across sessions"),
				"kinds":     strArrayProp("restrict to these stored kinds: console, error, network, nav, ui, element_ref"),
				"limit":     intProp("max rows to return (default 50, max 200)"),
				"offset":    intProp("pagination offset"),
			}),
			Handler: v1d.GetRecentEvents,
		},
		{
			Name:        "get_navigation_history",
			Description: "Read navigation (nav-kind) events for a session or origin.",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session to read from"),
				"url":       strProp("absolute http(s) URL; filters by normalized origin across sessions"),
				"limit":     intProp("max rows to return (default 50, max 200)"),
				"offset":    intProp("pagination offset"),
			}),
			Handler: v1d.GetNavigationHistory,
		},
		{
			Name:        "get_console_events",
			Description: "Read console-kind events, optionally filtered by level.",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session to read from"),
				"url":       strProp("absolute http(s) URL; filters by normalized origin across sessions"),
				"level":     strProp("console level filter, e.g. warn, error"),
				"limit":     intProp("max rows to return (default 50, max 200)"),
				"offset":    intProp("pagination offset"),
			}),
			Handler: v1d.GetConsoleEvents,
		},
		{
			Name:        "get_error_fingerprints",
			Description: "List aggregated error fingerprints (message+stack dedup), ordered by count then recency.",
			InputSchema: schema(map[string]any{
				"sessionId":    strProp("restrict to one session"),
				"sinceMinutes": intProp("only fingerprints last-seen within the last N minutes"),
				"limit":        intProp("max rows to return (default 50, max 200)"),
				"offset":       intProp("pagination offset"),
			}),
			Handler: v1d.GetErrorFingerprints,
		},
		{
			Name:        "get_network_failures",
			Description: "List failing network requests (non-null error class or status >= 400), optionally grouped.",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("restrict to one session"),
				"url":       strProp("absolute http(s) URL; filters by normalized origin across sessions"),
				"errorType": strProp("restrict to one error class: timeout, cors, dns, blocked, http_error, unknown"),
				"groupBy":   strProp("group counts by: url, domain, or errorType"),
				"limit":     intProp("max rows to return (default 50, max 200)"),
				"offset":    intProp("pagination offset"),
			}),
			Handler: v1d.GetNetworkFailures,
		},
		{
			Name:        "get_element_refs",
			Description: "Look up stored element-ref events for a session by CSS selector.",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session to read from"),
				"selector":  strProp("CSS selector to match"),
				"limit":     intProp("max rows to return (default 50, max 200)"),
				"offset":    intProp("pagination offset"),
			}, "sessionId", "selector"),
			Handler: v1d.GetElementRefs,
		},
		{
			Name:        "explain_last_failure",
			Description: "Pick the latest error or network failure as an anchor and explain its likely root cause from the surrounding timeline.",
			InputSchema: schema(map[string]any{
				"sessionId":       strProp("session to analyze"),
				"lookbackSeconds": intProp("symmetric window around the anchor, in seconds (default 30)"),
			}, "sessionId"),
			Handler: v1d.ExplainLastFailure,
		},
		{
			Name:        "get_event_correlation",
			Description: "Find events and failing network rows temporally/semantically correlated with an anchor event.",
			InputSchema: schema(map[string]any{
				"eventId":       strProp("anchor event id"),
				"windowSeconds": intProp("symmetric window around the anchor, in seconds (default 5, max 60)"),
			}, "eventId"),
			Handler: v1d.GetEventCorrelation,
		},
		{
			Name:        "list_snapshots",
			Description: "List DOM/style/PNG snapshots captured for a session.",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session to read from"),
				"limit":     intProp("max rows to return (default 25, max 200)"),
				"offset":    intProp("pagination offset"),
			}, "sessionId"),
			Handler: v1d.ListSnapshots,
		},
		{
			Name:        "get_snapshot_for_event",
			Description: "Find the snapshot linked to an event, falling back to the nearest one within a time delta.",
			InputSchema: schema(map[string]any{
				"eventId":    strProp("event to find a linked or nearby snapshot for"),
				"maxDeltaMs": intProp("max timestamp delta to accept as a fallback match (default 5000)"),
			}, "eventId"),
			Handler: v1d.GetSnapshotForEvent,
		},
		{
			Name:        "get_snapshot_asset",
			Description: "Read a bounded chunk of a snapshot's PNG asset, as base64 or a raw byte array.",
			InputSchema: schema(map[string]any{
				"snapshotId": strProp("snapshot whose PNG asset to read"),
				"offset":     intProp("byte offset to start from"),
				"chunkSize":  intProp("bytes to read (default 65536, max 262144)"),
				"encoding":   strProp("\"base64\" (default) or \"bytes\""),
			}, "snapshotId"),
			Handler: v1d.GetSnapshotAsset,
		},
		{
			Name:        "get_dom_subtree",
			Description: "Capture a live DOM subtree rooted at a selector from the connected browser agent.",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session with a live bound connection"),
				"selector":  strProp("CSS selector for the subtree root"),
				"maxDepth":  intProp("max tree depth to capture"),
				"maxBytes":  intProp("max serialized size"),
			}, "sessionId", "selector"),
			Handler: v2d.GetDomSubtree,
		},
		{
			Name:        "get_dom_document",
			Description: "Capture the live full-document HTML from the connected browser agent (falls back to an outline on a partial capture).",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session with a live bound connection"),
				"maxBytes":  intProp("max serialized size"),
			}, "sessionId"),
			Handler: v2d.GetDomDocument,
		},
		{
			Name:        "get_computed_styles",
			Description: "Capture live computed styles for a selector from the connected browser agent.",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session with a live bound connection"),
				"selector":  strProp("CSS selector to compute styles for"),
				"styleMode": strProp("\"computed-lite\" (default) or \"computed-full\""),
			}, "sessionId", "selector"),
			Handler: v2d.GetComputedStyles,
		},
		{
			Name:        "get_layout_metrics",
			Description: "Capture live layout metrics (bounding box, scroll offsets) for a selector from the connected browser agent.",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session with a live bound connection"),
				"selector":  strProp("CSS selector to measure"),
			}, "sessionId"),
			Handler: v2d.GetLayoutMetrics,
		},
		{
			Name:        "capture_ui_snapshot",
			Description: "Trigger a live DOM+style(+PNG) snapshot from the connected browser agent and persist it.",
			InputSchema: schema(map[string]any{
				"sessionId":         strProp("session with a live bound connection"),
				"trigger":           strProp("click, manual, navigation, or error"),
				"selector":          strProp("CSS selector the snapshot is scoped to"),
				"styleMode":         strProp("\"computed-lite\" (default) or \"computed-full\" (requires explicitStyleMode)"),
				"explicitStyleMode": boolProp("set true to allow computed-full instead of a silent downgrade"),
				"triggerEventId":    strProp("event id that triggered this snapshot, if any"),
			}, "sessionId"),
			Handler: v2d.CaptureUISnapshot,
		},
		{
			Name:        "get_live_console_logs",
			Description: "Query the in-memory live console ring for a session (most recent console + runtime-error entries).",
			InputSchema: schema(map[string]any{
				"sessionId": strProp("session to query"),
				"substring": strProp("only entries whose message contains this substring"),
				"levels":    strArrayProp("restrict to these console levels"),
				"limit":     intProp("max entries to return (default 100, max 500)"),
			}, "sessionId"),
			Handler: v2d.GetLiveConsoleLogs,
		},
	}
}

// MCPTools renders the catalogue's MCP-visible tool list for tools/list.
func MCPTools(tools []Tool) []mcp.MCPTool {
	out := make([]mcp.MCPTool, len(tools))
	for i, t := range tools {
		out[i] = mcp.MCPTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return out
}
