package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/basinlabs/browserbridge/internal/mcp"
	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/store"
	"github.com/basinlabs/browserbridge/internal/tools/common"
)

// protocolVersion is the only MCP protocol revision this server negotiates.
const protocolVersion = "2024-11-05"

// serverInstructions is returned once, in the initialize response, so tool
// descriptions themselves can stay terse (spec.md §4.7 catalogue).
const serverInstructions = `browserbridge exposes live and stored browser telemetry through 19 tools.

Workflow:
- list_sessions / get_session_summary: find and triage a session.
- get_recent_events, get_navigation_history, get_console_events, get_error_fingerprints, get_network_failures, get_element_refs: read stored telemetry.
- explain_last_failure, get_event_correlation: root-cause a specific failure.
- list_snapshots, get_snapshot_for_event, get_snapshot_asset: inspect stored DOM/style/PNG snapshots.
- get_dom_subtree, get_dom_document, get_computed_styles, get_layout_metrics, capture_ui_snapshot, get_live_console_logs: round-trip through a live, connected browser agent — these fail with live_session_disconnected if nothing is connected.`

// Registry is the Tool Runtime (spec.md §4.7): a fixed catalogue built once
// at startup, dispatched over the stdio JSON-RPC transport in
// internal/bridge.
type Registry struct {
	version string
	byName  map[string]Tool
	list    []mcp.MCPTool
}

// NewRegistry builds the catalogue and indexes it by name.
func NewRegistry(version string, d Deps) *Registry {
	cat := BuildCatalogue(d)
	r := &Registry{
		version: version,
		byName:  make(map[string]Tool, len(cat)),
		list:    MCPTools(cat),
	}
	for _, t := range cat {
		r.byName[t.Name] = t
	}
	return r
}

// HandleRequest dispatches one parsed JSON-RPC request. Returns nil for
// notifications (no id), per JSON-RPC 2.0 — matching the teacher's
// handler.go convention.
func (r *Registry) HandleRequest(ctx context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	if !req.HasID() {
		return nil
	}

	switch req.Method {
	case "initialize":
		return r.handleInitialize(req)
	case "tools/list":
		return r.handleToolsList(req)
	case "tools/call":
		return r.handleToolsCall(ctx, req)
	case "ping":
		return &mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)}
	default:
		return &mcp.JSONRPCResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &mcp.JSONRPCError{Code: -32601, Message: "Method not found: " + req.Method},
		}
	}
}

func (r *Registry) handleInitialize(req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	mcp.LenientUnmarshal(req.Params, &params)

	negotiated := protocolVersion
	if params.ProtocolVersion == protocolVersion {
		negotiated = params.ProtocolVersion
	}

	result := mcp.MCPInitializeResult{
		ProtocolVersion: negotiated,
		ServerInfo:      mcp.MCPServerInfo{Name: "browserbridge", Version: r.version},
		Capabilities: mcp.MCPCapabilities{
			Tools: mcp.MCPToolsCapability{},
		},
		Instructions: serverInstructions,
	}
	return &mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: mcp.SafeMarshal(result, `{}`)}
}

func (r *Registry) handleToolsList(req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	result := mcp.MCPToolsListResult{Tools: r.list}
	return &mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: mcp.SafeMarshal(result, `{"tools":[]}`)}
}

func (r *Registry) handleToolsCall(ctx context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &mcp.JSONRPCResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &mcp.JSONRPCError{Code: -32602, Message: "Invalid params: " + err.Error()},
		}
	}

	tool, ok := r.byName[params.Name]
	if !ok {
		return &mcp.JSONRPCResponse{
			JSONRPC: "2.0", ID: req.ID,
			Error: &mcp.JSONRPCError{Code: -32601, Message: "Unknown tool: " + params.Name},
		}
	}

	warnings := mcp.ValidateParamsAgainstSchema(params.Arguments, tool.InputSchema)

	result, err := tool.Handler(ctx, params.Arguments)
	if err != nil {
		resp := mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: errorToToolResult(params.Name, err)}
		return &resp
	}

	resp := mcp.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: mcp.JSONResponse("", result)}
	return appendWarnings(resp, warnings)
}

func appendWarnings(resp mcp.JSONRPCResponse, warnings []string) *mcp.JSONRPCResponse {
	if len(warnings) == 0 {
		return &resp
	}
	out := mcp.AppendWarningsToResponse(resp, warnings)
	return &out
}

// errorToToolResult maps a handler error onto the closed error-kind
// taxonomy from spec.md §7 and renders it as an isError MCP tool result.
func errorToToolResult(toolName string, err error) json.RawMessage {
	var ve *common.ValidationError
	if errors.As(err, &ve) {
		code := mcp.ErrInvalidParam
		if ve.Param != "" && ve.Message == fmt.Sprintf("%s is required", ve.Param) {
			code = mcp.ErrMissingParam
		}
		return mcp.StructuredErrorResponse(code, ve.Message, "Fix the request parameters and try again", mcp.WithParam(ve.Param))
	}

	var lde *common.LiveDisconnectedError
	if errors.As(err, &lde) {
		return mcp.StructuredErrorResponse(mcp.ErrLiveSessionDisconnected, lde.Message,
			"Reconnect the browser agent for this session and retry")
	}

	var cte *common.CaptureTimeoutError
	if errors.As(err, &cte) {
		return mcp.StructuredErrorResponse(mcp.ErrCaptureTimeout, cte.Message,
			"The browser agent did not respond in time; retry or check it is responsive")
	}

	var cfe *common.CaptureFailedError
	if errors.As(err, &cfe) {
		return mcp.StructuredErrorResponse(mcp.ErrExtError, cfe.Error(),
			"The browser agent reported a capture failure; adjust the request and retry")
	}

	if errors.Is(err, store.ErrSessionNotFound) {
		return mcp.StructuredErrorResponse(mcp.ErrSessionNotFound, err.Error(),
			"Call list_sessions to find a valid sessionId")
	}
	if errors.Is(err, session.ErrLiveSessionDisconnected) {
		return mcp.StructuredErrorResponse(mcp.ErrLiveSessionDisconnected, err.Error(),
			"Reconnect the browser agent for this session and retry")
	}
	if errors.Is(err, store.ErrSnapshotTooLarge) {
		return mcp.StructuredErrorResponse(mcp.ErrSnapshotSizeExceeded, err.Error(),
			"The captured payload exceeds the size budget; narrow the selector or request a lighter mode")
	}
	if errors.Is(err, store.ErrSnapshotAssetMissing) {
		return mcp.StructuredErrorResponse(mcp.ErrSnapshotAssetMissing, err.Error(),
			"The referenced snapshot asset is missing on disk")
	}

	return mcp.StructuredErrorResponse(mcp.ErrInternal, fmt.Sprintf("%s: %v", toolName, err),
		"This is an internal error; do not retry without changing the request")
}
