// response.go — result-envelope construction for the Tool Runtime's
// handlers (spec.md §4): wraps a handler's return value as the
// content-block JSON the MCP transport expects, and appends schema
// warnings from validation.go without disturbing an already-built result.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// SafeMarshal marshals v, falling back to a pre-built literal if marshaling
// fails. Every caller passes a plain struct of strings/maps, so the
// fallback path exists for defense only.
func SafeMarshal(v any, fallback string) json.RawMessage {
	resultJSON, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[browserbridge] JSON marshal error: %v\n", err)
		return json.RawMessage(fallback)
	}
	return json.RawMessage(resultJSON)
}

// LenientUnmarshal parses optional JSON params, logging failures to stderr
// for debugging. Behavior is deliberately lenient: malformed optional
// params are logged but not rejected, letting the caller fall through to
// its defaults (e.g. handleInitialize's clientInfo parsing).
func LenientUnmarshal(args json.RawMessage, v any) {
	if len(args) == 0 {
		return
	}
	if err := json.Unmarshal(args, v); err != nil {
		fmt.Fprintf(os.Stderr, "[browserbridge] optional param parse: %v (args: %.100s)\n", err, string(args))
	}
}

// JSONResponse builds an MCP tool result with a summary line prefix
// followed by compact JSON — the shape every get_*/list_* handler in
// internal/tools returns for its payload (console entries, DOM nodes,
// network events).
func JSONResponse(summary string, data any) json.RawMessage {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		errResult := MCPToolResult{
			Content: []MCPContentBlock{{Type: "text", Text: "Failed to serialize response: " + err.Error()}},
			IsError: true,
		}
		return SafeMarshal(errResult, `{"content":[{"type":"text","text":"Internal error: failed to marshal result"}],"isError":true}`)
	}

	var text string
	if summary != "" {
		text = summary + "\n" + string(dataJSON)
	} else {
		text = string(dataJSON)
	}

	result := MCPToolResult{
		Content: []MCPContentBlock{{Type: "text", Text: text}},
	}
	// Error impossible: simple struct with no circular refs or unsupported types
	resultJSON, _ := json.Marshal(result)
	return json.RawMessage(resultJSON)
}

// AppendWarningsToResponse adds a warnings content block to an already-built
// MCP response, used to surface ValidateParamsAgainstSchema's unknown-field
// warnings without requiring every handler to thread them through.
func AppendWarningsToResponse(resp JSONRPCResponse, warnings []string) JSONRPCResponse {
	if len(warnings) == 0 {
		return resp
	}
	var result MCPToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return resp
	}
	warningText := "_warnings: " + strings.Join(warnings, "; ")
	result.Content = append(result.Content, MCPContentBlock{
		Type: "text",
		Text: warningText,
	})
	// Error impossible: simple struct with no circular refs or unsupported types
	resultJSON, _ := json.Marshal(result)
	resp.Result = json.RawMessage(resultJSON)
	return resp
}
