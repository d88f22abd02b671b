// types.go — wire shapes for the tool-call surface (spec.md §4): the
// content blocks and result envelope every get_*/click_element/etc. handler
// returns, plus the initialize handshake shape the Tool Runtime sends back
// on startup.
package mcp

// MCPContentBlock is a single content block in an MCP tool result. Every
// browserbridge handler returns text content — no image/resource blocks,
// since the tool surface is console logs, DOM snapshots, and network
// events rendered as JSON or markdown text.
type MCPContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCPToolResult is the result of an MCP tool call.
type MCPToolResult struct {
	Content  []MCPContentBlock `json:"content"`
	IsError  bool              `json:"isError"` // SPEC:MCP
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// MCPInitializeResult is the result of an MCP initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"` // SPEC:MCP
	ServerInfo      MCPServerInfo   `json:"serverInfo"`      // SPEC:MCP
	Capabilities    MCPCapabilities `json:"capabilities"`
	Instructions    string          `json:"instructions,omitempty"`
}

// MCPServerInfo identifies the MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPCapabilities declares the server's MCP capabilities. browserbridge
// exposes tools only — there is no resources/list or resources/read
// handler in the Tool Runtime, so no Resources capability is advertised.
type MCPCapabilities struct {
	Tools MCPToolsCapability `json:"tools"`
}

// MCPToolsCapability declares tool support.
type MCPToolsCapability struct{}

// MCPToolsListResult is the result of a tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}
