// Package mcp implements the MCP interceptor (C6, spec.md §4.6): the
// protocol-aware layer that sits between the NDJSON pumps and forwards,
// synthesizes, or rewrites messages in each direction. Wire value types
// here are grounded on dereknguyen269-picoclaw/pkg/mcp/{client,tool}.go's
// MCPToolInfo/MCPToolsResult/MCPCallToolParams/MCPCallToolResult shapes.
package mcp

import "encoding/json"

// ReloadToolName is the built-in tool spec.md §4.6 rule 3 and §6 name for
// manual reload requests from the client. The reply is sent as soon as
// the request is accepted; the restart itself runs afterwards.
const ReloadToolName = "mcpmon_reload-server"

// ToolInfo is one entry in a tools/list result.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// ToolsListResult is the result object of a tools/list response.
type ToolsListResult struct {
	Tools      []ToolInfo `json:"tools"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// CallToolParams is the params object of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolContent is one content block of a tools/call result.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the result object of a tools/call response.
type CallToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ReloadTool describes the built-in reload tool's advertised shape
// (spec.md §4.6 rule 3).
func ReloadTool() ToolInfo {
	return ToolInfo{
		Name:        ReloadToolName,
		Description: "Manually trigger a hot reload of the underlying MCP server.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
	}
}

func marshalResult(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

func marshalContentText(text string) json.RawMessage {
	return marshalResult(CallToolResult{Content: []ToolContent{{Type: "text", Text: text}}})
}
