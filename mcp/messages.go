package mcp

import "encoding/json"

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

// MCP method names and notifications understood by the gateway.
const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	ToolsListMethod Method = "tools/list"
	ToolsCallMethod Method = "tools/call"

	PromptsListMethod   Method = "prompts/list"
	ResourcesListMethod Method = "resources/list"

	PingMethod Method = "ping"
)

// NotificationPrefix identifies methods that must never be answered.
const NotificationPrefix = "notifications/"

// ProtocolVersion is the MCP protocol revision the gateway implements.
const ProtocolVersion = "2024-11-05"

// InitializeRequest starts the MCP initialization handshake.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult returns negotiated capabilities and server info.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
}

// ListToolsResult returns the available tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// ListPromptsResult is the empty prompts capability stub.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// ListResourcesResult is the empty resources capability stub.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// CallToolRequestReceived is the server-received representation for a tool call.
type CallToolRequestReceived struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents a tool invocation result. Tool-execution
// failures (unknown tool, backend errors) are reported here with IsError
// set, never as JSON-RPC error frames.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}
