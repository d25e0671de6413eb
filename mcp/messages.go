package mcp

import "encoding/json"

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

// Method names and notifications served by the gateway.
const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	ToolsListMethod                    Method = "tools/list"
	ToolsCallMethod                    Method = "tools/call"
	ToolsListChangedNotificationMethod Method = "notifications/tools/list_changed"

	LoggingMessageNotificationMethod Method = "notifications/message"

	PingMethod                  Method = "ping"
	CancelledNotificationMethod Method = "notifications/cancelled"
)

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
	Instructions    string             `json:"instructions,omitzero"`
}

// ListToolsResult returns the static tool catalog.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolRequest is the server-received representation of a tool call.
// Arguments stay raw; the gateway never interprets them.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents a tool invocation outcome. Collaborator errors
// are carried in-band with IsError set, not as transport failures.
type CallToolResult struct {
	Content []ContentBlock `json:"content,omitempty"`
	IsError bool           `json:"isError,omitzero"`
	// StructuredContent carries the backing service's payload untouched.
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

// LoggingMessageNotification conveys a structured log message pushed to the
// session's notification stream.
type LoggingMessageNotification struct {
	Level  LoggingLevel `json:"level"`
	Data   any          `json:"data"`
	Logger string       `json:"logger,omitzero"`
}

// EmptyResult is returned for operations that do not return data (ping).
type EmptyResult struct{}
