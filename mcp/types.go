package mcp

// ClientCapabilities advertises client features during the handshake.
type ClientCapabilities struct {
	Roots *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"roots,omitempty"`
	Sampling    *struct{} `json:"sampling,omitempty"`
	Elicitation *struct{} `json:"elicitation,omitempty"`
}

// ServerCapabilities advertises server features. The gateway only serves
// tools and logging notifications.
type ServerCapabilities struct {
	Logging *struct{} `json:"logging,omitempty"`
	Tools   *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
}

// ImplementationInfo describes the implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// ContentBlock is a typed content part of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	// For text content
	Text string `json:"text,omitzero"`
	// For image/audio content
	Data     string `json:"data,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
}

// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a JSON-schema-like description of tool input.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties,omitzero"`
}

// SchemaProperty is a simplified schema node used in tool input schemas.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitzero"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
}

// LoggingLevel represents structured log severity for notifications/message.
type LoggingLevel string

const (
	LoggingLevelDebug   LoggingLevel = "debug"
	LoggingLevelInfo    LoggingLevel = "info"
	LoggingLevelWarning LoggingLevel = "warning"
	LoggingLevelError   LoggingLevel = "error"
)

// LatestProtocolVersion is the latest version of the protocol.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the protocol revisions the gateway can
// serve, oldest first.
var SupportedProtocolVersions = []string{
	"2024-11-05",
	"2025-03-26",
	LatestProtocolVersion,
}
