// Package jsonrpc implements the JSON-RPC 2.0 framing used on every gateway
// transport. Batch arrays are deliberately unsupported; the streaming HTTP
// transport forbids them.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Message is the raw JSON representation of a JSON-RPC message.
type Message []byte

// AnyMessage is a decoded JSON-RPC message whose kind (request, notification,
// or response) is not yet known.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no ID and therefore
// expects no response.
func (r *Request) IsNotification() bool { return r.ID.IsNil() }

// Response represents a JSON-RPC response.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request (or notification when id is nil) with the
// params marshaled in place.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	req := &Request{JSONRPCVersion: ProtocolVersion, Method: method, ID: id}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = b
	}
	return req, nil
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: ProtocolVersion, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// UnmarshalJSON enforces JSON-RPC 2.0 semantics: a version tag, and exactly
// one of the request shape (method) or the response shape (result xor error).
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type alias AnyMessage
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, raw.JSONRPCVersion)
	}

	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil
	switch {
	case hasMethod && (hasResult || hasError):
		return fmt.Errorf("request message cannot have result or error fields")
	case !hasMethod && hasResult && hasError:
		return fmt.Errorf("response message cannot have both result and error fields")
	case !hasMethod && !hasResult && !hasError:
		return fmt.Errorf("response message must have either result or error field")
	}

	*m = AnyMessage(raw)
	return nil
}

// Type returns "request", "notification", or "response".
func (m *AnyMessage) Type() string {
	if m.Method != "" {
		if m.ID.IsNil() {
			return "notification"
		}
		return "request"
	}
	return "response"
}

// AsRequest returns the message as a Request if it is one, otherwise nil.
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{JSONRPCVersion: m.JSONRPCVersion, Method: m.Method, Params: m.Params, ID: m.ID}
}

// AsResponse returns the message as a Response if it is one, otherwise nil.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{JSONRPCVersion: m.JSONRPCVersion, Result: m.Result, Error: m.Error, ID: m.ID}
}
