package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603

	// ErrorCodeInvalidSession indicates a missing or unknown session id on a
	// non-handshake request. Paired with HTTP 400 at the transport layer.
	ErrorCodeInvalidSession ErrorCode = -32000
	// ErrorCodeUnauthorized indicates a missing or invalid bearer credential
	// when authentication is enabled. Paired with HTTP 401.
	ErrorCodeUnauthorized ErrorCode = -32001
)
