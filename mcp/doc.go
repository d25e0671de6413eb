// Package mcp contains the wire types for the subset of the Model Context
// Protocol the gateway speaks: the initialize handshake, the tools surface,
// and the notifications pushed over a session's event stream.
package mcp
