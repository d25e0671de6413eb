// Package streaminghttp serves the MCP streaming HTTP transport: POST /mcp
// for the handshake and dispatch calls, GET /mcp for the session's SSE push
// channel, DELETE /mcp for teardown, and the OAuth protected-resource
// discovery document under /.well-known. When an authenticator is installed
// every exchange is gated behind bearer authentication; otherwise the
// fail-open posture is logged at startup.
package streaminghttp
