// Package engine is the transport-independent protocol core: it owns the
// handshake, routes dispatch calls to the tool dispatcher, and feeds
// server-initiated notifications into session streams. Both the streaming
// HTTP transport and the stdio transport drive the same engine.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mcpgate/mcpgate/internal/jsonrpc"
	"github.com/mcpgate/mcpgate/internal/logctx"
	"github.com/mcpgate/mcpgate/mcp"
	"github.com/mcpgate/mcpgate/sessions"
	"github.com/mcpgate/mcpgate/tools"
)

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger used for dispatch and lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithServerInfo overrides the identity advertised in initialize results.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(e *Engine) { e.serverInfo = info }
}

// WithInstructions sets the usage instructions surfaced during the handshake.
func WithInstructions(s string) Option {
	return func(e *Engine) { e.instructions = s }
}

// Engine implements the protocol state machine over a session registry and a
// tool dispatcher.
type Engine struct {
	registry     *sessions.Registry
	dispatcher   *tools.Dispatcher
	serverInfo   mcp.ImplementationInfo
	instructions string
	log          *slog.Logger
}

// New creates an engine over registry and dispatcher.
func New(registry *sessions.Registry, dispatcher *tools.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		registry:   registry,
		dispatcher: dispatcher,
		serverInfo: mcp.ImplementationInfo{Name: "mcpgate", Version: "0.1.0"},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitializeSession performs the handshake: a new session is minted,
// registered, and moved to Active in one step. The returned result carries
// the negotiated protocol version and the server's capabilities.
func (e *Engine) InitializeSession(ctx context.Context, userID string, req *mcp.InitializeRequest) (*sessions.Session, *mcp.InitializeResult, error) {
	sess := e.registry.Create(userID)
	if err := sess.Initialize(req.ClientInfo, negotiateVersion(req.ProtocolVersion)); err != nil {
		e.registry.Remove(sess.ID())
		return nil, nil, err
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: sess.ProtocolVersion(),
		Capabilities: mcp.ServerCapabilities{
			Logging: &struct{}{},
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo:   e.serverInfo,
		Instructions: e.instructions,
	}

	e.log.InfoContext(ctx, "session.initialize.ok",
		slog.String("sess_id", sess.ID()),
		slog.String("client", req.ClientInfo.Name),
		slog.String("protocol_version", sess.ProtocolVersion()))
	return sess, res, nil
}

// negotiateVersion echoes a client-proposed version the gateway can serve,
// falling back to the latest supported one.
func negotiateVersion(proposed string) string {
	for _, v := range mcp.SupportedProtocolVersions {
		if proposed == v {
			return proposed
		}
	}
	return mcp.LatestProtocolVersion
}

// LoadSession resolves a session id for the given principal. A live session
// owned by a different principal is reported as not found rather than
// revealing its existence.
func (e *Engine) LoadSession(ctx context.Context, sessID, userID string) (*sessions.Session, error) {
	sess, err := e.registry.Get(sessID)
	if err != nil {
		return nil, err
	}
	if sess.UserID() != userID {
		return nil, sessions.ErrSessionNotFound
	}
	if !sess.Active() {
		return nil, sessions.ErrSessionNotFound
	}
	return sess, nil
}

// DeleteSession tears the session down. Idempotent.
func (e *Engine) DeleteSession(ctx context.Context, sess *sessions.Session) {
	e.registry.Remove(sess.ID())
	e.log.InfoContext(ctx, "session.delete.ok", slog.String("sess_id", sess.ID()))
}

// HandleRequest routes one dispatch call within an active session and always
// produces a response carrying the request's id.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{Method: req.Method, ID: req.ID.String()})

	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return e.result(ctx, req, mcp.EmptyResult{})

	case mcp.ToolsListMethod:
		return e.result(ctx, req, mcp.ListToolsResult{Tools: e.dispatcher.List()})

	case mcp.ToolsCallMethod:
		var call mcp.CallToolRequest
		if err := json.Unmarshal(req.Params, &call); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil)
		}
		ctx = logctx.WithToolData(ctx, &logctx.ToolData{Name: call.Name})
		res, err := e.dispatcher.Dispatch(ctx, call.Name, call.Arguments)
		if err != nil {
			e.log.ErrorContext(ctx, "tool.dispatch.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
		}
		if res.IsError {
			e.log.WarnContext(ctx, "tool.dispatch.err_result")
			// Surface the failure on the push channel too; the client may be
			// watching the stream rather than correlating call results.
			if err := e.PublishLog(ctx, sess, mcp.LoggingLevelWarning, "dispatcher", map[string]any{
				"tool":   call.Name,
				"detail": errorResultDetail(res),
			}); err != nil {
				e.log.WarnContext(ctx, "tool.dispatch.log.fail", slog.String("err", err.Error()))
			}
		} else {
			e.log.InfoContext(ctx, "tool.dispatch.ok")
		}
		return e.result(ctx, req, res)

	case mcp.InitializeMethod:
		// Reaching here means a repeat handshake on an established session.
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil)

	default:
		e.log.WarnContext(ctx, "rpc.method.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}
}

// errorResultDetail extracts the human-readable failure text from an error
// result's first text block.
func errorResultDetail(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if c.Type == "text" && c.Text != "" {
			return c.Text
		}
	}
	return "tool call failed"
}

func (e *Engine) result(ctx context.Context, req *jsonrpc.Request, v any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(req.ID, v)
	if err != nil {
		e.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}
	return resp
}

// HandleNotification consumes a client notification. Unknown notifications
// are logged and dropped; notifications never produce responses.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) error {
	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{Method: req.Method})
	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.InfoContext(ctx, "session.client.ready", slog.String("sess_id", sess.ID()))
	case mcp.CancelledNotificationMethod:
		// Dispatches run to completion; cancellation is acknowledged but not acted on.
		e.log.InfoContext(ctx, "rpc.cancel.ignored")
	default:
		e.log.WarnContext(ctx, "notification.unknown")
	}
	return nil
}

// PublishLog pushes a notifications/message onto the session's stream for
// delivery over its push channel.
func (e *Engine) PublishLog(ctx context.Context, sess *sessions.Session, level mcp.LoggingLevel, logger string, data any) error {
	note, err := jsonrpc.NewRequest(nil, string(mcp.LoggingMessageNotificationMethod), mcp.LoggingMessageNotification{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return err
	}
	_, err = sess.Publish(b)
	return err
}
