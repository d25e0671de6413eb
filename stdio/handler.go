// Package stdio serves the MCP protocol over newline-delimited JSON-RPC on
// stdin/stdout. The transport carries a single implicit session: the first
// message must be the initialize handshake, after which dispatch calls and
// notifications follow the same engine semantics as the HTTP transport.
// There is no auth gate; the peer is a local parent process.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mcpgate/mcpgate/auth"
	"github.com/mcpgate/mcpgate/internal/engine"
	"github.com/mcpgate/mcpgate/internal/jsonrpc"
	"github.com/mcpgate/mcpgate/mcp"
	"github.com/mcpgate/mcpgate/sessions"
)

// maxLineBytes bounds a single inbound frame.
const maxLineBytes = 4 << 20

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithStreams overrides stdin/stdout, for tests.
func WithStreams(in io.Reader, out io.Writer) Option {
	return func(h *Handler) { h.in = in; h.out = out }
}

// Handler runs the stdio transport loop.
type Handler struct {
	eng *engine.Engine
	log *slog.Logger
	in  io.Reader
	out io.Writer

	writeMu sync.Mutex
	sessMu  sync.Mutex
	sess    *sessions.Session
}

// New constructs a stdio handler over the engine.
func New(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{eng: eng, log: slog.Default(), in: os.Stdin, out: os.Stdout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run reads frames until EOF or ctx cancellation. The implicit session is
// torn down when the loop exits.
func (h *Handler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer h.closeSession()

	scanner := bufio.NewScanner(h.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			h.log.WarnContext(ctx, "stdio.message.invalid", slog.String("err", err.Error()))
			h.writeMessage(jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "invalid JSON-RPC message", nil))
			continue
		}

		req := msg.AsRequest()
		if req == nil {
			// Client responses have no server-side counterpart; drop.
			h.log.InfoContext(ctx, "stdio.response.ignored")
			continue
		}

		sess := h.session()
		if sess == nil {
			h.handleHandshake(ctx, req)
			continue
		}

		if req.Method == string(mcp.InitializeMethod) {
			h.writeMessage(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidSession, "session already initialized", nil))
			continue
		}

		if req.IsNotification() {
			if err := h.eng.HandleNotification(ctx, sess, req); err != nil {
				h.log.ErrorContext(ctx, "stdio.notification.fail", slog.String("err", err.Error()))
			}
			continue
		}

		// Each call is handled independently; responses correlate by id,
		// not arrival order.
		wg.Add(1)
		go func(req *jsonrpc.Request) {
			defer wg.Done()
			h.writeMessage(h.eng.HandleRequest(ctx, sess, req))
		}(req)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio read failed: %w", err)
	}
	return nil
}

// handleHandshake establishes the transport's single session and starts
// forwarding its push stream to stdout.
func (h *Handler) handleHandshake(ctx context.Context, req *jsonrpc.Request) {
	if req.Method != string(mcp.InitializeMethod) || req.IsNotification() {
		h.writeMessage(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidSession, "initialize required", nil))
		h.log.InfoContext(ctx, "stdio.handshake.invalid", slog.String("method", req.Method))
		return
	}

	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			h.writeMessage(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params", nil))
			return
		}
	}

	sess, initRes, err := h.eng.InitializeSession(ctx, auth.AnonymousPrincipal, &initReq)
	if err != nil {
		h.writeMessage(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to initialize session", nil))
		h.log.ErrorContext(ctx, "stdio.handshake.fail", slog.String("err", err.Error()))
		return
	}

	h.sessMu.Lock()
	h.sess = sess
	h.sessMu.Unlock()

	go func() {
		err := sess.Subscribe(ctx, "", func(eventID string, data []byte) error {
			return h.writeRaw(data)
		})
		if err != nil && !errors.Is(err, context.Canceled) &&
			!errors.Is(err, sessions.ErrSessionClosed) && !errors.Is(err, sessions.ErrStreamSuperseded) {
			h.log.ErrorContext(ctx, "stdio.push.fail", slog.String("err", err.Error()))
		}
	}()

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		h.log.ErrorContext(ctx, "stdio.handshake.encode.fail", slog.String("err", err.Error()))
		return
	}
	h.writeMessage(resp)
}

func (h *Handler) session() *sessions.Session {
	h.sessMu.Lock()
	defer h.sessMu.Unlock()
	return h.sess
}

func (h *Handler) closeSession() {
	h.sessMu.Lock()
	sess := h.sess
	h.sess = nil
	h.sessMu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

func (h *Handler) writeMessage(resp *jsonrpc.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		h.log.Error("stdio.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := h.writeRaw(b); err != nil {
		h.log.Error("stdio.write.fail", slog.String("err", err.Error()))
	}
}

// writeRaw emits one newline-terminated frame. Writes are serialized so
// concurrent call handlers never interleave frames.
func (h *Handler) writeRaw(b []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.out.Write(b); err != nil {
		return err
	}
	_, err := h.out.Write([]byte("\n"))
	return err
}
