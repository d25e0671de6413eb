package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/auth"
	"github.com/mcpgate/mcpgate/internal/engine"
	"github.com/mcpgate/mcpgate/internal/jsonrpc"
	"github.com/mcpgate/mcpgate/internal/logctx"
	"github.com/mcpgate/mcpgate/internal/wellknown"
	"github.com/mcpgate/mcpgate/mcp"
	"github.com/mcpgate/mcpgate/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	authorizationHeader      = "Authorization"
	wwwAuthenticateHeader    = "WWW-Authenticate"
)

const prmPathSuffix = "/.well-known/oauth-protected-resource"

// SecurityConfig describes the auth posture advertised in the discovery
// document and in WWW-Authenticate challenges.
type SecurityConfig struct {
	Issuer        string
	JWKSURL       string
	TokenEndpoint string
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	serverName string
	logger     *slog.Logger
	realm      string
	security   *SecurityConfig
}

// WithServerName sets a human-readable name surfaced in the discovery document.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.logger = log }
}

// WithRealm sets the realm attribute in WWW-Authenticate challenges. Empty
// omits the attribute.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithSecurityConfig supplies the advertised auth metadata. Required when an
// authenticator is installed.
func WithSecurityConfig(sc SecurityConfig) Option {
	return func(c *newConfig) { cc := sc; c.security = &cc }
}

// Handler is the streaming HTTP front: it gates requests behind bearer auth
// when configured, owns session negotiation on /mcp, and serves the
// protected-resource discovery document.
type Handler struct {
	mux            *http.ServeMux
	log            *slog.Logger
	eng            *engine.Engine
	auth           auth.Authenticator
	authEnabled    bool
	realm          string
	serverURL      *url.URL
	prmDocument    wellknown.ProtectedResourceMetadata
	prmDocumentURL *url.URL
}

// New constructs the handler for the MCP endpoint at publicEndpoint. A nil
// authenticator disables the auth gate entirely; the fail-open posture is
// logged, never silent.
func New(publicEndpoint string, eng *engine.Engine, authenticator auth.Authenticator, opts ...Option) (*Handler, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}

	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if mcpURL.Scheme != "https" && mcpURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", mcpURL.Scheme)
	}

	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	if authenticator != nil && cfg.security == nil {
		return nil, fmt.Errorf("WithSecurityConfig is required when an authenticator is installed")
	}

	h := &Handler{
		log:         slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		eng:         eng,
		auth:        authenticator,
		authEnabled: authenticator != nil,
		realm:       cfg.realm,
		serverURL:   mcpURL,
	}

	h.prmDocumentURL = &url.URL{Scheme: mcpURL.Scheme, Host: mcpURL.Host, Path: pathOnly(mcpURL) + prmPathSuffix}
	if h.authEnabled {
		h.prmDocument = wellknown.ProtectedResourceMetadata{
			Resource:               mcpURL.String(),
			AuthorizationServers:   []string{cfg.security.Issuer},
			Issuer:                 cfg.security.Issuer,
			JwksURI:                cfg.security.JWKSURL,
			TokenEndpoint:          cfg.security.TokenEndpoint,
			ResponseTypesSupported: []string{"code"},
			GrantTypesSupported:    []string{"authorization_code", "refresh_token"},
			BearerMethodsSupported: []string{"authorization_header"},
			ResourceName:           cfg.serverName,
		}
		h.log.Info("auth.posture", slog.String("mode", "enabled"), slog.String("issuer", cfg.security.Issuer))
	} else {
		h.log.Warn("auth.posture", slog.String("mode", "disabled"), slog.String("detail", "all requests implicitly authorized"))
	}

	mcpPath := pathOnly(mcpURL)
	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", mcpPath), h.handlePostMCP)
	mux.HandleFunc(fmt.Sprintf("GET %s", mcpPath), h.handleGetMCP)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", mcpPath), h.handleDeleteMCP)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s", mcpPath), h.handlePreflight)
	mux.HandleFunc(fmt.Sprintf("GET %s", pathOnly(h.prmDocumentURL)), h.handleGetProtectedResourceMetadata)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s", pathOnly(h.prmDocumentURL)), h.handlePreflight)
	h.mux = mux
	return h, nil
}

// pathOnly returns just the URL path or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// applyCORS opens the endpoint to browser clients from any origin and makes
// the session id header readable cross-origin.
func applyCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", mcpSessionIDHeader)
	w.Header().Set("Vary", "Origin")
}

func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	applyCORS(w)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// writeRPCError emits a JSON-RPC error body for transport-level rejections.
// Safe only before the exchange has committed to SSE.
func writeRPCError(w http.ResponseWriter, status int, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, msg, nil))
}

// lockedWriteFlusher serializes concurrent writes/flushes on an SSE response
// and refuses writes after the request context is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// buildBearerChallenge builds the WWW-Authenticate value. Realm is omitted
// when empty; the resource_metadata parameter points clients at the discovery
// document.
func buildBearerChallenge(realm string, resourceMetadata string, params map[string]string) string {
	pieces := make([]string, 0, 2+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if v, ok := params["error"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(v)))
	}
	if v, ok := params["error_description"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(v)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// checkAuthentication resolves the request's principal. With auth disabled
// every request is implicitly authorized as the anonymous principal. On
// failure the response is fully written (401, challenge header, JSON-RPC
// body) and nil is returned.
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) auth.UserInfo {
	if !h.authEnabled {
		return auth.AnonymousUser()
	}

	reject := func(params map[string]string, msg string) {
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, h.prmDocumentURL.String(), params))
		writeRPCError(w, http.StatusUnauthorized, nil, jsonrpc.ErrorCodeUnauthorized, msg)
	}

	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		// RFC 6750: no auth information means a bare challenge, no error code.
		h.log.InfoContext(ctx, "auth.check.missing")
		reject(nil, "authorization required")
		return nil
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || strings.TrimSpace(authHeader[len(bearerPrefix):]) == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		reject(map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"}, "unauthorized")
		return nil
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])

	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			reject(map[string]string{"error": "invalid_token", "error_description": err.Error()}, "unauthorized")
			return nil
		}
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusInternalServerError, nil, jsonrpc.ErrorCodeInternalError, "internal server error")
		return nil
	}
	return userInfo
}

// handlePostMCP accepts one JSON-RPC message: the initialize handshake when
// no session id is present, or a dispatch/notification on a live session.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	applyCORS(w)

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeRPCError(w, http.StatusUnsupportedMediaType, nil, jsonrpc.ErrorCodeInvalidRequest, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, http.StatusInternalServerError, nil, jsonrpc.ErrorCodeInternalError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeParseError, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.handleInitialize(ctx, w, &msg, userInfo, start)
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID, userInfo.UserID())
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeRPCError(w, http.StatusBadRequest, msg.ID, jsonrpc.ErrorCodeInvalidSession, "unknown session id")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		writeRPCError(w, http.StatusInternalServerError, msg.ID, jsonrpc.ErrorCodeInternalError, "internal server error")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		UserID:    sess.UserID(),
		State:     sess.State().String(),
	})

	if msg.Method == string(mcp.InitializeMethod) {
		writeRPCError(w, http.StatusBadRequest, msg.ID, jsonrpc.ErrorCodeInvalidSession, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}

	req := msg.AsRequest()
	if req == nil {
		// Client-originated responses have no server-side counterpart here;
		// accept and drop.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ignored")
		return
	}

	if req.IsNotification() {
		if err := h.eng.HandleNotification(ctx, sess, req); err != nil {
			writeRPCError(w, http.StatusInternalServerError, nil, jsonrpc.ErrorCodeInternalError, "internal server error")
			h.log.ErrorContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeRPCError(w, http.StatusNotAcceptable, req.ID, jsonrpc.ErrorCodeInvalidRequest, "accept header must allow text/event-stream")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	res := h.eng.HandleRequest(ctx, sess, req)
	b, err := json.Marshal(res)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := writeSSEEvent(wf, "", b); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// handleInitialize serves the handshake path: no session id, method must be
// initialize. Everything else is a malformed request.
func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, msg *jsonrpc.AnyMessage, userInfo auth.UserInfo, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != string(mcp.InitializeMethod) || req.IsNotification() {
		writeRPCError(w, http.StatusBadRequest, msg.ID, jsonrpc.ErrorCodeInvalidSession, "session id required")
		h.log.InfoContext(ctx, "session.id.missing")
		return
	}

	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			writeRPCError(w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params")
			h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
	}

	sess, initRes, err := h.eng.InitializeSession(ctx, userInfo.UserID(), &initReq)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, req.ID, jsonrpc.ErrorCodeInternalError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), UserID: sess.UserID()})

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	w.Header().Set(mcpSessionIDHeader, sess.ID())
	if v := initRes.ProtocolVersion; v != "" {
		w.Header().Set(mcpProtocolVersionHeader, v)
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetMCP opens the session's server-push SSE channel. Last-Event-ID
// resumes delivery after a dropped connection.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	applyCORS(w)

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeRPCError(w, http.StatusNotAcceptable, nil, jsonrpc.ErrorCodeInvalidRequest, "accept header must allow text/event-stream")
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, http.StatusInternalServerError, nil, jsonrpc.ErrorCodeInternalError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidSession, "session id required")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID, userInfo.UserID())
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidSession, "unknown session id")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		writeRPCError(w, http.StatusInternalServerError, nil, jsonrpc.ErrorCodeInternalError, "internal server error")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		UserID:    sess.UserID(),
		State:     sess.State().String(),
	})

	lastEventID := r.Header.Get(lastEventIDHeader)
	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	err = sess.Subscribe(ctx, lastEventID, func(eventID string, data []byte) error {
		if err := writeSSEEvent(wf, eventID, data); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return err
		}
		return nil
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, sessions.ErrSessionClosed):
		h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
	case errors.Is(err, sessions.ErrStreamSuperseded):
		// A newer GET took the push channel over; this stream just ends.
		h.log.InfoContext(ctx, "sse.stream.superseded", slog.Duration("dur", time.Since(start)))
	case errors.Is(err, sessions.ErrEventNotFound):
		// Headers already flushed; nothing more to send.
		h.log.WarnContext(ctx, "sse.resume.miss", slog.String("last_event_id", lastEventID))
	default:
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
}

// handleDeleteMCP tears down an existing session. Subsequent calls with the
// same id are rejected as unknown.
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	applyCORS(w)

	userInfo := h.checkAuthentication(ctx, r, w)
	if userInfo == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidSession, "session id required")
		h.log.WarnContext(ctx, "delete.missing_session_id")
		return
	}

	sess, err := h.eng.LoadSession(ctx, sessID, userInfo.UserID())
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeRPCError(w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidSession, "unknown session id")
			h.log.InfoContext(ctx, "session.delete.miss")
			return
		}
		writeRPCError(w, http.StatusInternalServerError, nil, jsonrpc.ErrorCodeInternalError, "internal server error")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), UserID: sess.UserID()})

	h.eng.DeleteSession(ctx, sess)
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetProtectedResourceMetadata serves the discovery document. With auth
// disabled there is nothing to discover.
func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	applyCORS(w)
	w.Header().Set("Content-Type", jsonMediaType.String())
	if !h.authEnabled {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication not configured"})
		return
	}
	if err := json.NewEncoder(w).Encode(h.prmDocument); err != nil {
		h.log.Error("prm.encode.fail", slog.String("err", err.Error()))
	}
}

// writeSSEEvent frames one payload as a Server-Sent Event and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, eventID string, payload []byte) error {
	if eventID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", eventID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
