package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mcpgate/mcpgate/backend"
	"github.com/mcpgate/mcpgate/internal/engine"
	"github.com/mcpgate/mcpgate/internal/jsonrpc"
	"github.com/mcpgate/mcpgate/mcp"
	"github.com/mcpgate/mcpgate/sessions"
	"github.com/mcpgate/mcpgate/tools"
)

type searchArgs struct {
	Query string `json:"query" jsonschema:"required"`
}

type fakeInvoker struct{}

func (fakeInvoker) Invoke(ctx context.Context, operation string, args json.RawMessage) (*backend.Result, error) {
	return &backend.Result{Success: true, Data: json.RawMessage(`{"ok":true}`)}, nil
}

const initializeLine = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0"}}}`

// runScript feeds newline-delimited frames through the loop and returns the
// responses keyed by request id.
func runScript(t *testing.T, lines ...string) map[string]*jsonrpc.Response {
	t.Helper()

	eng := engine.New(
		sessions.NewRegistry(),
		tools.NewDispatcher(tools.NewRegistry(tools.New[searchArgs]("search", "")), fakeInvoker{}),
	)

	var out bytes.Buffer
	h := New(eng, WithStreams(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out))
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	responses := make(map[string]*jsonrpc.Response)
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp jsonrpc.Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		responses[resp.ID.String()] = &resp
	}
	return responses
}

func TestRun_HandshakeThenDispatch(t *testing.T) {
	responses := runScript(t,
		initializeLine,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)

	initResp, ok := responses["1"]
	if !ok || initResp.Error != nil {
		t.Fatalf("handshake response = %+v", initResp)
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(initResp.Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if initRes.ProtocolVersion != "2025-06-18" {
		t.Fatalf("protocol version = %q", initRes.ProtocolVersion)
	}

	listResp, ok := responses["2"]
	if !ok || listResp.Error != nil {
		t.Fatalf("tools/list response = %+v", listResp)
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(listResp.Result, &list); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "search" {
		t.Fatalf("unexpected catalog: %+v", list.Tools)
	}
}

func TestRun_RequiresHandshakeFirst(t *testing.T) {
	responses := runScript(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	resp, ok := responses["1"]
	if !ok || resp.Error == nil {
		t.Fatalf("want error response, got %+v", resp)
	}
	if resp.Error.Code != jsonrpc.ErrorCodeInvalidSession {
		t.Fatalf("code = %d", resp.Error.Code)
	}
}

func TestRun_RepeatHandshakeRejected(t *testing.T) {
	second := strings.Replace(initializeLine, `"id":1`, `"id":2`, 1)
	responses := runScript(t, initializeLine, second)

	if resp := responses["1"]; resp == nil || resp.Error != nil {
		t.Fatalf("first handshake = %+v", resp)
	}
	resp := responses["2"]
	if resp == nil || resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidSession {
		t.Fatalf("repeat handshake = %+v", resp)
	}
}

func TestRun_InvalidFrameDoesNotKillTheLoop(t *testing.T) {
	responses := runScript(t, `not json`, initializeLine)

	parseErr, ok := responses[""]
	if !ok || parseErr.Error == nil || parseErr.Error.Code != jsonrpc.ErrorCodeParseError {
		t.Fatalf("parse error response = %+v", parseErr)
	}
	if resp := responses["1"]; resp == nil || resp.Error != nil {
		t.Fatalf("handshake after bad frame = %+v", resp)
	}
}

func TestRun_NotificationsProduceNoResponse(t *testing.T) {
	responses := runScript(t,
		initializeLine,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
	)
	if len(responses) != 1 {
		t.Fatalf("want only the handshake response, got %d: %+v", len(responses), responses)
	}
}

func TestRun_ToolCallDispatch(t *testing.T) {
	responses := runScript(t,
		initializeLine,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search","arguments":{"query":"x"}}}`,
	)

	resp := responses["2"]
	if resp == nil || resp.Error != nil {
		t.Fatalf("tools/call response = %+v", resp)
	}
	var call mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &call); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if call.IsError {
		t.Fatalf("unexpected error result: %+v", call)
	}
	if string(call.StructuredContent) != `{"ok":true}` {
		t.Fatalf("structured content = %s", call.StructuredContent)
	}
}
