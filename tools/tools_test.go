package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mcpgate/mcpgate/backend"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"required,description=Text to echo"`
	Count   int    `json:"count,omitempty"`
}

// fakeInvoker records the last invocation and returns a canned result.
type fakeInvoker struct {
	lastOp   string
	lastArgs json.RawMessage
	result   *backend.Result
	err      error
}

func (f *fakeInvoker) Invoke(ctx context.Context, operation string, args json.RawMessage) (*backend.Result, error) {
	f.lastOp = operation
	f.lastArgs = args
	return f.result, f.err
}

func TestNew_ReflectsInputSchema(t *testing.T) {
	def := New[echoArgs]("echo", "Echo a message")
	schema := def.Descriptor.InputSchema
	if schema.Type != "object" {
		t.Fatalf("want object schema, got %q", schema.Type)
	}
	prop, ok := schema.Properties["message"]
	if !ok {
		t.Fatalf("missing message property: %+v", schema.Properties)
	}
	if prop.Type != "string" {
		t.Fatalf("message type = %q", prop.Type)
	}
	var required bool
	for _, r := range schema.Required {
		if r == "message" {
			required = true
		}
	}
	if !required {
		t.Fatalf("message should be required, got %v", schema.Required)
	}
}

func TestRegistry_ListOrder(t *testing.T) {
	r := NewRegistry(
		New[echoArgs]("b", ""),
		New[echoArgs]("a", ""),
	)
	list := r.List()
	if len(list) != 2 || list[0].Name != "b" || list[1].Name != "a" {
		t.Fatalf("want registration order [b a], got %+v", list)
	}
}

func TestDispatch_ForwardsArgsUntouched(t *testing.T) {
	inv := &fakeInvoker{result: &backend.Result{Success: true, Data: json.RawMessage(`{"ok":true}`)}}
	d := NewDispatcher(NewRegistry(New[echoArgs]("echo", "")), inv)

	args := json.RawMessage(`{"message":"hi","count":2}`)
	res, err := d.Dispatch(context.Background(), "echo", args)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if inv.lastOp != "echo" {
		t.Fatalf("operation = %q", inv.lastOp)
	}
	if string(inv.lastArgs) != string(args) {
		t.Fatalf("args must pass through untouched, got %s", inv.lastArgs)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if string(res.StructuredContent) != `{"ok":true}` {
		t.Fatalf("data must pass through opaquely, got %s", res.StructuredContent)
	}
}

func TestDispatch_UnknownToolIsInBandError(t *testing.T) {
	inv := &fakeInvoker{result: &backend.Result{Success: true}}
	d := NewDispatcher(NewRegistry(New[echoArgs]("echo", "")), inv)

	res, err := d.Dispatch(context.Background(), "nope", nil)
	if err != nil {
		t.Fatalf("unknown tool must not be a transport error: %v", err)
	}
	if !res.IsError {
		t.Fatal("want IsError result for unknown tool")
	}
	if len(res.Content) == 0 || !strings.Contains(res.Content[0].Text, "nope") {
		t.Fatalf("error result should identify the operation, got %+v", res.Content)
	}
	if inv.lastOp != "" {
		t.Fatal("backing service must not be touched for unknown tools")
	}
}

func TestDispatch_CollaboratorFailure(t *testing.T) {
	inv := &fakeInvoker{result: &backend.Result{Success: false, Error: "boom", StatusCode: 502}}
	d := NewDispatcher(NewRegistry(New[echoArgs]("echo", "")), inv)

	res, err := d.Dispatch(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("collaborator failure must stay in-band: %v", err)
	}
	if !res.IsError {
		t.Fatal("want IsError result")
	}
	text := res.Content[0].Text
	if !strings.Contains(text, "boom") || !strings.Contains(text, "502") {
		t.Fatalf("result should carry message and status, got %q", text)
	}
}

func TestDispatch_OperationMapping(t *testing.T) {
	inv := &fakeInvoker{result: &backend.Result{Success: true}}
	def := New[echoArgs]("echo", "")
	def.Operation = "legacy.echo"
	d := NewDispatcher(NewRegistry(def), inv)

	if _, err := d.Dispatch(context.Background(), "echo", nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if inv.lastOp != "legacy.echo" {
		t.Fatalf("want mapped operation, got %q", inv.lastOp)
	}
}
