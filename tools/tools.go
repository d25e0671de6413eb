// Package tools holds the static tool catalog and the dispatcher that
// forwards calls to the backing service. The dispatcher performs structural
// translation only: catalog lookup, pass-through of arguments, and mapping of
// the collaborator's outcome envelope into protocol results.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/mcpgate/mcpgate/backend"
	"github.com/mcpgate/mcpgate/mcp"
)

// Definition pairs a tool descriptor with the backend operation it maps to.
type Definition struct {
	Descriptor mcp.Tool
	// Operation is the backing-service operation name; defaults to the tool
	// name when empty.
	Operation string
}

// New constructs a Definition whose input schema is reflected from the typed
// argument struct A.
func New[A any](name, description string) Definition {
	return Definition{
		Descriptor: mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: reflectInputSchema[A](),
		},
	}
}

// reflectInputSchema reflects A into the simplified tool input schema shape.
// Non-object types collapse to an empty object schema.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}
	return mcp.ToolInputSchema{Type: "object", Properties: props, Required: required}
}

func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{Type: s.Type, Description: s.Description}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// Registry is the immutable tool catalog.
type Registry struct {
	order  []string
	byName map[string]Definition
}

// NewRegistry builds a catalog from defs. Duplicate names keep the last
// definition.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Operation == "" {
			d.Operation = d.Descriptor.Name
		}
		if _, seen := r.byName[d.Descriptor.Name]; !seen {
			r.order = append(r.order, d.Descriptor.Name)
		}
		r.byName[d.Descriptor.Name] = d
	}
	return r
}

// List returns the catalog's descriptors in registration order.
func (r *Registry) List() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Descriptor)
	}
	return out
}

// Names returns the sorted tool names, for diagnostics.
func (r *Registry) Names() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(name string) (Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Dispatcher resolves tool calls against the catalog and forwards them to
// the backing service.
type Dispatcher struct {
	registry *Registry
	invoker  backend.Invoker
}

// NewDispatcher creates a dispatcher over registry and invoker.
func NewDispatcher(registry *Registry, invoker backend.Invoker) *Dispatcher {
	return &Dispatcher{registry: registry, invoker: invoker}
}

// List exposes the catalog.
func (d *Dispatcher) List() []mcp.Tool {
	return d.registry.List()
}

// Dispatch executes one named call. Unknown names and collaborator failures
// come back as in-band error results; only encoding faults are errors.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	def, ok := d.registry.lookup(name)
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool: %s", name)), nil
	}

	res, err := d.invoker.Invoke(ctx, def.Operation, args)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "backend invocation failed"
		}
		if res.StatusCode != 0 {
			msg = fmt.Sprintf("%s (status %d)", msg, res.StatusCode)
		}
		return errorResult(msg), nil
	}

	out := &mcp.CallToolResult{StructuredContent: res.Data}
	if len(res.Data) > 0 {
		out.Content = []mcp.ContentBlock{{Type: "text", Text: string(res.Data)}}
	}
	return out, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: msg}},
		IsError: true,
	}
}
