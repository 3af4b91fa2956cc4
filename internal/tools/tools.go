package tools

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/meetly/internal/llm"
)

// Capability is one external action the model may request by name.
// Execute receives arguments already validated against InputSchema and
// returns the text handed back to the model.
type Capability interface {
	Name() string
	Description() string
	InputSchema() *jsonschema.Schema
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Handler is the function behind a [Tool].
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a Capability built from a handler function.
type Tool struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handler     Handler
}

// NewTool returns a function-backed capability.
func NewTool(name, description string, schema *jsonschema.Schema, h Handler) *Tool {
	return &Tool{name: name, description: description, schema: schema, handler: h}
}

func (t *Tool) Name() string                    { return t.name }
func (t *Tool) Description() string             { return t.description }
func (t *Tool) InputSchema() *jsonschema.Schema { return t.schema }

func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.handler(ctx, args)
}

type entry struct {
	cap      Capability
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// Registry maps tool names to capabilities. It is built once at
// startup and only read afterwards, so lookups need no locking.
type Registry struct {
	tools map[string]entry
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds c. Names must be unique and the input schema must
// resolve; either problem is a startup error.
func (r *Registry) Register(c Capability) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %q already registered", name)
	}
	schema := c.InputSchema()
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("tool %q: resolve input schema: %w", name, err)
	}
	r.tools[name] = entry{cap: c, schema: schema, resolved: resolved}
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for static wiring where a failure is a bug.
func (r *Registry) MustRegister(caps ...Capability) {
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Get returns the named capability or *ErrToolUnavailable.
func (r *Registry) Get(name string) (Capability, error) {
	if r != nil {
		if e, ok := r.tools[name]; ok {
			return e.cap, nil
		}
	}
	return nil, &ErrToolUnavailable{ToolName: name}
}

// Validate checks args against the named tool's input schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	e, ok := r.tools[name]
	if !ok {
		return &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.resolved.Validate(args); err != nil {
		return &ValidationError{ToolName: name, Err: err}
	}
	return nil
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Definitions describes every registered tool to the model, in
// registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	if r.Len() == 0 {
		return nil
	}
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		e := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        name,
			Description: e.cap.Description(),
			Parameters:  e.schema,
		})
	}
	return defs
}
