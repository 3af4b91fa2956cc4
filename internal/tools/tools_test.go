package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
)

func echoTool(name string) *Tool {
	return NewTool(name, "echoes its input",
		&jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"text": {Type: "string"}},
			Required:   []string{"text"},
		},
		func(_ context.Context, args map[string]any) (string, error) {
			s, _ := args["text"].(string)
			return s, nil
		})
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Register(echoTool("echo")); err == nil {
		t.Error("expected error registering a duplicate name")
	}
	if err := r.Register(echoTool("")); err == nil {
		t.Error("expected error registering an empty name")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("nope")
	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("Get(unknown) error = %v, want *ErrToolUnavailable", err)
	}

	var nilReg *Registry
	if _, err := nilReg.Get("x"); err == nil {
		t.Error("nil registry should report tools as unavailable")
	}
}

func TestRegistryDefinitionsOrder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("b"), echoTool("a"), NewTool("c", "no schema", nil, nil))

	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions, want 3", len(defs))
	}
	for i, want := range []string{"b", "a", "c"} {
		if defs[i].Name != want {
			t.Errorf("defs[%d].Name = %q, want %q", i, defs[i].Name, want)
		}
	}
	if s, ok := defs[2].Parameters.(*jsonschema.Schema); !ok || s == nil || s.Type != "object" {
		t.Errorf("nil schema should be replaced by an empty object schema, got %#v", defs[2].Parameters)
	}
	if NewRegistry().Definitions() != nil {
		t.Error("empty registry should have no definitions")
	}
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("echo"))

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"text": "hi"}, false},
		{"missing required", map[string]any{}, true},
		{"nil args", nil, true},
		{"wrong type", map[string]any{"text": 42.0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate("echo", tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.ToolName != "echo" {
					t.Errorf("error = %#v, want *ValidationError for echo", err)
				}
			}
		})
	}
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewRegistry().MustRegister(echoTool("x"), echoTool("x"))
}
