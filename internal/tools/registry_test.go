package tools

import (
	"context"
	"errors"
	"testing"
)

func newEchoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echoes its input",
		Schema: ToolSchema{
			Required: []string{"text"},
			Properties: map[string]Property{
				"text": {Type: "string", Description: "text to echo"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(newEchoTool("echo")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !r.Has("echo") {
		t.Error("Has(echo) = false")
	}
	if r.Get("echo") == nil {
		t.Error("Get(echo) = nil")
	}
	if r.Get("missing") != nil {
		t.Error("Get(missing) should be nil")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(newEchoTool("echo"))
	err := r.Register(newEchoTool("echo"))
	if !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Errorf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestRegisterInvalid(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Tool{Name: ""}); !errors.Is(err, ErrToolNameEmpty) {
		t.Errorf("expected ErrToolNameEmpty, got %v", err)
	}
	if err := r.Register(&Tool{Name: "noop"}); !errors.Is(err, ErrToolExecuteNil) {
		t.Errorf("expected ErrToolExecuteNil, got %v", err)
	}
}

func TestExecute(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(newEchoTool("echo"))

	result, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Result != "hello" {
		t.Errorf("result = %q, want %q", result.Result, "hello")
	}
	if !result.IsSuccess() {
		t.Error("IsSuccess = false")
	}
}

func TestExecuteMissingTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nope", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}

func TestExecuteMissingArg(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(newEchoTool("echo"))

	result, err := r.Execute(context.Background(), "echo", map[string]any{})
	if !errors.Is(err, ErrMissingRequiredArg) {
		t.Errorf("expected ErrMissingRequiredArg, got %v", err)
	}
	if result == nil || result.IsSuccess() {
		t.Error("expected failed result")
	}
}

func TestDefinitions(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(newEchoTool("zeta"))
	r.MustRegister(newEchoTool("alpha"))

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions", len(defs))
	}
	if defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Errorf("definitions not name-ordered: %s, %s", defs[0].Name, defs[1].Name)
	}

	schema := defs[0].InputSchema
	if schema["type"] != "object" {
		t.Errorf("schema type = %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties wrong shape: %T", schema["properties"])
	}
	textProp, ok := props["text"].(map[string]any)
	if !ok || textProp["type"] != "string" {
		t.Errorf("text property wrong: %v", props["text"])
	}
}
