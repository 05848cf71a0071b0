package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "echo",
		Handler: func(ctx context.Context, args map[string]any, sessionID string) (map[string]any, error) {
			return map[string]any{"echo": args["v"]}, nil
		},
	}
}

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	out, err := r.Execute(context.Background(), "echo", map[string]any{"v": "hi"}, "s1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out["echo"] != "hi" {
		t.Errorf("out = %v, want echo=hi", out)
	}
}

func TestExecuteUnregistered(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Execute(context.Background(), "ghost", nil, "s1")
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Execute() error = %v, want ErrNotRegistered", err)
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&Tool{Name: ""}); err == nil {
		t.Error("Register() with empty name = nil error, want error")
	}
	if err := r.Register(&Tool{Name: "x"}); err == nil {
		t.Error("Register() without handler = nil error, want error")
	}
}

func TestExecuteValidatesArgs(t *testing.T) {
	r := NewRegistry(nil)
	tool := echoTool("strict")
	tool.Schema = json.RawMessage(`{
		"type": "object",
		"properties": {"v": {"type": "string"}},
		"required": ["v"],
		"additionalProperties": false
	}`)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := r.Execute(context.Background(), "strict", map[string]any{"v": "ok"}, "s1"); err != nil {
		t.Errorf("Execute() valid args error = %v", err)
	}
	if _, err := r.Execute(context.Background(), "strict", map[string]any{"v": 7}, "s1"); err == nil {
		t.Error("Execute() wrong arg type = nil error, want error")
	}
	if _, err := r.Execute(context.Background(), "strict", nil, "s1"); err == nil {
		t.Error("Execute() missing required arg = nil error, want error")
	}
}

func TestSchemas(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(NewSceneBreakdown()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	schemas := r.Schemas()
	if len(schemas) != 1 {
		t.Fatalf("len(Schemas()) = %d, want 1", len(schemas))
	}
	if schemas[0].Name != "scene_breakdown" {
		t.Errorf("Name = %q, want scene_breakdown", schemas[0].Name)
	}
	if len(schemas[0].Parameters) == 0 {
		t.Error("Parameters is empty")
	}
}
