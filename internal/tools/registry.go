// Package tools is the local function registry consumed by the
// function-call resolution loop.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaybot/relay/internal/llm"
)

// ErrNotRegistered is returned when a call names an unknown function.
// The resolution loop treats it as fatal for the turn.
var ErrNotRegistered = errors.New("function not registered")

// MaxNameLength bounds tool names on registration and lookup.
const MaxNameLength = 256

// Handler executes a function call. args has already been validated
// against the tool's schema.
type Handler func(ctx context.Context, args map[string]any, sessionID string) (map[string]any, error)

// Tool is one registered function.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler
}

// Registry maps names to tools. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	compiled map[string]*jsonschema.Schema
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:    make(map[string]*Tool),
		compiled: make(map[string]*jsonschema.Schema),
		logger:   logger.With("component", "tools"),
	}
}

// Register adds a tool, compiling its argument schema. A tool with
// the same name is replaced.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return errors.New("tool name is required")
	}
	if len(t.Name) > MaxNameLength {
		return fmt.Errorf("tool name exceeds %d characters", MaxNameLength)
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}

	var schema *jsonschema.Schema
	if len(t.Schema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(t.Name+".json", bytes.NewReader(t.Schema)); err != nil {
			return fmt.Errorf("add schema for %q: %w", t.Name, err)
		}
		var err error
		schema, err = compiler.Compile(t.Name + ".json")
		if err != nil {
			return fmt.Errorf("compile schema for %q: %w", t.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	if schema != nil {
		r.compiled[t.Name] = schema
	} else {
		delete(r.compiled, t.Name)
	}
	return nil
}

// Resolve returns the tool by name.
func (r *Registry) Resolve(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schemas lists every tool in the provider declaration shape.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema,
		})
	}
	return schemas
}

// Execute validates args and runs the named tool. An unknown name
// returns ErrNotRegistered; schema violations are returned without
// invoking the handler.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, sessionID string) (map[string]any, error) {
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name too long", ErrNotRegistered)
	}

	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	if schema != nil {
		if args == nil {
			args = map[string]any{}
		}
		if err := schema.Validate(toJSONValue(args)); err != nil {
			return nil, fmt.Errorf("arguments for %q rejected: %w", name, err)
		}
	}

	r.logger.Debug("executing tool", "tool", name, "session_id", sessionID)
	return t.Handler(ctx, args, sessionID)
}

// toJSONValue normalizes a Go map into the generic shape the schema
// validator expects (numbers as float64 and so on).
func toJSONValue(v map[string]any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
