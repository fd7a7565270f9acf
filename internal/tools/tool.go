// Package tools implements the tool executor: registration, schema
// validation, risk classification, approval arbitration, sandboxing, and
// bounded concurrent execution with retry.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/lacehq/lace/pkg/lace"
)

// Tool is a named, schema-validated capability the agent loop may invoke.
// Implementations must never panic across the Execute boundary — the
// executor recovers panics defensively, but a well-behaved tool returns a
// failed ToolResult instead of throwing.
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns the tool's JSON Schema as raw bytes; it is compiled
	// once per tool name and cached by the Executor.
	InputSchema() []byte
	Annotations() lace.ToolAnnotations
	Execute(ctx context.Context, args map[string]any) (lace.ToolResult, error)
}

// Registry holds the immutable-after-construction tool inventory shared by
// a session's agent tree.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns the named tool, if registered.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool in no particular order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// MaxToolNameLength and MaxArgsSize bound the resources a single call may
// consume before it even reaches schema validation.
const (
	MaxToolNameLength = 256
	MaxArgsSize       = 10 << 20
)

func (r *Registry) resolve(name string) (Tool, error) {
	if len(name) > MaxToolNameLength {
		return nil, lace.New(lace.KindValidation, fmt.Sprintf("tool name exceeds %d characters", MaxToolNameLength))
	}
	t, ok := r.Get(name)
	if !ok {
		return nil, lace.New(lace.KindUnknownTool, "unknown tool: "+name)
	}
	return t, nil
}
