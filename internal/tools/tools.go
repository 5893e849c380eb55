// Package tools hosts the tool registry, the policy gate, and the executor
// that runs tool calls on behalf of agents.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/chitragupta/internal/provider"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// Handler implements one callable tool.
type Handler interface {
	// Name is the unique tool identifier.
	Name() string
	// Description is shown to the model.
	Description() string
	// Schema is the JSON Schema for arguments. Nil disables validation.
	Schema() json.RawMessage
	// Execute runs the tool. A returned error becomes an error-tagged
	// tool result, not a runtime failure.
	Execute(ctx context.Context, args json.RawMessage, tctx ToolContext) (string, error)
}

// ToolContext carries per-call collaborator handles into a tool.
type ToolContext struct {
	SessionID  string
	AgentID    string
	WorkingDir string
	Metadata   map[string]any

	// OnDone, when set, receives the finished call and its result.
	OnDone func(call models.ToolCall, result models.ToolResult)
}

// Registry is a thread-safe name -> handler table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Duplicate names are an error.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Get returns a handler by name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs renders the registry as provider tool specs, sorted by name.
func (r *Registry) Specs() []provider.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]provider.ToolSpec, 0, len(r.handlers))
	for _, h := range r.handlers {
		specs = append(specs, provider.ToolSpec{
			Name:        h.Name(),
			Description: h.Description(),
			Schema:      h.Schema(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
