// Package provider defines the unified streaming contract over heterogeneous
// LLM backends and the registry that names them.
//
// A provider exposes a single Stream operation producing an ordered, lazy,
// single-shot sequence of events. Exactly one terminal event (done or error)
// is delivered, after which the channel is closed. Cancellation flows through
// the context passed to Stream.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/chitragupta/pkg/models"
)

// Provider is a named LLM backend exposing a streaming completion interface.
//
// Implementations must be safe for concurrent use; multiple goroutines may
// call Stream simultaneously for different requests.
type Provider interface {
	// Name returns the provider name used for registry lookups.
	Name() string

	// Stream sends a request and returns a channel of events. The channel is
	// closed after exactly one terminal event (EventDone or EventError).
	// Cancelling ctx aborts the stream; the terminal event then carries the
	// context error.
	Stream(ctx context.Context, req *Request) (<-chan Event, error)
}

// Request contains all parameters for a streaming completion.
type Request struct {
	// Model specifies which model to use. Empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt, handled separately from messages.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools defines tools the model may request to execute.
	Tools []ToolSpec `json:"tools,omitempty"`

	// MaxTokens limits the response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// ToolSpec describes a tool made available to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// EventType discriminates stream event variants.
type EventType string

const (
	// EventStart opens the stream and carries the message id.
	EventStart EventType = "start"

	// EventText carries a text delta.
	EventText EventType = "text"

	// EventThinking carries a reasoning delta.
	EventThinking EventType = "thinking"

	// EventToolCall carries one complete tool call request.
	EventToolCall EventType = "tool_call"

	// EventDone terminates the stream successfully.
	EventDone EventType = "done"

	// EventError terminates the stream with an error.
	EventError EventType = "error"
)

// Event is one element of a provider stream. The populated fields depend on
// Type; a single logical delta is never split across events.
type Event struct {
	Type EventType `json:"type"`

	// MessageID is set on EventStart.
	MessageID string `json:"message_id,omitempty"`

	// Text is set on EventText.
	Text string `json:"text,omitempty"`

	// Thinking is set on EventThinking.
	Thinking string `json:"thinking,omitempty"`

	// ToolCall is set on EventToolCall.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// StopReason and Usage are set on EventDone.
	StopReason models.StopReason `json:"stop_reason,omitempty"`
	Usage      *models.Usage     `json:"usage,omitempty"`

	// Err is set on EventError.
	Err error `json:"-"`
}

// Registry is a named provider lookup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Registering a duplicate name is an error.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider already registered: %s", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns all registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
