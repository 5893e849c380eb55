// Package agent implements the conversational agent and its tree. An agent
// owns a message history and a provider stream; sub-agents form a bounded
// tree that shares collaborators through a TreeContext.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/cost"
	"github.com/haasonsaas/chitragupta/internal/kaalabrahma"
	"github.com/haasonsaas/chitragupta/internal/learning"
	"github.com/haasonsaas/chitragupta/internal/marga"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/provider"
	"github.com/haasonsaas/chitragupta/internal/samiti"
	"github.com/haasonsaas/chitragupta/internal/tools"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// Tree ceilings. Spawn fails rather than exceed them.
const (
	MaxSubAgents  = 6
	MaxAgentDepth = 5
)

// DefaultMaxTurns bounds one prompt's stream/tool cycles.
const DefaultMaxTurns = 25

// State is an agent's lifecycle phase.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateError     State = "error"
)

// StreamSource produces provider event streams. Both a raw provider and a
// resilient streamer satisfy it.
type StreamSource interface {
	Stream(ctx context.Context, req *provider.Request) (<-chan provider.Event, error)
}

// TreeContext holds the collaborators shared by every agent in one tree.
// It is constructed once at the root and threaded into children on spawn.
type TreeContext struct {
	Executor *tools.Executor
	Samiti   *samiti.Hub
	Learning *learning.Loop
	Health   *kaalabrahma.Registry
	Router   *marga.Pipeline
	Tracker  *cost.Tracker
	Clock    clockwork.Clock
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Events   *Dispatcher
}

func (t *TreeContext) sanitize() {
	if t.Clock == nil {
		t.Clock = clockwork.NewSystem()
	}
	if t.Events == nil {
		t.Events = NewDispatcher(nil)
	}
	t.Logger = t.Logger.Named("agent")
}

// Config describes one agent. Zero fields inherit from the parent on
// spawn.
type Config struct {
	ID         string
	Purpose    string
	Source     StreamSource
	Model      string
	System     string
	MaxTokens  int
	MaxTurns   int
	SessionID  string
	WorkingDir string
}

// Agent is one node of the tree.
type Agent struct {
	mu        sync.Mutex
	config    Config
	id        string
	purpose   string
	depth     int
	state     State
	parent    *Agent
	children  []*Agent
	nextChild int
	history   []models.Message
	tctx      *TreeContext
	cancel    context.CancelFunc
}

// NewRoot creates a depth-0 agent and registers it with the health
// registry.
func NewRoot(config Config, tctx *TreeContext) *Agent {
	if tctx == nil {
		tctx = &TreeContext{}
	}
	tctx.sanitize()
	if config.ID == "" {
		config.ID = "root"
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultMaxTurns
	}
	a := &Agent{
		config:  config,
		id:      config.ID,
		purpose: config.Purpose,
		state:   StateIdle,
		tctx:    tctx,
	}
	if tctx.Health != nil {
		tctx.Health.Register(a.id, "", a.purpose, 0)
	}
	if tctx.Metrics != nil {
		tctx.Metrics.LiveAgents.Inc()
	}
	return a
}

// ID returns the agent's tree-unique id.
func (a *Agent) ID() string { return a.id }

// Purpose returns the agent's configured purpose.
func (a *Agent) Purpose() string { return a.purpose }

// Depth returns the agent's depth; the root is 0.
func (a *Agent) Depth() int { return a.depth }

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns a copy of the agent's message history.
func (a *Agent) History() []models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Message, len(a.history))
	copy(out, a.history)
	return out
}

// Spawn creates a child agent. It fails when the parent already carries
// MaxSubAgents children or the child would exceed MaxAgentDepth. The child
// inherits the parent's provider, model, and system prompt unless the
// config overrides them.
func (a *Agent) Spawn(config Config) (*Agent, error) {
	a.mu.Lock()
	if len(a.children) >= MaxSubAgents {
		n := len(a.children)
		a.mu.Unlock()
		return nil, fmt.Errorf("Cannot spawn sub-agent: parent already has %d children", n)
	}
	if a.depth+1 > MaxAgentDepth {
		a.mu.Unlock()
		return nil, fmt.Errorf("Cannot spawn sub-agent: maximum agent depth %d exceeded", MaxAgentDepth)
	}

	a.nextChild++
	if config.ID == "" {
		config.ID = fmt.Sprintf("%s.%d", a.id, a.nextChild)
	}
	if config.Source == nil {
		config.Source = a.config.Source
	}
	if config.Model == "" {
		config.Model = a.config.Model
	}
	if config.System == "" {
		config.System = a.config.System
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = a.config.MaxTokens
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = a.config.MaxTurns
	}
	if config.SessionID == "" {
		config.SessionID = a.config.SessionID
	}
	if config.WorkingDir == "" {
		config.WorkingDir = a.config.WorkingDir
	}

	child := &Agent{
		config:  config,
		id:      config.ID,
		purpose: config.Purpose,
		depth:   a.depth + 1,
		state:   StateIdle,
		parent:  a,
		tctx:    a.tctx,
	}
	a.children = append(a.children, child)
	a.mu.Unlock()

	if a.tctx.Health != nil {
		a.tctx.Health.Register(child.id, a.id, child.purpose, child.depth)
	}
	if a.tctx.Metrics != nil {
		a.tctx.Metrics.LiveAgents.Inc()
	}
	a.tctx.Events.Emit(Event{Kind: KindSubagentSpawn, AgentID: a.id, ChildID: child.id})
	return child, nil
}

// Abort cancels the agent's active prompt and cascades depth-first over
// all descendants. Aborted agents reject further prompts.
func (a *Agent) Abort() {
	a.mu.Lock()
	a.state = StateAborted
	cancel := a.cancel
	a.cancel = nil
	children := make([]*Agent, len(a.children))
	copy(children, a.children)
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, child := range children {
		child.Abort()
	}
}

// Parent returns the parent agent, nil at the root.
func (a *Agent) Parent() *Agent { return a.parent }

// Root walks up to the tree's root.
func (a *Agent) Root() *Agent {
	node := a
	for node.parent != nil {
		node = node.parent
	}
	return node
}

// Ancestors returns the chain from parent to root.
func (a *Agent) Ancestors() []*Agent {
	var out []*Agent
	for node := a.parent; node != nil; node = node.parent {
		out = append(out, node)
	}
	return out
}

// Lineage returns the chain from root down to this agent inclusive.
func (a *Agent) Lineage() []*Agent {
	ancestors := a.Ancestors()
	out := make([]*Agent, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = append(out, ancestors[i])
	}
	return append(out, a)
}

// Children returns a copy of the agent's direct children in spawn order.
func (a *Agent) Children() []*Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Agent, len(a.children))
	copy(out, a.children)
	return out
}

// Descendants returns all agents below this one, depth-first.
func (a *Agent) Descendants() []*Agent {
	var out []*Agent
	for _, child := range a.Children() {
		out = append(out, child)
		out = append(out, child.Descendants()...)
	}
	return out
}

// Siblings returns the parent's other children.
func (a *Agent) Siblings() []*Agent {
	if a.parent == nil {
		return nil
	}
	var out []*Agent
	for _, child := range a.parent.Children() {
		if child != a {
			out = append(out, child)
		}
	}
	return out
}

// Find searches this agent's subtree for an id, inclusive.
func (a *Agent) Find(id string) *Agent {
	if a.id == id {
		return a
	}
	for _, child := range a.Children() {
		if found := child.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// IsDescendantOf reports whether other is an ancestor of this agent.
func (a *Agent) IsDescendantOf(other *Agent) bool {
	for node := a.parent; node != nil; node = node.parent {
		if node == other {
			return true
		}
	}
	return false
}

// IsAncestorOf reports whether this agent is an ancestor of other.
func (a *Agent) IsAncestorOf(other *Agent) bool {
	return other.IsDescendantOf(a)
}

func (a *Agent) heartbeat() {
	if a.tctx.Health != nil {
		_ = a.tctx.Health.Heartbeat(a.id)
	}
}
