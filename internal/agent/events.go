package agent

import (
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// Kind discriminates agent event variants.
type Kind string

const (
	KindTurnStart     Kind = "turn:start"
	KindTurnDone      Kind = "turn:done"
	KindStreamStart   Kind = "stream:start"
	KindStreamText    Kind = "stream:text"
	KindStreamThink   Kind = "stream:thinking"
	KindStreamTool    Kind = "stream:tool_call"
	KindStreamDone    Kind = "stream:done"
	KindToolDone      Kind = "tool:done"
	KindSubagentSpawn Kind = "subagent:spawn"
)

// Event is one agent lifecycle notification. Fields beyond Kind and
// AgentID are populated per kind:
//
//	stream:text, stream:thinking  Text
//	stream:tool_call              ToolCall
//	stream:done                   StopReason, Usage
//	tool:done                     ToolCall, ToolResult
//	subagent:spawn                ChildID
//	turn:done                     Turn
type Event struct {
	Kind       Kind
	AgentID    string
	Text       string
	ToolCall   *models.ToolCall
	ToolResult *models.ToolResult
	StopReason models.StopReason
	Usage      *models.Usage
	ChildID    string
	Turn       *models.Message
}

// Sink receives events. Sinks must not block; the runtime calls them
// inline on the emitting goroutine.
type Sink func(Event)

// Dispatcher fans events out to a sink, containing sink panics so event
// emission never disturbs the agent loop.
type Dispatcher struct {
	sink Sink
}

// NewDispatcher wraps a sink. A nil sink yields a no-op dispatcher.
func NewDispatcher(sink Sink) *Dispatcher {
	return &Dispatcher{sink: sink}
}

// Emit delivers one event, fire and forget.
func (d *Dispatcher) Emit(e Event) {
	if d == nil || d.sink == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	d.sink(e)
}
