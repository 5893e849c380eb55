package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/learning"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// MaxConsecutiveRepeats bounds back-to-back calls of the same tool by one
// agent. Detection is by tool name only.
const MaxConsecutiveRepeats = 8

// ExecutorConfig wires the executor's collaborators. Policy is required;
// everything else may be nil.
type ExecutorConfig struct {
	Registry *Registry
	Policy   PolicyEngine
	Approver Approver
	Learning *learning.Loop
	Metrics  *observability.Metrics
	Clock    clockwork.Clock
	Logger   *observability.Logger
}

// Executor resolves, gates, and runs tool calls.
type Executor struct {
	registry *Registry
	policy   PolicyEngine
	approver Approver
	learning *learning.Loop
	metrics  *observability.Metrics
	clock    clockwork.Clock
	logger   *observability.Logger

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
	repeats map[string]repeatState
}

type repeatState struct {
	tool  string
	count int
}

// NewExecutor builds an executor. A nil policy denies nothing; calls run
// as if allowed.
func NewExecutor(config ExecutorConfig) *Executor {
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	registry := config.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Executor{
		registry: registry,
		policy:   config.Policy,
		approver: config.Approver,
		learning: config.Learning,
		metrics:  config.Metrics,
		clock:    clock,
		logger:   config.Logger.Named("tools"),
	}
}

// Registry exposes the executor's tool table.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs one tool call to completion and always returns a result;
// failures are error-tagged results, never panics.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, tctx ToolContext) models.ToolResult {
	result := e.execute(ctx, call, tctx)
	if tctx.OnDone != nil {
		tctx.OnDone(call, result)
	}
	return result
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall, tctx ToolContext) models.ToolResult {
	handler, ok := e.registry.Get(call.Name)
	if !ok {
		e.countExecution(call.Name, "error")
		return e.errorResult(call, fmt.Sprintf("unknown tool %q", call.Name))
	}

	if msg := e.trackRepeat(tctx.AgentID, call.Name); msg != "" {
		e.countExecution(call.Name, "error")
		return e.errorResult(call, msg)
	}

	if err := e.validateArgs(handler, call.Arguments); err != nil {
		e.countExecution(call.Name, "error")
		return e.errorResult(call, fmt.Sprintf("invalid arguments for %q: %v", call.Name, err))
	}

	if e.policy != nil {
		decision := e.policy.Check(ctx, call.Name, call.Arguments, tctx)
		switch decision.Effect {
		case EffectDeny:
			e.countExecution(call.Name, "denied")
			reason := decision.Reason
			if reason == "" {
				reason = "denied by policy"
			}
			return e.errorResult(call, fmt.Sprintf("tool %q denied: %s", call.Name, reason))
		case EffectAsk:
			approved, err := e.resolveAsk(ctx, call, decision.Reason)
			if err != nil {
				e.countExecution(call.Name, "denied")
				return e.errorResult(call, fmt.Sprintf("approval for %q failed: %v", call.Name, err))
			}
			if !approved {
				e.countExecution(call.Name, "denied")
				return e.errorResult(call, fmt.Sprintf("tool %q rejected by approver", call.Name))
			}
		}
	}

	startMs := e.clock.NowMillis()
	content, err := e.invoke(ctx, handler, call.Arguments, tctx)
	elapsedMs := e.clock.NowMillis() - startMs

	success := err == nil
	if e.learning != nil {
		e.learning.RecordToolCall(call.Name, success, float64(elapsedMs))
	}
	if e.metrics != nil {
		e.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(float64(elapsedMs) / 1000)
	}

	if err != nil {
		e.countExecution(call.Name, "error")
		e.logger.Warn(ctx, "tool failed", "tool", call.Name, "error", err)
		return models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}
	e.countExecution(call.Name, "success")
	return models.ToolResult{ToolCallID: call.ID, Content: content}
}

// invoke runs the handler, converting panics into errors.
func (e *Executor) invoke(ctx context.Context, handler Handler, args json.RawMessage, tctx ToolContext) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", handler.Name(), r)
		}
	}()
	return handler.Execute(ctx, args, tctx)
}

func (e *Executor) resolveAsk(ctx context.Context, call models.ToolCall, reason string) (bool, error) {
	if e.approver == nil {
		return false, fmt.Errorf("no approver configured")
	}
	return e.approver.Approve(ctx, call.Name, call.Arguments, reason)
}

// trackRepeat counts consecutive same-name calls per agent and returns a
// rejection message past the limit.
func (e *Executor) trackRepeat(agentID, tool string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.repeats == nil {
		e.repeats = make(map[string]repeatState)
	}
	state := e.repeats[agentID]
	if state.tool == tool {
		state.count++
	} else {
		state = repeatState{tool: tool, count: 1}
	}
	e.repeats[agentID] = state
	if state.count > MaxConsecutiveRepeats {
		return fmt.Sprintf("tool %q called %d times in a row; try a different approach", tool, state.count)
	}
	return ""
}

func (e *Executor) validateArgs(handler Handler, args json.RawMessage) error {
	raw := handler.Schema()
	if len(raw) == 0 {
		return nil
	}
	schema, err := e.compiledSchema(handler.Name(), raw)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}

func (e *Executor) compiledSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.schemas == nil {
		e.schemas = make(map[string]*jsonschema.Schema)
	}
	if schema, ok := e.schemas[name]; ok {
		return schema, nil
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", name, err)
	}
	e.schemas[name] = schema
	return schema, nil
}

func (e *Executor) countExecution(tool, status string) {
	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	}
}

func (e *Executor) errorResult(call models.ToolCall, msg string) models.ToolResult {
	return models.ToolResult{ToolCallID: call.ID, Content: msg, IsError: true}
}
