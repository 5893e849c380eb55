package kartavya

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/ring"
	"github.com/haasonsaas/chitragupta/internal/rta"
	"github.com/haasonsaas/chitragupta/internal/samiti"
	"github.com/haasonsaas/chitragupta/internal/storage"
	"github.com/haasonsaas/chitragupta/internal/tools"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

const (
	// ResultRingSize bounds the dispatcher's outcome history.
	ResultRingSize = 100
	// CommandTimeout bounds each command action.
	CommandTimeout = 30 * time.Second
)

// ExecutionResult is one dispatched action outcome.
type ExecutionResult struct {
	KartavyaID string     `json:"kartavya_id"`
	Action     ActionType `json:"action"`
	Success    bool       `json:"success"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// VidhiResolver looks up stored procedures by name.
type VidhiResolver interface {
	Resolve(name string) ([]ToolStep, error)
}

// VidhiMap is an in-memory VidhiResolver.
type VidhiMap map[string][]ToolStep

func (m VidhiMap) Resolve(name string) ([]ToolStep, error) {
	steps, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("vidhi %q: %w", name, storage.ErrNotFound)
	}
	return steps, nil
}

// DispatcherConfig tunes action execution.
type DispatcherConfig struct {
	// MaxConcurrent bounds in-flight dispatches.
	MaxConcurrent int
	// EnableCommandActions must be set for command actions to run.
	EnableCommandActions bool
	// DefaultChannel receives notifications with no channel of their own.
	DefaultChannel string
}

func (c *DispatcherConfig) sanitize() {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 4
	}
	if c.DefaultChannel == "" {
		c.DefaultChannel = "#alerts"
	}
}

// Dispatcher executes fired duties through per-variant handlers.
type Dispatcher struct {
	config   DispatcherConfig
	engine   *Engine
	hub      *samiti.Hub
	shell    storage.Shell
	executor *tools.Executor
	vidhis   VidhiResolver
	sem      chan struct{}
	results  *ring.Ring[ExecutionResult]

	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewDispatcher wires the handlers. Every collaborator is optional;
// actions whose collaborator is missing fail with a recorded error,
// except notifications, which degrade to record-only.
func NewDispatcher(config DispatcherConfig, engine *Engine, hub *samiti.Hub, shell storage.Shell, executor *tools.Executor, vidhis VidhiResolver, clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	config.sanitize()
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	return &Dispatcher{
		config:   config,
		engine:   engine,
		hub:      hub,
		shell:    shell,
		executor: executor,
		vidhis:   vidhis,
		sem:      make(chan struct{}, config.MaxConcurrent),
		results:  ring.New[ExecutionResult](ResultRingSize),
		clock:    clock,
		logger:   logger.Named("dispatcher"),
		metrics:  metrics,
	}
}

// Dispatch executes one fired duty's action and records the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, k *Kartavya) ExecutionResult {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return d.record(ctx, k, "", ctx.Err())
	}

	var (
		output string
		err    error
	)
	switch k.Action.Type {
	case ActionNotification:
		output, err = d.notify(k)
	case ActionCommand:
		output, err = d.command(ctx, k)
	case ActionToolSequence:
		output, err = d.toolSequence(ctx, k, k.Action.Steps)
	case ActionVidhi:
		output, err = d.vidhi(ctx, k)
	default:
		err = fmt.Errorf("unknown action type %q", k.Action.Type)
	}
	return d.record(ctx, k, output, err)
}

func (d *Dispatcher) record(ctx context.Context, k *Kartavya, output string, err error) ExecutionResult {
	result := ExecutionResult{
		KartavyaID: k.ID,
		Action:     k.Action.Type,
		Success:    err == nil,
		Result:     output,
	}
	if err != nil {
		result.Error = err.Error()
		d.logger.Warn(ctx, "kartavya action failed", "id", k.ID, "action", k.Action.Type, "error", err)
	}
	d.results.Push(result)
	if d.engine != nil {
		d.engine.recordExecution(ctx, k.ID, result.Success, result.Error)
	}
	return result
}

// GetResults returns recent outcomes, newest first.
func (d *Dispatcher) GetResults(limit int) []ExecutionResult {
	return d.results.Items(limit)
}

func (d *Dispatcher) notify(k *Kartavya) (string, error) {
	if d.hub == nil {
		return "recorded (no hub)", nil
	}
	channel := k.Action.Channel
	if channel == "" {
		channel = d.config.DefaultChannel
	}
	msg, err := d.hub.Broadcast(channel, samiti.Draft{
		Sender:  "kartavya:" + k.ID,
		Content: k.Action.Message,
	})
	if err != nil {
		return "", err
	}
	return "notified " + msg.Channel, nil
}

func (d *Dispatcher) command(ctx context.Context, k *Kartavya) (string, error) {
	if !d.config.EnableCommandActions {
		return "", fmt.Errorf("command actions are disabled")
	}
	if d.shell == nil {
		return "", fmt.Errorf("no shell configured")
	}
	if v := rta.CheckCommand(k.Action.Command); !v.Allowed {
		return "", fmt.Errorf("command rejected: %s", v.Reason)
	}
	res, err := d.shell.Run(ctx, k.Action.Command, CommandTimeout)
	if err != nil {
		return "", err
	}
	output := strings.TrimRight(res.Stdout, "\n")
	if res.Killed {
		return output, fmt.Errorf("command timed out")
	}
	if res.ExitCode != 0 {
		return output, fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return output, nil
}

func (d *Dispatcher) toolSequence(ctx context.Context, k *Kartavya, steps []ToolStep) (string, error) {
	if d.executor == nil {
		return "", fmt.Errorf("no tool executor configured")
	}
	var outputs []string
	for i, step := range steps {
		if v := rta.CheckTool(step.Tool, step.Args); !v.Allowed {
			return strings.Join(outputs, "\n"), fmt.Errorf("step %d rejected: %s", i, v.Reason)
		}
		call := models.ToolCall{
			ID:        fmt.Sprintf("%s-step-%d", k.ID, i),
			Name:      step.Tool,
			Arguments: step.Args,
		}
		result := d.executor.Execute(ctx, call, tools.ToolContext{AgentID: "kartavya:" + k.ID})
		if result.IsError {
			return strings.Join(outputs, "\n"), fmt.Errorf("step %d (%s): %s", i, step.Tool, result.Content)
		}
		outputs = append(outputs, result.Content)
	}
	return strings.Join(outputs, "\n"), nil
}

func (d *Dispatcher) vidhi(ctx context.Context, k *Kartavya) (string, error) {
	if d.vidhis == nil {
		return "", fmt.Errorf("no vidhi resolver configured")
	}
	steps, err := d.vidhis.Resolve(k.Action.Procedure)
	if err != nil {
		return "", err
	}
	return d.toolSequence(ctx, k, steps)
}
