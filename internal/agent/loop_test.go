package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/haasonsaas/chitragupta/internal/cost"
	"github.com/haasonsaas/chitragupta/internal/learning"
	"github.com/haasonsaas/chitragupta/internal/marga"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/provider"
	"github.com/haasonsaas/chitragupta/internal/tools"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes its input" }
func (echoTool) Schema() json.RawMessage { return nil }
func (echoTool) Execute(_ context.Context, args json.RawMessage, _ tools.ToolContext) (string, error) {
	return "echo: " + string(args), nil
}

func toolUseScript(callID string) []provider.Event {
	return []provider.Event{
		{Type: provider.EventStart, MessageID: "m1"},
		{Type: provider.EventToolCall, ToolCall: &models.ToolCall{
			ID: callID, Name: "echo", Arguments: json.RawMessage(`{"v":1}`),
		}},
		{Type: provider.EventDone, StopReason: models.StopToolUse},
	}
}

func newToolExecutor(t *testing.T) *tools.Executor {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	return tools.NewExecutor(tools.ExecutorConfig{
		Registry: registry,
		Policy:   tools.AllowAll(),
		Learning: learning.NewLoop(),
		Logger:   observability.Discard(),
	})
}

func TestPrompt_PlainText(t *testing.T) {
	var kinds []Kind
	tctx := &TreeContext{Events: NewDispatcher(func(e Event) { kinds = append(kinds, e.Kind) })}
	source := provider.NewScripted("s", []provider.Event{
		{Type: provider.EventStart, MessageID: "m1"},
		{Type: provider.EventText, Text: "Hello, "},
		{Type: provider.EventText, Text: "world."},
		{Type: provider.EventDone, StopReason: models.StopEndTurn, Usage: &models.Usage{InputTokens: 10, OutputTokens: 5}},
	})
	root := NewRoot(Config{Source: source, Model: "claude-sonnet"}, tctx)

	msg, err := root.Prompt(context.Background(), "greet me")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if msg.Text() != "Hello, world." {
		t.Errorf("text = %q", msg.Text())
	}
	if root.State() != StateCompleted {
		t.Errorf("state = %s", root.State())
	}

	history := root.History()
	if len(history) != 2 || history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Errorf("history roles wrong: %d messages", len(history))
	}

	want := []Kind{KindTurnStart, KindStreamStart, KindStreamText, KindStreamText, KindStreamDone, KindTurnDone}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestPrompt_ToolLoop(t *testing.T) {
	var toolDone int
	tctx := &TreeContext{
		Executor: newToolExecutor(t),
		Events: NewDispatcher(func(e Event) {
			if e.Kind == KindToolDone {
				toolDone++
				if e.ToolResult == nil || e.ToolResult.IsError {
					t.Errorf("tool:done result = %+v", e.ToolResult)
				}
			}
		}),
	}
	source := provider.NewScripted("s",
		toolUseScript("tc-1"),
		textScript("final answer"),
	)
	root := NewRoot(Config{Source: source, Model: "claude-sonnet"}, tctx)

	msg, err := root.Prompt(context.Background(), "use the tool")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if msg.Text() != "final answer" {
		t.Errorf("text = %q", msg.Text())
	}
	if toolDone != 1 {
		t.Errorf("tool:done events = %d", toolDone)
	}

	history := root.History()
	// user, assistant(tool_call), tool(result), assistant(final)
	if len(history) != 4 {
		t.Fatalf("history = %d messages", len(history))
	}
	if history[2].Role != models.RoleTool {
		t.Errorf("turn 2 role = %s", history[2].Role)
	}
	results := history[2].Content
	if len(results) != 1 || results[0].ToolResult == nil {
		t.Fatalf("tool turn parts = %+v", results)
	}
	if results[0].ToolResult.ToolCallID != "tc-1" || results[0].ToolResult.IsError {
		t.Errorf("tool result = %+v", results[0].ToolResult)
	}
}

func TestPrompt_MaxTurnsFatal(t *testing.T) {
	// Provider asks for tools forever.
	source := provider.NewScripted("s", toolUseScript("tc-loop"))
	root := NewRoot(Config{
		Source:   source,
		Model:    "claude-sonnet",
		MaxTurns: 3,
	}, &TreeContext{Executor: newToolExecutor(t)})

	_, err := root.Prompt(context.Background(), "loop forever")
	if err == nil {
		t.Fatal("expected max turns error")
	}
	if root.State() != StateError {
		t.Errorf("state = %s, want error", root.State())
	}
}

func TestPrompt_StreamErrorSetsErrorState(t *testing.T) {
	source := provider.NewScripted("s", []provider.Event{
		{Type: provider.EventStart, MessageID: "m1"},
		{Type: provider.EventError, Err: errors.New("backend unreachable")},
	})
	root := NewRoot(Config{Source: source, Model: "claude-sonnet"}, &TreeContext{})

	if _, err := root.Prompt(context.Background(), "hello"); err == nil {
		t.Fatal("expected stream error")
	}
	if root.State() != StateError {
		t.Errorf("state = %s", root.State())
	}
}

func TestPrompt_RejectsConcurrentTurn(t *testing.T) {
	root := newTestRoot(t)
	root.mu.Lock()
	root.state = StateRunning
	root.mu.Unlock()

	if _, err := root.Prompt(context.Background(), "second"); err == nil {
		t.Error("concurrent prompt should fail")
	}
}

func TestPrompt_RouterSelectsModelAndSkips(t *testing.T) {
	catalog := []cost.ModelInfo{{ID: "claude-haiku", ContextWindow: 200_000}}
	router := marga.NewPipeline(marga.DefaultPipelineConfig(), cost.NewTracker(catalog), observability.Discard())

	source := provider.NewScripted("s", textScript("hi there"))
	root := NewRoot(Config{Source: source}, &TreeContext{Router: router})

	// Heartbeat resolves without the provider.
	msg, err := root.Prompt(context.Background(), "heartbeat check")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if source.Calls() != 0 {
		t.Errorf("provider called %d times for a skip decision", source.Calls())
	}
	if msg.Text() == "" {
		t.Error("skip turn should still answer")
	}
	if root.State() != StateCompleted {
		t.Errorf("state = %s", root.State())
	}
}

func TestDelegate(t *testing.T) {
	source := provider.NewScripted("s", textScript("delegated result"))
	root := NewRoot(Config{Source: source, Model: "claude-sonnet"}, &TreeContext{})

	out, err := root.Delegate(context.Background(), Config{Purpose: "worker"}, "do the thing")
	if err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if out != "delegated result" {
		t.Errorf("output = %q", out)
	}
	children := root.Children()
	if len(children) != 1 || children[0].State() != StateCompleted {
		t.Error("delegated child missing or unfinished")
	}
}

func TestDelegateParallel(t *testing.T) {
	source := provider.NewScripted("s", textScript("parallel result"))
	root := NewRoot(Config{Source: source, Model: "claude-sonnet"}, &TreeContext{})

	results := root.DelegateParallel(context.Background(), []DelegateTask{
		{Config: Config{Purpose: "w1"}, Text: "task one"},
		{Config: Config{Purpose: "w2"}, Text: "task two"},
	})
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.Err != nil || r.Output != "parallel result" {
			t.Errorf("result %d = %+v", i, r)
		}
	}
	if len(root.Children()) != 2 {
		t.Errorf("children = %d", len(root.Children()))
	}
}

func TestPrompt_RecordsUsage(t *testing.T) {
	catalog := []cost.ModelInfo{{
		ID: "claude-sonnet", ContextWindow: 200_000,
		Pricing: cost.Pricing{Input: 3, Output: 15},
	}}
	tracker := cost.NewTracker(catalog)

	source := provider.NewScripted("s", []provider.Event{
		{Type: provider.EventStart, MessageID: "m1"},
		{Type: provider.EventText, Text: "ok"},
		{Type: provider.EventDone, StopReason: models.StopEndTurn, Usage: &models.Usage{InputTokens: 1000, OutputTokens: 100}},
	})
	root := NewRoot(Config{Source: source, Model: "claude-sonnet"}, &TreeContext{Tracker: tracker})

	if _, err := root.Prompt(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
	totals := tracker.Totals()["claude-sonnet"]
	if totals.Usage.InputTokens != 1000 || totals.Calls != 1 {
		t.Errorf("totals = %+v", totals)
	}
}
