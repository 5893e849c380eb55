package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/learning"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// fakeTool is a configurable handler for tests.
type fakeTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, args json.RawMessage, tctx ToolContext) (string, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool" }
func (f *fakeTool) Schema() json.RawMessage {
	if f.schema == "" {
		return nil
	}
	return json.RawMessage(f.schema)
}
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage, tctx ToolContext) (string, error) {
	if f.execute == nil {
		return "ok", nil
	}
	return f.execute(ctx, args, tctx)
}

func newTestExecutor(t *testing.T, policy PolicyEngine, handlers ...Handler) (*Executor, *learning.Loop) {
	t.Helper()
	registry := NewRegistry()
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	loop := learning.NewLoop()
	exec := NewExecutor(ExecutorConfig{
		Registry: registry,
		Policy:   policy,
		Learning: loop,
		Clock:    clockwork.NewFake(time.Unix(1_700_000_000, 0)),
		Logger:   observability.Discard(),
	})
	return exec, loop
}

func call(name, args string) models.ToolCall {
	return models.ToolCall{ID: "tc-1", Name: name, Arguments: json.RawMessage(args)}
}

func TestRegistry_DuplicateAndLookup(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&fakeTool{name: "grep"}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(&fakeTool{name: "grep"}); err == nil {
		t.Error("duplicate registration should fail")
	}
	if err := registry.Register(&fakeTool{name: ""}); err == nil {
		t.Error("empty name should fail")
	}
	if _, ok := registry.Get("grep"); !ok {
		t.Error("registered tool not found")
	}

	registry.Register(&fakeTool{name: "awk"})
	names := registry.Names()
	if len(names) != 2 || names[0] != "awk" {
		t.Errorf("Names = %v", names)
	}
	specs := registry.Specs()
	if len(specs) != 2 || specs[0].Name != "awk" {
		t.Errorf("Specs = %v", specs)
	}
}

func TestExecutor_Success(t *testing.T) {
	exec, loop := newTestExecutor(t, AllowAll(), &fakeTool{name: "echo"})

	var doneCall models.ToolCall
	var doneResult models.ToolResult
	result := exec.Execute(context.Background(), call("echo", `{}`), ToolContext{
		AgentID: "root",
		OnDone: func(c models.ToolCall, r models.ToolResult) {
			doneCall, doneResult = c, r
		},
	})

	if result.IsError || result.Content != "ok" {
		t.Errorf("result = %+v", result)
	}
	if result.ToolCallID != "tc-1" {
		t.Errorf("ToolCallID = %q", result.ToolCallID)
	}
	if doneCall.Name != "echo" || doneResult.Content != "ok" {
		t.Error("OnDone not invoked with call and result")
	}
	stats, ok := loop.Stats("echo")
	if !ok || stats.TotalCalls != 1 || stats.Successes != 1 {
		t.Errorf("learning stats = %+v", stats)
	}
}

func TestExecutor_UnknownTool(t *testing.T) {
	exec, _ := newTestExecutor(t, AllowAll())
	result := exec.Execute(context.Background(), call("ghost", `{}`), ToolContext{})
	if !result.IsError || !strings.Contains(result.Content, "unknown tool") {
		t.Errorf("result = %+v", result)
	}
}

func TestExecutor_SchemaValidation(t *testing.T) {
	schema := `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`
	exec, loop := newTestExecutor(t, AllowAll(), &fakeTool{name: "read_file", schema: schema})

	good := exec.Execute(context.Background(), call("read_file", `{"path":"main.go"}`), ToolContext{})
	if good.IsError {
		t.Errorf("valid args rejected: %+v", good)
	}

	bad := exec.Execute(context.Background(), call("read_file", `{"path":7}`), ToolContext{})
	if !bad.IsError || !strings.Contains(bad.Content, "invalid arguments") {
		t.Errorf("invalid args accepted: %+v", bad)
	}

	missing := exec.Execute(context.Background(), call("read_file", `{}`), ToolContext{})
	if !missing.IsError {
		t.Error("missing required arg accepted")
	}

	// Rejected calls never reach the handler or the learning loop.
	stats, _ := loop.Stats("read_file")
	if stats.TotalCalls != 1 {
		t.Errorf("TotalCalls = %d, want 1", stats.TotalCalls)
	}
}

func TestExecutor_PolicyDeny(t *testing.T) {
	policy := &StaticPolicy{
		Rules:   []PolicyRule{{Tool: "rm", Effect: EffectDeny, Reason: "destructive"}},
		Default: EffectAllow,
	}
	exec, _ := newTestExecutor(t, policy, &fakeTool{name: "rm"})

	result := exec.Execute(context.Background(), call("rm", `{}`), ToolContext{})
	if !result.IsError || !strings.Contains(result.Content, "destructive") {
		t.Errorf("result = %+v", result)
	}
}

func TestExecutor_PolicyAsk(t *testing.T) {
	policy := &StaticPolicy{Default: EffectAsk}
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "deploy"})

	approve := true
	exec := NewExecutor(ExecutorConfig{
		Registry: registry,
		Policy:   policy,
		Approver: ApproverFunc(func(ctx context.Context, tool string, args json.RawMessage, reason string) (bool, error) {
			return approve, nil
		}),
		Logger: observability.Discard(),
	})

	if result := exec.Execute(context.Background(), call("deploy", `{}`), ToolContext{}); result.IsError {
		t.Errorf("approved call failed: %+v", result)
	}

	approve = false
	if result := exec.Execute(context.Background(), call("deploy", `{}`), ToolContext{}); !result.IsError {
		t.Error("rejected call succeeded")
	}
}

func TestExecutor_AskWithoutApprover(t *testing.T) {
	exec, _ := newTestExecutor(t, &StaticPolicy{Default: EffectAsk}, &fakeTool{name: "deploy"})
	result := exec.Execute(context.Background(), call("deploy", `{}`), ToolContext{})
	if !result.IsError || !strings.Contains(result.Content, "no approver") {
		t.Errorf("result = %+v", result)
	}
}

func TestExecutor_PanicBecomesError(t *testing.T) {
	boom := &fakeTool{
		name: "boom",
		execute: func(context.Context, json.RawMessage, ToolContext) (string, error) {
			panic("handler bug")
		},
	}
	exec, loop := newTestExecutor(t, AllowAll(), boom)

	result := exec.Execute(context.Background(), call("boom", `{}`), ToolContext{})
	if !result.IsError || !strings.Contains(result.Content, "panicked") {
		t.Errorf("result = %+v", result)
	}
	stats, _ := loop.Stats("boom")
	if stats.Failures != 1 {
		t.Errorf("failure not recorded: %+v", stats)
	}
}

func TestExecutor_HandlerErrorIsToolError(t *testing.T) {
	failing := &fakeTool{
		name: "flaky",
		execute: func(context.Context, json.RawMessage, ToolContext) (string, error) {
			return "", fmt.Errorf("disk on fire")
		},
	}
	exec, _ := newTestExecutor(t, AllowAll(), failing)

	result := exec.Execute(context.Background(), call("flaky", `{}`), ToolContext{})
	if !result.IsError || result.Content != "disk on fire" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecutor_RepeatedCallGuard(t *testing.T) {
	exec, _ := newTestExecutor(t, AllowAll(), &fakeTool{name: "grep"}, &fakeTool{name: "cat"})

	tctx := ToolContext{AgentID: "root"}
	for i := 0; i < MaxConsecutiveRepeats; i++ {
		if result := exec.Execute(context.Background(), call("grep", `{}`), tctx); result.IsError {
			t.Fatalf("call %d rejected: %+v", i, result)
		}
	}
	if result := exec.Execute(context.Background(), call("grep", `{}`), tctx); !result.IsError {
		t.Error("repeat guard did not trip")
	}

	// A different tool resets the streak; a different agent has its own.
	if result := exec.Execute(context.Background(), call("cat", `{}`), tctx); result.IsError {
		t.Errorf("different tool rejected: %+v", result)
	}
	other := ToolContext{AgentID: "root.1"}
	if result := exec.Execute(context.Background(), call("grep", `{}`), other); result.IsError {
		t.Errorf("other agent rejected: %+v", result)
	}
	if result := exec.Execute(context.Background(), call("grep", `{}`), tctx); result.IsError {
		t.Errorf("streak should have reset: %+v", result)
	}
}
