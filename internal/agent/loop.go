package agent

import (
	"context"
	"fmt"

	"github.com/haasonsaas/chitragupta/internal/marga"
	"github.com/haasonsaas/chitragupta/internal/provider"
	"github.com/haasonsaas/chitragupta/internal/tools"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// Prompt runs one full user turn: append the user message, stream the
// assistant's reply, execute any requested tools, and repeat until the
// model stops or MaxTurns is hit. Stream events are forwarded to the
// dispatcher verbatim as they arrive.
func (a *Agent) Prompt(ctx context.Context, text string) (*models.Message, error) {
	a.mu.Lock()
	switch a.state {
	case StateRunning:
		a.mu.Unlock()
		return nil, fmt.Errorf("agent %s is already running", a.id)
	case StateAborted:
		a.mu.Unlock()
		return nil, fmt.Errorf("agent %s is aborted", a.id)
	}
	a.state = StateRunning
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.history = append(a.history, models.UserMessage(text))
	a.mu.Unlock()
	defer cancel()

	a.tctx.Events.Emit(Event{Kind: KindTurnStart, AgentID: a.id})
	a.heartbeat()

	var decision *marga.Decision
	model := a.config.Model
	if a.tctx.Router != nil {
		decision = a.tctx.Router.Route(ctx, a.History())
		if decision.SkipLLM {
			return a.finishSkip()
		}
		if model == "" {
			model = decision.ModelID
		}
	}

	var final *models.Message
	for turn := 0; ; turn++ {
		if turn >= a.config.MaxTurns {
			err := fmt.Errorf("agent %s exceeded %d turns", a.id, a.config.MaxTurns)
			a.finalize(StateError)
			a.reportReward(decision, 0)
			return nil, err
		}

		msg, stop, err := a.streamOnce(ctx, model)
		if err != nil {
			if a.State() != StateAborted {
				a.finalize(StateError)
			}
			a.reportReward(decision, 0)
			return nil, err
		}
		a.heartbeat()

		if stop == models.StopToolUse {
			a.runTools(ctx, msg.ToolCalls())
			continue
		}
		final = msg
		break
	}

	a.finalize(StateCompleted)
	a.reportReward(decision, 1)
	a.tctx.Events.Emit(Event{Kind: KindTurnDone, AgentID: a.id, Turn: final})
	return final, nil
}

// finishSkip completes a turn the router resolved without a model.
func (a *Agent) finishSkip() (*models.Message, error) {
	msg := models.AssistantMessage("ok")
	a.mu.Lock()
	a.history = append(a.history, msg)
	a.mu.Unlock()
	a.finalize(StateCompleted)
	a.tctx.Events.Emit(Event{Kind: KindTurnDone, AgentID: a.id, Turn: &msg})
	return &msg, nil
}

// finalize moves a running agent to the given terminal state. An abort
// that raced the loop wins.
func (a *Agent) finalize(to State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateRunning {
		a.state = to
	}
}

func (a *Agent) reportReward(decision *marga.Decision, reward float64) {
	if decision != nil && a.tctx.Router != nil {
		a.tctx.Router.ReportReward(decision, reward)
	}
}

// streamOnce performs one provider stream over the current history,
// emitting every event, and appends the assembled assistant message.
func (a *Agent) streamOnce(ctx context.Context, model string) (*models.Message, models.StopReason, error) {
	if a.config.Source == nil {
		return nil, "", fmt.Errorf("agent %s has no provider", a.id)
	}

	req := &provider.Request{
		Model:     model,
		System:    a.config.System,
		Messages:  a.History(),
		MaxTokens: a.config.MaxTokens,
	}
	if a.tctx.Executor != nil {
		req.Tools = a.tctx.Executor.Registry().Specs()
	}

	events, err := a.config.Source.Stream(ctx, req)
	if err != nil {
		return nil, "", err
	}

	var parts []models.ContentPart
	var stop models.StopReason
	var usage *models.Usage
	for event := range events {
		switch event.Type {
		case provider.EventStart:
			a.tctx.Events.Emit(Event{Kind: KindStreamStart, AgentID: a.id})
		case provider.EventText:
			parts = appendText(parts, event.Text)
			a.tctx.Events.Emit(Event{Kind: KindStreamText, AgentID: a.id, Text: event.Text})
		case provider.EventThinking:
			a.tctx.Events.Emit(Event{Kind: KindStreamThink, AgentID: a.id, Text: event.Thinking})
		case provider.EventToolCall:
			if event.ToolCall != nil {
				parts = append(parts, models.ToolCallPart(*event.ToolCall))
				a.tctx.Events.Emit(Event{Kind: KindStreamTool, AgentID: a.id, ToolCall: event.ToolCall})
			}
		case provider.EventDone:
			stop = event.StopReason
			usage = event.Usage
			a.tctx.Events.Emit(Event{
				Kind:       KindStreamDone,
				AgentID:    a.id,
				StopReason: event.StopReason,
				Usage:      event.Usage,
			})
		case provider.EventError:
			return nil, "", event.Err
		}
	}
	if stop == "" {
		return nil, "", fmt.Errorf("stream ended without a done event")
	}

	a.recordUsage(model, usage)

	msg := models.Message{Role: models.RoleAssistant, Content: parts}
	a.mu.Lock()
	a.history = append(a.history, msg)
	a.mu.Unlock()
	return &msg, stop, nil
}

// appendText extends a trailing text part rather than fragmenting the
// assistant message per delta.
func appendText(parts []models.ContentPart, text string) []models.ContentPart {
	if n := len(parts); n > 0 && parts[n-1].Type == models.PartText {
		parts[n-1].Text += text
		return parts
	}
	return append(parts, models.TextPart(text))
}

func (a *Agent) recordUsage(model string, usage *models.Usage) {
	if usage == nil {
		return
	}
	if a.tctx.Tracker != nil {
		a.tctx.Tracker.Record(model, usage)
	}
	if a.tctx.Metrics != nil {
		a.tctx.Metrics.TokensUsed.WithLabelValues("", model, "input").Add(float64(usage.InputTokens))
		a.tctx.Metrics.TokensUsed.WithLabelValues("", model, "output").Add(float64(usage.OutputTokens))
	}
}

// runTools executes the turn's tool calls in order and appends one tool
// message carrying every result.
func (a *Agent) runTools(ctx context.Context, calls []models.ToolCall) {
	parts := make([]models.ContentPart, 0, len(calls))
	for _, call := range calls {
		result := a.executeTool(ctx, call)
		parts = append(parts, models.ToolResultPart(result))
	}
	a.mu.Lock()
	a.history = append(a.history, models.Message{Role: models.RoleTool, Content: parts})
	a.mu.Unlock()
}

func (a *Agent) executeTool(ctx context.Context, call models.ToolCall) models.ToolResult {
	if a.tctx.Executor == nil {
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    "no tool executor configured",
			IsError:    true,
		}
	}
	return a.tctx.Executor.Execute(ctx, call, tools.ToolContext{
		SessionID:  a.config.SessionID,
		AgentID:    a.id,
		WorkingDir: a.config.WorkingDir,
		OnDone: func(done models.ToolCall, result models.ToolResult) {
			a.tctx.Events.Emit(Event{
				Kind:       KindToolDone,
				AgentID:    a.id,
				ToolCall:   &done,
				ToolResult: &result,
			})
		},
	})
}
