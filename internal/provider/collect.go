package provider

import (
	"context"
	"fmt"

	"github.com/haasonsaas/chitragupta/pkg/models"
)

// StreamResult is the accumulated outcome of a consumed stream.
type StreamResult struct {
	MessageID    string
	Text         string
	ThinkingText string
	ToolCalls    []models.ToolCall
	StopReason   models.StopReason
	Usage        models.Usage
}

// Collect drains a stream until its terminal event, accumulating text,
// thinking, and tool calls. Stream errors propagate as returned errors.
func Collect(ctx context.Context, events <-chan Event) (*StreamResult, error) {
	result := &StreamResult{}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("stream closed without terminal event")
			}
			switch ev.Type {
			case EventStart:
				result.MessageID = ev.MessageID
			case EventText:
				result.Text += ev.Text
			case EventThinking:
				result.ThinkingText += ev.Thinking
			case EventToolCall:
				if ev.ToolCall != nil {
					result.ToolCalls = append(result.ToolCalls, *ev.ToolCall)
				}
			case EventDone:
				result.StopReason = ev.StopReason
				if ev.Usage != nil {
					result.Usage = *ev.Usage
				}
				return result, nil
			case EventError:
				if ev.Err != nil {
					return nil, ev.Err
				}
				return nil, fmt.Errorf("stream terminated with unspecified error")
			}
		}
	}
}
