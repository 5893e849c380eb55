// Package models defines the shared types exchanged between the runtime's
// subsystems: messages, content parts, tool calls, sessions, and usage.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType discriminates the content part variants.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// ContentPart is one element of a message's ordered content list.
// Exactly one of Text, ToolCall, or ToolResult is populated, matching Type.
type ContentPart struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ToolCallPart builds a tool_call content part.
func ToolCallPart(call ToolCall) ContentPart {
	c := call
	return ContentPart{Type: PartToolCall, ToolCall: &c}
}

// ToolResultPart builds a tool_result content part.
func ToolResultPart(result ToolResult) ContentPart {
	r := result
	return ContentPart{Type: PartToolResult, ToolResult: &r}
}

// Message is a single role-tagged turn in a conversation. Assistant turns
// may mix text and tool_call parts; tool turns carry tool_result parts.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// UserMessage builds a user turn with a single text part.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// AssistantMessage builds an assistant turn with a single text part.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{TextPart(text)}}
}

// Text concatenates all text parts of the message.
func (m *Message) Text() string {
	out := ""
	for _, part := range m.Content {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// ToolCalls returns all tool_call parts of the message in order.
func (m *Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, part := range m.Content {
		if part.Type == PartToolCall && part.ToolCall != nil {
			calls = append(calls, *part.ToolCall)
		}
	}
	return calls
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// StopReason indicates why a provider stream completed.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopAborted   StopReason = "aborted"
)

// Usage carries token counts for a single provider call.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}

// Total returns the total token count.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// Add adds another usage record to this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// Severity classifies a channel message.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Turn is one entry of a session's append-only log.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Agent     string    `json:"agent,omitempty"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is an opaque append-only conversation log owned by the session
// store. The runtime reads and appends; it never rewrites history.
type Session struct {
	ID        string         `json:"id"`
	Project   string         `json:"project"`
	Branch    string         `json:"branch,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Turns     []Turn         `json:"turns"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
