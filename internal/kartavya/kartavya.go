// Package kartavya runs the autonomous-duty pipeline: observed tendencies
// (vasanas) become proposals (niyamas) become active duties (kartavyas)
// that fire on triggers and dispatch gated actions.
package kartavya

import (
	"encoding/json"
	"time"
)

// Status is a duty's lifecycle state.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusRetired   Status = "retired"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TriggerType selects how a duty fires.
type TriggerType string

const (
	TriggerCron      TriggerType = "cron"
	TriggerEvent     TriggerType = "event"
	TriggerThreshold TriggerType = "threshold"
	TriggerPattern   TriggerType = "pattern"
)

// Trigger describes when a duty fires. Only the fields of its type are
// read.
type Trigger struct {
	Type TriggerType `json:"type"`
	// Expression is a 5-field cron spec (minute resolution).
	Expression string `json:"expression,omitempty"`
	// Event names the event that fires an event trigger.
	Event string `json:"event,omitempty"`
	// Metric, Op and Value form a threshold comparison; Op is one of
	// <, <=, >, >=, ==.
	Metric string  `json:"metric,omitempty"`
	Op     string  `json:"op,omitempty"`
	Value  float64 `json:"value,omitempty"`
	// Pattern is a regular expression matched against observed strings.
	Pattern string `json:"pattern,omitempty"`
	// CooldownMs spaces fires; it clamps up to the engine minimum.
	CooldownMs int64 `json:"cooldown_ms,omitempty"`
}

// ActionType selects what a fire does.
type ActionType string

const (
	ActionToolSequence ActionType = "tool_sequence"
	ActionVidhi        ActionType = "vidhi"
	ActionCommand      ActionType = "command"
	ActionNotification ActionType = "notification"
)

// ToolStep is one tool invocation in a sequence or procedure.
type ToolStep struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Action describes what a duty does when it fires.
type Action struct {
	Type ActionType `json:"type"`
	// Command is the shell line for command actions.
	Command string `json:"command,omitempty"`
	// Channel and Message configure notification actions.
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
	// Steps drive tool_sequence actions.
	Steps []ToolStep `json:"steps,omitempty"`
	// Procedure names the stored procedure for vidhi actions.
	Procedure string `json:"procedure,omitempty"`
}

// Execution is one logged fire outcome.
type Execution struct {
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
}

// Kartavya is one autonomous duty.
type Kartavya struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      Status      `json:"status"`
	Trigger     Trigger     `json:"trigger"`
	Action      Action      `json:"action"`
	Confidence  float64     `json:"confidence"`
	VasanaID    string      `json:"vasana_id"`
	Evidence    []string    `json:"evidence,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	LastFired   time.Time   `json:"last_fired,omitempty"`
	FireCount   int         `json:"fire_count"`
	Executions  []Execution `json:"executions,omitempty"`
}

func (k *Kartavya) clone() *Kartavya {
	out := *k
	out.Evidence = append([]string(nil), k.Evidence...)
	out.Executions = append([]Execution(nil), k.Executions...)
	out.Action.Steps = append([]ToolStep(nil), k.Action.Steps...)
	return &out
}
