package tools

import (
	"context"
	"encoding/json"
)

// Effect is a policy verdict.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
	EffectAsk   Effect = "ask"
)

// Decision is the policy engine's answer for one tool call.
type Decision struct {
	Effect Effect `json:"effect"`
	Reason string `json:"reason,omitempty"`
}

// PolicyEngine gates tool execution.
type PolicyEngine interface {
	Check(ctx context.Context, tool string, args json.RawMessage, tctx ToolContext) Decision
}

// Approver resolves ask decisions out of band. Approve blocks until the
// collaborator answers or ctx expires.
type Approver interface {
	Approve(ctx context.Context, tool string, args json.RawMessage, reason string) (bool, error)
}

// StaticPolicy is a rule-list policy engine. Rules are checked in order;
// the first tool-name match wins, otherwise Default applies.
type StaticPolicy struct {
	Rules   []PolicyRule
	Default Effect
}

// PolicyRule binds a tool name to an effect.
type PolicyRule struct {
	Tool   string `json:"tool" yaml:"tool"`
	Effect Effect `json:"effect" yaml:"effect"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// AllowAll permits everything. Useful for tests and trusted setups.
func AllowAll() *StaticPolicy {
	return &StaticPolicy{Default: EffectAllow}
}

func (p *StaticPolicy) Check(_ context.Context, tool string, _ json.RawMessage, _ ToolContext) Decision {
	for _, rule := range p.Rules {
		if rule.Tool == tool {
			return Decision{Effect: rule.Effect, Reason: rule.Reason}
		}
	}
	def := p.Default
	if def == "" {
		def = EffectAsk
	}
	return Decision{Effect: def}
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, tool string, args json.RawMessage, reason string) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, tool string, args json.RawMessage, reason string) (bool, error) {
	return f(ctx, tool, args, reason)
}
