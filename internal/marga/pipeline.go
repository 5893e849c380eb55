package marga

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/chitragupta/internal/cost"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// Decision is the pipeline's routing output for one request.
type Decision struct {
	SkipLLM      bool            `json:"skip_llm"`
	Tier         Tier            `json:"tier"`
	ModelID      string          `json:"model_id,omitempty"`
	Arm          int             `json:"arm"`
	CostEstimate float64         `json:"cost_estimate"`
	Rationale    string          `json:"rationale"`
	Class        Classification  `json:"class"`
	Score        ComplexityScore `json:"score"`
	Context      []float64       `json:"context,omitempty"`
}

// PipelineConfig wires the routing pipeline.
type PipelineConfig struct {
	// TierModels maps each LLM tier to a model id.
	TierModels map[Tier]string
	// LocalTierModels overrides TierModels under LocalFirst preference for
	// the tiers it names.
	LocalTierModels map[Tier]string
	Preference      Preference
	Alpha           float64
	// EstimatedOutputTokens sizes the cost estimate's output leg.
	EstimatedOutputTokens int64
}

// DefaultPipelineConfig returns a cloud-first configuration over the
// standard Anthropic tiers.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TierModels: map[Tier]string{
			TierHaiku:  "claude-haiku",
			TierSonnet: "claude-sonnet",
			TierOpus:   "claude-opus",
		},
		Preference:            CloudFirst,
		Alpha:                 DefaultAlpha,
		EstimatedOutputTokens: 500,
	}
}

func (c *PipelineConfig) sanitize() {
	if len(c.TierModels) == 0 {
		c.TierModels = DefaultPipelineConfig().TierModels
	}
	if c.Preference == "" {
		c.Preference = CloudFirst
	}
	if c.Alpha <= 0 {
		c.Alpha = DefaultAlpha
	}
	if c.EstimatedOutputTokens <= 0 {
		c.EstimatedOutputTokens = 500
	}
}

// Pipeline routes requests through classify, score, bind, and bandit refine.
type Pipeline struct {
	config   PipelineConfig
	bindings Bindings
	bandit   *Turiya
	tracker  *cost.Tracker
	logger   *observability.Logger
}

// NewPipeline builds a pipeline. Tracker may be nil, disabling cost
// estimates.
func NewPipeline(config PipelineConfig, tracker *cost.Tracker, logger *observability.Logger) *Pipeline {
	config.sanitize()
	return &Pipeline{
		config:   config,
		bindings: DefaultBindings(),
		bandit:   NewTuriya(NumTiers, config.Alpha),
		tracker:  tracker,
		logger:   logger.Named("marga"),
	}
}

// Bandit exposes the underlying LinUCB state for persistence.
func (p *Pipeline) Bandit() *Turiya {
	return p.bandit
}

// RestoreBandit replaces the bandit, typically from persisted state.
func (p *Pipeline) RestoreBandit(b *Turiya) {
	if b != nil {
		p.bandit = b
	}
}

// Route classifies the request and picks the cheapest adequate model. The
// static binding is a floor; the bandit may escalate above it but never
// routes below.
func (p *Pipeline) Route(ctx context.Context, history []models.Message) *Decision {
	class := Classify(history)
	score := ScoreComplexity(history)

	if class.Resolution == ResolutionSkipLLM {
		d := &Decision{
			SkipLLM:   true,
			Tier:      TierNoLLM,
			Class:     class,
			Score:     score,
			Rationale: fmt.Sprintf("%s resolves without a model", class.Type),
		}
		p.logger.Debug(ctx, "routed request", "task", string(class.Type), "tier", d.Tier.String())
		return d
	}

	floor := p.bindings.BaseTier(class, score)
	if floor < TierHaiku {
		floor = TierHaiku
	}
	x := contextVector(class, score, history)
	arm, _ := p.bandit.Select(x, int(floor))
	tier := Tier(arm)

	d := &Decision{
		Tier:    tier,
		ModelID: p.modelFor(tier),
		Arm:     arm,
		Class:   class,
		Score:   score,
		Context: x,
		Rationale: fmt.Sprintf("%s/%s floor %s, routed %s",
			class.Type, score.Level, floor, tier),
	}
	d.CostEstimate = p.estimateCost(history, d.ModelID)

	p.logger.Debug(ctx, "routed request",
		"task", string(class.Type),
		"complexity", score.Level.String(),
		"tier", tier.String(),
		"model", d.ModelID,
	)
	return d
}

// ReportReward feeds a completed turn's reward back into the bandit.
// Reward outside [0, 1] is clamped. Skip-LLM decisions are ignored.
func (p *Pipeline) ReportReward(d *Decision, reward float64) {
	if d == nil || d.SkipLLM || len(d.Context) != ContextDim {
		return
	}
	p.bandit.Update(d.Arm, d.Context, reward)
}

func (p *Pipeline) modelFor(tier Tier) string {
	if p.config.Preference == LocalFirst {
		if id, ok := p.config.LocalTierModels[tier]; ok {
			return id
		}
	}
	return p.config.TierModels[tier]
}

func (p *Pipeline) estimateCost(history []models.Message, modelID string) float64 {
	if p.tracker == nil {
		return 0
	}
	model, ok := p.tracker.Lookup(modelID)
	if !ok {
		return 0
	}
	usage := &models.Usage{
		InputTokens:  int64(cost.EstimateHistoryTokens(history)),
		OutputTokens: p.config.EstimatedOutputTokens,
	}
	return cost.Calculate(usage, model)
}

var (
	urgencyCues    = []string{"urgent", "asap", "immediately", "right now", "quickly", "deadline", "hotfix"}
	creativityCues = []string{"brainstorm", "design", "draft", "imagine", "ideas", "creative", "story"}
	precisionCues  = []string{"exact", "precise", "verify", "prove", "deterministic", "correct", "spec"}
)

// contextVector builds the 7-dim routing context: complexity, urgency,
// creativity, precision, code ratio, conversation depth, memory load.
// All components are scaled into [0, 1].
func contextVector(class Classification, score ComplexityScore, history []models.Message) []float64 {
	text := strings.ToLower(lastUserText(history))
	tokens := float64(cost.EstimateHistoryTokens(history))
	x := make([]float64, ContextDim)
	x[0] = float64(score.Level) / float64(Expert)
	x[1] = cueWeight(text, urgencyCues)
	x[2] = cueWeight(text, creativityCues)
	x[3] = cueWeight(text, precisionCues)
	x[4] = codeRatio(text)
	x[5] = clamp01(float64(len(history)) / 20)
	x[6] = clamp01(tokens / 8000)
	return x
}

// cueWeight scores 0.5 per matched cue, capped at 1.
func cueWeight(text string, cues []string) float64 {
	var hits int
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			hits++
		}
	}
	return clamp01(float64(hits) * 0.5)
}

// codeRatio is the share of the text inside fenced code blocks.
func codeRatio(text string) float64 {
	if text == "" {
		return 0
	}
	parts := strings.Split(text, "```")
	var code int
	for i := 1; i < len(parts); i += 2 {
		code += len(parts[i])
	}
	return clamp01(float64(code) / float64(len(text)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
