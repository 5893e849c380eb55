package marga

// Tier is a coarse cost/capability bucket, ordered cheapest first.
type Tier int

const (
	TierNoLLM Tier = iota
	TierHaiku
	TierSonnet
	TierOpus
)

var tierNames = [...]string{"no-llm", "haiku", "sonnet", "opus"}

func (t Tier) String() string {
	if t < TierNoLLM || t > TierOpus {
		return "unknown"
	}
	return tierNames[t]
}

// NumTiers is the number of routable tiers, and the bandit's arm count.
const NumTiers = 4

// Preference biases tier selection toward local or hosted models.
type Preference string

const (
	LocalFirst Preference = "local-first"
	CloudFirst Preference = "cloud-first"
)

// Bindings maps (task type, complexity) to the cheapest adequate tier.
type Bindings map[TaskType][5]Tier

// DefaultBindings returns the static routing table. Rows are indexed by
// Complexity (trivial through expert).
func DefaultBindings() Bindings {
	return Bindings{
		TaskChat:       {TierHaiku, TierHaiku, TierSonnet, TierSonnet, TierOpus},
		TaskCodeGen:    {TierHaiku, TierSonnet, TierSonnet, TierOpus, TierOpus},
		TaskReasoning:  {TierSonnet, TierSonnet, TierSonnet, TierOpus, TierOpus},
		TaskSearch:     {TierHaiku, TierHaiku, TierHaiku, TierSonnet, TierSonnet},
		TaskEmbedding:  {TierNoLLM, TierNoLLM, TierNoLLM, TierNoLLM, TierNoLLM},
		TaskVision:     {TierSonnet, TierSonnet, TierSonnet, TierOpus, TierOpus},
		TaskToolExec:   {TierHaiku, TierHaiku, TierSonnet, TierSonnet, TierOpus},
		TaskHeartbeat:  {TierNoLLM, TierNoLLM, TierNoLLM, TierNoLLM, TierNoLLM},
		TaskSmalltalk:  {TierHaiku, TierHaiku, TierHaiku, TierHaiku, TierHaiku},
		TaskSummarize:  {TierHaiku, TierHaiku, TierSonnet, TierSonnet, TierSonnet},
		TaskTranslate:  {TierHaiku, TierHaiku, TierHaiku, TierSonnet, TierSonnet},
		TaskMemory:     {TierHaiku, TierHaiku, TierHaiku, TierSonnet, TierSonnet},
		TaskFileOp:     {TierHaiku, TierHaiku, TierSonnet, TierSonnet, TierSonnet},
		TaskAPICall:    {TierHaiku, TierHaiku, TierSonnet, TierSonnet, TierSonnet},
		TaskCompaction: {TierNoLLM, TierNoLLM, TierNoLLM, TierNoLLM, TierNoLLM},
	}
}

// BaseTier resolves the binding table for one classification. Unknown task
// types fall back to sonnet so routing never under-serves.
func (b Bindings) BaseTier(class Classification, score ComplexityScore) Tier {
	if class.Resolution == ResolutionSkipLLM {
		return TierNoLLM
	}
	row, ok := b[class.Type]
	if !ok {
		return TierSonnet
	}
	level := score.Level
	if level < Trivial {
		level = Trivial
	}
	if level > Expert {
		level = Expert
	}
	return row[level]
}
