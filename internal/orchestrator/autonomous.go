package orchestrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/observability"
)

const (
	// banMinTasks is the observation floor before a strategy can be banned.
	banMinTasks = 10
	// banFailureRate trips a ban when exceeded.
	banFailureRate = 0.5
	// banDuration is how long a banned strategy sits out.
	banDuration = 5 * time.Minute
)

// AutonomousConfig tunes the self-selecting layer on top of the pool.
type AutonomousConfig struct {
	// Mode picks the bandit algorithm.
	Mode Mode
	// Seed fixes the Thompson sampler.
	Seed int64
	// StatePath, when set, receives serialized bandit state.
	StatePath string
	// SaveEvery persists state after this many tasks. 0 disables saving.
	SaveEvery int
	// CostBudget is the per-task cost ceiling used in the reward.
	CostBudget float64
}

func (c *AutonomousConfig) sanitize() {
	if c.Mode == "" {
		c.Mode = ModeUCB1
	}
	if c.SaveEvery < 0 {
		c.SaveEvery = 0
	}
	if c.CostBudget <= 0 {
		c.CostBudget = 1.0
	}
}

type strategyRecord struct {
	tasks       int
	failures    int
	bannedUntil time.Time
}

// Autonomous wraps an orchestrator with a strategy bandit, composite
// reward accounting, and failure-based strategy bans.
type Autonomous struct {
	mu      sync.Mutex
	config  AutonomousConfig
	pool    *Orchestrator
	bandit  *Bandit
	records map[string]*strategyRecord
	since   int // tasks since last save

	clock  clockwork.Clock
	logger *observability.Logger
}

// NewAutonomous wraps the pool. When StatePath holds previous state the
// bandit resumes from it.
func NewAutonomous(config AutonomousConfig, pool *Orchestrator, clock clockwork.Clock, logger *observability.Logger) *Autonomous {
	config.sanitize()
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	logger = logger.Named("autonomous")

	var bandit *Bandit
	if config.StatePath != "" {
		if data, err := os.ReadFile(config.StatePath); err == nil {
			if restored, err := DeserializeBandit(data, config.Seed); err == nil {
				restored.SetMode(config.Mode)
				bandit = restored
			} else {
				logger.Warn(context.Background(), "bandit state unreadable, starting fresh", "error", err)
			}
		}
	}
	if bandit == nil {
		bandit = NewBandit(config.Mode, StrategyNames, config.Seed)
	}

	return &Autonomous{
		config:  config,
		pool:    pool,
		bandit:  bandit,
		records: make(map[string]*strategyRecord),
		clock:   clock,
		logger:  logger,
	}
}

// Bandit exposes the underlying learner.
func (a *Autonomous) Bandit() *Bandit { return a.bandit }

// Execute runs a task under a bandit-selected strategy, then feeds the
// composite reward back. Banned strategies are excluded; when every
// strategy is banned the pool falls back to round-robin.
func (a *Autonomous) Execute(ctx context.Context, task Task) (*Result, error) {
	x := a.taskContext(task)
	strategy := a.pickStrategy(x)

	start := a.clock.Now()
	result, err := a.pool.ExecuteWith(ctx, strategy, task)
	elapsed := a.clock.Now().Sub(start)

	reward := a.compositeReward(task, err == nil, elapsed, 0)
	a.settle(strategy, reward, x, err == nil)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// pickStrategy asks the bandit over the non-banned arms; bans never touch
// learned arm state. A fully banned board degrades to round-robin.
func (a *Autonomous) pickStrategy(x []float64) string {
	a.mu.Lock()
	now := a.clock.Now()
	a.pruneBansLocked(now)
	banned := make(map[string]bool, len(a.records))
	for name, rec := range a.records {
		if now.Before(rec.bannedUntil) {
			banned[name] = true
		}
	}
	a.mu.Unlock()

	allowed := make([]string, 0, len(StrategyNames))
	for _, name := range StrategyNames {
		if !banned[name] {
			allowed = append(allowed, name)
		}
	}
	if len(allowed) == 0 {
		return StrategyRoundRobin
	}
	return a.bandit.SelectStrategyFrom(allowed, x)
}

func (a *Autonomous) settle(strategy string, reward float64, x []float64, success bool) {
	a.bandit.RecordReward(strategy, reward, x)

	a.mu.Lock()
	rec := a.records[strategy]
	if rec == nil {
		rec = &strategyRecord{}
		a.records[strategy] = rec
	}
	rec.tasks++
	if !success {
		rec.failures++
	}
	if rec.tasks >= banMinTasks && float64(rec.failures)/float64(rec.tasks) > banFailureRate {
		rec.bannedUntil = a.clock.Now().Add(banDuration)
		rec.tasks = 0
		rec.failures = 0
		a.logger.Warn(context.Background(), "strategy banned", "strategy", strategy, "until", rec.bannedUntil)
	}
	a.since++
	shouldSave := a.config.SaveEvery > 0 && a.since >= a.config.SaveEvery
	if shouldSave {
		a.since = 0
	}
	a.mu.Unlock()

	if shouldSave {
		if err := a.Save(); err != nil {
			a.logger.Warn(context.Background(), "bandit state save failed", "error", err)
		}
	}
}

func (a *Autonomous) pruneBansLocked(now time.Time) {
	for _, rec := range a.records {
		if !rec.bannedUntil.IsZero() && !now.Before(rec.bannedUntil) {
			rec.bannedUntil = time.Time{}
		}
	}
}

// Banned lists strategies currently sitting out.
func (a *Autonomous) Banned() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	var out []string
	for _, name := range StrategyNames {
		if rec := a.records[name]; rec != nil && now.Before(rec.bannedUntil) {
			out = append(out, name)
		}
	}
	return out
}

// Save persists bandit state to StatePath.
func (a *Autonomous) Save() error {
	if a.config.StatePath == "" {
		return errors.New("no state path configured")
	}
	data, err := a.bandit.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(a.config.StatePath, data, 0o600)
}

// compositeReward blends success, speed against the expectation, and cost
// against the budget at 0.5/0.3/0.2.
func (a *Autonomous) compositeReward(task Task, success bool, elapsed time.Duration, cost float64) float64 {
	successTerm := 0.0
	if success {
		successTerm = 1.0
	}

	speedTerm := 1.0
	if task.ExpectedDuration > 0 {
		ratio := float64(elapsed) / float64(task.ExpectedDuration)
		speedTerm = 1 - ratio
		if speedTerm < 0 {
			speedTerm = 0
		}
	}

	costTerm := 1.0
	if cost > 0 {
		ratio := cost / a.config.CostBudget
		costTerm = 1 - ratio
		if costTerm < 0 {
			costTerm = 0
		}
	}

	return 0.5*successTerm + 0.3*speedTerm + 0.2*costTerm
}

// taskContext builds the 6-dim bandit context:
// [bias, taskComplexity, agentCount, memoryPressure, avgLatency, errorRate].
func (a *Autonomous) taskContext(task Task) []float64 {
	stats := a.pool.Stats()
	run, failed := 0, 0
	for _, s := range stats.Slots {
		run += s.Completed + s.Failed
		failed += s.Failed
	}
	errorRate := 0.0
	if run > 0 {
		errorRate = float64(failed) / float64(run)
	}

	active := float64(len(a.pool.ActiveAgents())) / float64(len(stats.Slots))
	if active > 1 {
		active = 1
	}

	return []float64{
		1,
		EstimateComplexity(task),
		active,
		0, // memory pressure unavailable without a runtime probe
		0, // latency folded into the reward instead
		errorRate,
	}
}

// complexityKeywords weight task descriptions toward known-heavy work.
var complexityKeywords = map[string]float64{
	"refactor": 0.8,
	"rewrite":  0.9,
	"migrate":  0.85,
	"test":     0.5,
}

// EstimateComplexity scores a task into [0, 1] from its description
// length, dependency count, priority, and heavy keywords.
func EstimateComplexity(task Task) float64 {
	score := float64(len(task.Description)) / 500.0
	if score > 0.4 {
		score = 0.4
	}
	score += 0.1 * float64(len(task.Dependencies))
	if task.Priority > 5 {
		score += 0.1
	}

	lower := strings.ToLower(task.Description)
	for keyword, weight := range complexityKeywords {
		if strings.Contains(lower, keyword) && weight > score {
			score = weight
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}
