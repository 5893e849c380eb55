// Package orchestrator distributes tasks over a slot-based pool of workers
// using pluggable strategies, and learns which strategy pays via a bandit.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/observability"
)

// Task is one unit of orchestrated work.
type Task struct {
	ID                   string        `json:"id"`
	Description          string        `json:"description"`
	RequiredCapabilities []string      `json:"required_capabilities,omitempty"`
	Priority             int           `json:"priority,omitempty"`
	Dependencies         []string      `json:"dependencies,omitempty"`
	Subtasks             []Task        `json:"subtasks,omitempty"`
	ExpectedDuration     time.Duration `json:"expected_duration,omitempty"`
}

// Result is one finished task.
type Result struct {
	TaskID   string        `json:"task_id"`
	SlotID   string        `json:"slot_id,omitempty"`
	Strategy string        `json:"strategy"`
	Output   string        `json:"output"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
}

// Worker executes tasks on behalf of a slot.
type Worker interface {
	Execute(ctx context.Context, task Task) (string, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, task Task) (string, error)

func (f WorkerFunc) Execute(ctx context.Context, task Task) (string, error) {
	return f(ctx, task)
}

// Slot is one pool position: a worker plus its load counters.
type Slot struct {
	ID           string
	Capabilities []string
	Worker       Worker

	mu        sync.Mutex
	queued    int
	running   int
	completed int
	failed    int
}

// Load returns queued plus running task count.
func (s *Slot) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued + s.running
}

func (s *Slot) enqueue() {
	s.mu.Lock()
	s.queued++
	s.mu.Unlock()
}

func (s *Slot) start() {
	s.mu.Lock()
	s.queued--
	s.running++
	s.mu.Unlock()
}

func (s *Slot) finish(success bool) {
	s.mu.Lock()
	s.running--
	if success {
		s.completed++
	} else {
		s.failed++
	}
	s.mu.Unlock()
}

// SlotStats is one slot's counters.
type SlotStats struct {
	ID        string `json:"id"`
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Stats summarizes the pool.
type Stats struct {
	Slots      []SlotStats    `json:"slots"`
	TasksRun   int            `json:"tasks_run"`
	TasksOK    int            `json:"tasks_ok"`
	ByStrategy map[string]int `json:"by_strategy"`
}

// Error wraps a task failure after the retry budget is spent.
type Error struct {
	TaskID   string
	Strategy string
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("task %s failed after %d attempts with strategy %s: %v",
		e.TaskID, e.Attempts, e.Strategy, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Config tunes the orchestrator.
type Config struct {
	// Strategy is the default strategy name.
	Strategy string
	// MaxRetries is the per-task retry budget past the first attempt.
	MaxRetries int
	// Racers bounds competitive and swarm fan-out.
	Racers int
	// Merger combines swarm sub-results. Nil concatenates.
	Merger Merger
}

// DefaultConfig runs least-loaded with two retries and three racers.
func DefaultConfig() Config {
	return Config{Strategy: StrategyLeastLoaded, MaxRetries: 2, Racers: 3}
}

func (c *Config) sanitize() {
	if c.Strategy == "" {
		c.Strategy = StrategyLeastLoaded
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Racers < 1 {
		c.Racers = 3
	}
	if c.Merger == nil {
		c.Merger = ConcatMerger{}
	}
}

// Orchestrator runs tasks over its slot pool.
type Orchestrator struct {
	mu       sync.Mutex
	config   Config
	slots    []*Slot
	rr       int
	tasksRun int
	tasksOK  int
	byStrat  map[string]int

	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates an orchestrator over the given slots.
func New(config Config, slots []*Slot, clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics) (*Orchestrator, error) {
	config.sanitize()
	if len(slots) == 0 {
		return nil, fmt.Errorf("orchestrator needs at least one slot")
	}
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	return &Orchestrator{
		config:  config,
		slots:   slots,
		byStrat: make(map[string]int),
		clock:   clock,
		logger:  logger.Named("orchestrator"),
		metrics: metrics,
	}, nil
}

// Execute runs one task with the configured default strategy.
func (o *Orchestrator) Execute(ctx context.Context, task Task) (*Result, error) {
	return o.ExecuteWith(ctx, o.config.Strategy, task)
}

// ExecuteWith runs one task under a named strategy, retrying within the
// budget. Exhausting the budget yields an *Error.
func (o *Orchestrator) ExecuteWith(ctx context.Context, strategy string, task Task) (*Result, error) {
	fn, ok := strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	o.mu.Lock()
	o.tasksRun++
	o.byStrat[strategy]++
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.StrategySelectionCounter.WithLabelValues(strategy).Inc()
	}

	start := o.clock.Now()
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		attempts++
		output, slotID, err := fn(ctx, o, task)
		if err == nil {
			o.mu.Lock()
			o.tasksOK++
			o.mu.Unlock()
			return &Result{
				TaskID:   task.ID,
				SlotID:   slotID,
				Strategy: strategy,
				Output:   output,
				Attempts: attempts,
				Duration: o.clock.Now().Sub(start),
			}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		o.logger.Warn(ctx, "task attempt failed",
			"task", task.ID, "strategy", strategy, "attempt", attempts, "error", err)
	}
	return nil, &Error{TaskID: task.ID, Strategy: strategy, Attempts: attempts, Cause: lastErr}
}

// Plan is an ordered set of interdependent tasks.
type Plan struct {
	Tasks []Task `json:"tasks"`
}

// ExecutePlan runs a plan's tasks in dependency order. Inputs seed the
// result map and satisfy dependencies on external names. A dependency
// cycle or missing dependency is an error.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan Plan, inputs map[string]string) (map[string]*Result, error) {
	results := make(map[string]*Result, len(plan.Tasks))
	done := make(map[string]bool, len(plan.Tasks)+len(inputs))
	for name := range inputs {
		done[name] = true
	}

	pending := make([]Task, len(plan.Tasks))
	copy(pending, plan.Tasks)
	for len(pending) > 0 {
		progressed := false
		var next []Task
		for _, task := range pending {
			if !depsMet(task, done) {
				next = append(next, task)
				continue
			}
			result, err := o.Execute(ctx, task)
			if err != nil {
				return results, err
			}
			results[task.ID] = result
			done[task.ID] = true
			progressed = true
		}
		if !progressed {
			return results, fmt.Errorf("plan has unsatisfiable dependencies among %d tasks", len(next))
		}
		pending = next
	}
	return results, nil
}

func depsMet(task Task, done map[string]bool) bool {
	for _, dep := range task.Dependencies {
		if !done[dep] {
			return false
		}
	}
	return true
}

// Stats snapshots pool counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	stats := Stats{
		TasksRun:   o.tasksRun,
		TasksOK:    o.tasksOK,
		ByStrategy: make(map[string]int, len(o.byStrat)),
	}
	for name, n := range o.byStrat {
		stats.ByStrategy[name] = n
	}
	for _, slot := range o.slots {
		slot.mu.Lock()
		stats.Slots = append(stats.Slots, SlotStats{
			ID:        slot.ID,
			Queued:    slot.queued,
			Running:   slot.running,
			Completed: slot.completed,
			Failed:    slot.failed,
		})
		slot.mu.Unlock()
	}
	return stats
}

// ActiveAgents returns ids of slots with work in flight.
func (o *Orchestrator) ActiveAgents() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, slot := range o.slots {
		if slot.Load() > 0 {
			out = append(out, slot.ID)
		}
	}
	return out
}

// runOn executes a task on one slot, maintaining its counters.
func runOn(ctx context.Context, slot *Slot, task Task) (string, error) {
	slot.enqueue()
	slot.start()
	output, err := slot.Worker.Execute(ctx, task)
	slot.finish(err == nil)
	return output, err
}
