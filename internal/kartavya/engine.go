package kartavya

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/ids"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/storage"
)

const (
	// MaxActive caps active duties across the engine.
	MaxActive = 100
	// MaxExecutionsPerHour caps fires per duty per rolling hour.
	MaxExecutionsPerHour = 60
	// MinCooldown is the floor every trigger cooldown clamps up to.
	MinCooldown = 10 * time.Second
	// executionLogSize bounds each duty's execution log.
	executionLogSize = 20
)

// EngineConfig tunes the promotion thresholds.
type EngineConfig struct {
	// MinConfidenceForProposal gates proposeNiyama.
	MinConfidenceForProposal float64
	// MinConfidenceForAutoApprove activates proposals without review.
	MinConfidenceForAutoApprove float64
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinConfidenceForProposal:    0.7,
		MinConfidenceForAutoApprove: 0.95,
	}
}

func (c *EngineConfig) sanitize() {
	if c.MinConfidenceForProposal <= 0 {
		c.MinConfidenceForProposal = 0.7
	}
	if c.MinConfidenceForAutoApprove <= c.MinConfidenceForProposal {
		c.MinConfidenceForAutoApprove = 0.95
	}
}

// TriggerContext is one evaluation snapshot.
type TriggerContext struct {
	Now time.Time
	// Events observed since the last evaluation.
	Events map[string]bool
	// Metrics are current gauge readings by name.
	Metrics map[string]float64
	// Patterns are observed strings for pattern triggers.
	Patterns []string
}

const ddl = `
CREATE TABLE IF NOT EXISTS kartavyas (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Engine owns the duty lifecycle and trigger evaluation.
type Engine struct {
	mu       sync.Mutex
	config   EngineConfig
	items    map[string]*Kartavya
	fires    map[string][]time.Time // rolling per-duty fire times
	patterns map[string]*regexp.Regexp
	parser   cron.Parser

	db      storage.Database
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewEngine builds an engine. A nil db keeps everything in memory;
// otherwise the table is created and persisted duties are loaded.
func NewEngine(config EngineConfig, db storage.Database, clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics) (*Engine, error) {
	config.sanitize()
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	e := &Engine{
		config:   config,
		items:    make(map[string]*Kartavya),
		fires:    make(map[string][]time.Time),
		patterns: make(map[string]*regexp.Regexp),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		db:       db,
		clock:    clock,
		logger:   logger.Named("kartavya"),
		metrics:  metrics,
	}
	if db != nil {
		if err := e.load(context.Background()); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	if err := e.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("kartavya ddl: %w", err)
	}
	rows, err := e.db.All(ctx, `SELECT data FROM kartavyas`)
	if err != nil {
		return fmt.Errorf("load kartavyas: %w", err)
	}
	for _, row := range rows {
		var k Kartavya
		if err := json.Unmarshal([]byte(row.AsString("data")), &k); err != nil {
			e.logger.Warn(ctx, "skipping corrupt kartavya row", "error", err)
			continue
		}
		e.items[k.ID] = &k
	}
	return nil
}

func (e *Engine) persistLocked(ctx context.Context, k *Kartavya) {
	if e.db == nil {
		return
	}
	data, err := json.Marshal(k)
	if err != nil {
		e.logger.Error(ctx, "kartavya marshal failed", "id", k.ID, "error", err)
		return
	}
	_, err = e.db.Run(ctx,
		`INSERT INTO kartavyas (id, status, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, data=excluded.data, updated_at=excluded.updated_at`,
		k.ID, string(k.Status), string(data), e.clock.Now().UTC().Format(time.RFC3339))
	if err != nil {
		e.logger.Error(ctx, "kartavya persist failed", "id", k.ID, "error", err)
	}
}

// ProposeNiyama creates a proposed duty from an observed vasana. The
// confidence must clear the proposal threshold; clearing the auto-approve
// threshold activates it immediately.
func (e *Engine) ProposeNiyama(ctx context.Context, vasanaID, name, description string, trigger Trigger, action Action, evidence []string, confidence float64) (*Kartavya, error) {
	if confidence < e.config.MinConfidenceForProposal {
		return nil, fmt.Errorf("confidence %.2f below proposal threshold %.2f", confidence, e.config.MinConfidenceForProposal)
	}
	if err := e.validateTrigger(trigger); err != nil {
		return nil, err
	}
	if err := validateAction(action); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	id := ids.New("kar", fmt.Sprintf("%s|%s|%d", vasanaID, name, now.UnixMilli()))
	for salt := 1; ; salt++ {
		if _, exists := e.items[id]; !exists {
			break
		}
		id = ids.New("kar", fmt.Sprintf("%s|%s|%d|%d", vasanaID, name, now.UnixMilli(), salt))
	}
	k := &Kartavya{
		ID:          id,
		Name:        name,
		Description: description,
		Status:      StatusProposed,
		Trigger:     trigger,
		Action:      action,
		Confidence:  confidence,
		VasanaID:    vasanaID,
		Evidence:    append([]string(nil), evidence...),
		CreatedAt:   now,
	}
	if confidence >= e.config.MinConfidenceForAutoApprove {
		if err := e.activateLocked(k); err != nil {
			return nil, err
		}
	}
	e.items[k.ID] = k
	e.persistLocked(ctx, k)
	e.logger.Info(ctx, "niyama proposed", "id", k.ID, "name", name, "status", k.Status)
	return k.clone(), nil
}

// ApproveNiyama activates a proposed duty.
func (e *Engine) ApproveNiyama(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.items[id]
	if !ok {
		return fmt.Errorf("kartavya %s: %w", id, storage.ErrNotFound)
	}
	if k.Status != StatusProposed {
		return fmt.Errorf("kartavya %s is %s, not proposed", id, k.Status)
	}
	if err := e.activateLocked(k); err != nil {
		return err
	}
	e.persistLocked(ctx, k)
	return nil
}

func (e *Engine) activateLocked(k *Kartavya) error {
	active := 0
	for _, item := range e.items {
		if item.Status == StatusActive {
			active++
		}
	}
	if active >= MaxActive {
		return fmt.Errorf("active kartavya ceiling %d reached", MaxActive)
	}
	k.Status = StatusActive
	return nil
}

// Pause suspends an active duty.
func (e *Engine) Pause(ctx context.Context, id string) error {
	return e.transition(ctx, id, StatusPaused, StatusActive)
}

// Resume reactivates a paused duty.
func (e *Engine) Resume(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.items[id]
	if !ok {
		return fmt.Errorf("kartavya %s: %w", id, storage.ErrNotFound)
	}
	if k.Status != StatusPaused {
		return fmt.Errorf("kartavya %s is %s, not paused", id, k.Status)
	}
	if err := e.activateLocked(k); err != nil {
		return err
	}
	e.persistLocked(ctx, k)
	return nil
}

// Retire permanently removes a duty from rotation.
func (e *Engine) Retire(ctx context.Context, id string) error {
	return e.transition(ctx, id, StatusRetired, StatusProposed, StatusActive, StatusPaused, StatusFailed)
}

// Complete marks a duty finished.
func (e *Engine) Complete(ctx context.Context, id string) error {
	return e.transition(ctx, id, StatusCompleted, StatusActive, StatusPaused)
}

// Fail marks a duty broken.
func (e *Engine) Fail(ctx context.Context, id string) error {
	return e.transition(ctx, id, StatusFailed, StatusActive, StatusPaused)
}

func (e *Engine) transition(ctx context.Context, id string, to Status, from ...Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.items[id]
	if !ok {
		return fmt.Errorf("kartavya %s: %w", id, storage.ErrNotFound)
	}
	allowed := false
	for _, s := range from {
		if k.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("kartavya %s cannot move %s -> %s", id, k.Status, to)
	}
	k.Status = to
	e.persistLocked(ctx, k)
	return nil
}

// Get returns a duty snapshot.
func (e *Engine) Get(id string) (*Kartavya, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.items[id]
	if !ok {
		return nil, fmt.Errorf("kartavya %s: %w", id, storage.ErrNotFound)
	}
	return k.clone(), nil
}

// List returns duties, optionally filtered by status.
func (e *Engine) List(status Status) []*Kartavya {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Kartavya
	for _, k := range e.items {
		if status == "" || k.Status == status {
			out = append(out, k.clone())
		}
	}
	return out
}

// EvaluateTriggers checks every active duty against the context and
// returns those that fire after cooldown and rate gating.
func (e *Engine) EvaluateTriggers(ctx context.Context, tctx TriggerContext) []*Kartavya {
	if tctx.Now.IsZero() {
		tctx.Now = e.clock.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var fired []*Kartavya
	for _, k := range e.items {
		if k.Status != StatusActive {
			continue
		}
		matched, err := e.triggerMatchesLocked(k.Trigger, tctx)
		if err != nil {
			e.logger.Warn(ctx, "trigger evaluation failed", "id", k.ID, "error", err)
			continue
		}
		if !matched {
			continue
		}
		if !e.gateLocked(k, tctx.Now) {
			e.countFire(k.Trigger.Type, "gated")
			continue
		}
		k.LastFired = tctx.Now
		k.FireCount++
		e.fires[k.ID] = append(e.fires[k.ID], tctx.Now)
		e.countFire(k.Trigger.Type, "fired")
		e.persistLocked(ctx, k)
		fired = append(fired, k.clone())
	}
	return fired
}

// gateLocked enforces the cooldown and the hourly rate cap.
func (e *Engine) gateLocked(k *Kartavya, now time.Time) bool {
	cooldown := time.Duration(k.Trigger.CooldownMs) * time.Millisecond
	if cooldown < MinCooldown {
		cooldown = MinCooldown
	}
	if !k.LastFired.IsZero() && now.Sub(k.LastFired) < cooldown {
		return false
	}

	cutoff := now.Add(-time.Hour)
	recent := e.fires[k.ID][:0]
	for _, t := range e.fires[k.ID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	e.fires[k.ID] = recent
	return len(recent) < MaxExecutionsPerHour
}

func (e *Engine) triggerMatchesLocked(trigger Trigger, tctx TriggerContext) (bool, error) {
	switch trigger.Type {
	case TriggerCron:
		sched, err := e.parser.Parse(trigger.Expression)
		if err != nil {
			return false, fmt.Errorf("cron %q: %w", trigger.Expression, err)
		}
		minute := tctx.Now.Truncate(time.Minute)
		return sched.Next(minute.Add(-time.Second)).Equal(minute), nil
	case TriggerEvent:
		return tctx.Events[trigger.Event], nil
	case TriggerThreshold:
		value, ok := tctx.Metrics[trigger.Metric]
		if !ok {
			return false, nil
		}
		return compare(value, trigger.Op, trigger.Value)
	case TriggerPattern:
		re, err := e.compiledLocked(trigger.Pattern)
		if err != nil {
			return false, err
		}
		for _, s := range tctx.Patterns {
			if re.MatchString(s) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown trigger type %q", trigger.Type)
	}
}

func (e *Engine) compiledLocked(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.patterns[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	e.patterns[pattern] = re
	return re, nil
}

func compare(value float64, op string, target float64) (bool, error) {
	switch op {
	case "<":
		return value < target, nil
	case "<=":
		return value <= target, nil
	case ">":
		return value > target, nil
	case ">=":
		return value >= target, nil
	case "==":
		return value == target, nil
	default:
		return false, fmt.Errorf("unknown threshold op %q", op)
	}
}

// recordExecution appends a dispatch outcome to the duty's log.
func (e *Engine) recordExecution(ctx context.Context, id string, success bool, note string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.items[id]
	if !ok {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	if note != "" {
		outcome = outcome + ": " + note
	}
	k.Executions = append(k.Executions, Execution{Timestamp: e.clock.Now(), Outcome: outcome})
	if len(k.Executions) > executionLogSize {
		k.Executions = k.Executions[len(k.Executions)-executionLogSize:]
	}
	e.persistLocked(ctx, k)
}

func (e *Engine) countFire(trigger TriggerType, status string) {
	if e.metrics != nil {
		e.metrics.KartavyaFireCounter.WithLabelValues(string(trigger), status).Inc()
	}
}

func (e *Engine) validateTrigger(trigger Trigger) error {
	switch trigger.Type {
	case TriggerCron:
		if _, err := e.parser.Parse(trigger.Expression); err != nil {
			return fmt.Errorf("cron %q: %w", trigger.Expression, err)
		}
	case TriggerEvent:
		if trigger.Event == "" {
			return fmt.Errorf("event trigger needs an event name")
		}
	case TriggerThreshold:
		if trigger.Metric == "" {
			return fmt.Errorf("threshold trigger needs a metric")
		}
		if _, err := compare(0, trigger.Op, 0); err != nil {
			return err
		}
	case TriggerPattern:
		if _, err := regexp.Compile(trigger.Pattern); err != nil {
			return fmt.Errorf("pattern %q: %w", trigger.Pattern, err)
		}
	default:
		return fmt.Errorf("unknown trigger type %q", trigger.Type)
	}
	return nil
}

func validateAction(action Action) error {
	switch action.Type {
	case ActionNotification:
		if action.Message == "" {
			return fmt.Errorf("notification action needs a message")
		}
	case ActionCommand:
		if action.Command == "" {
			return fmt.Errorf("command action needs a command")
		}
	case ActionToolSequence:
		if len(action.Steps) == 0 {
			return fmt.Errorf("tool_sequence action needs steps")
		}
	case ActionVidhi:
		if action.Procedure == "" {
			return fmt.Errorf("vidhi action needs a procedure name")
		}
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
	return nil
}
