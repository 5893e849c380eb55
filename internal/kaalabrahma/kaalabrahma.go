// Package kaalabrahma tracks agent liveness. Agents register and heartbeat;
// records decay alive -> stale -> dead as heartbeats age out.
package kaalabrahma

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/observability"
)

// Status is an agent's health state.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// Record is one agent's health entry.
type Record struct {
	AgentID       string    `json:"agent_id"`
	Status        Status    `json:"status"`
	Depth         int       `json:"depth"`
	ParentID      string    `json:"parent_id,omitempty"`
	Purpose       string    `json:"purpose,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	FirstSeen     time.Time `json:"first_seen"`
}

// TreeHealth is a point-in-time summary of the registry.
type TreeHealth struct {
	Total   int      `json:"total"`
	Alive   int      `json:"alive"`
	Stale   int      `json:"stale"`
	Dead    int      `json:"dead"`
	Records []Record `json:"records"`
}

// KillResult reports what KillAgent removed.
type KillResult struct {
	Freed int `json:"freed"`
}

// Listener fires on every status change.
type Listener func(agentID string, from, to Status)

// Config bounds the decay thresholds.
type Config struct {
	StaleAfter time.Duration
	DeadAfter  time.Duration
}

// DefaultConfig marks agents stale after 30s of silence and dead after 2m.
func DefaultConfig() Config {
	return Config{StaleAfter: 30 * time.Second, DeadAfter: 2 * time.Minute}
}

func (c *Config) sanitize() {
	def := DefaultConfig()
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.DeadAfter <= c.StaleAfter {
		c.DeadAfter = c.StaleAfter * 4
	}
}

// Registry is the process-wide health registry.
type Registry struct {
	mu        sync.Mutex
	config    Config
	clock     clockwork.Clock
	logger    *observability.Logger
	records   map[string]*Record
	listeners []Listener
}

// NewRegistry builds a registry. Clock may be nil for the system clock.
func NewRegistry(config Config, clock clockwork.Clock, logger *observability.Logger) *Registry {
	config.sanitize()
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	return &Registry{
		config:  config,
		clock:   clock,
		logger:  logger.Named("kaalabrahma"),
		records: make(map[string]*Record),
	}
}

// OnStatusChange registers a listener for status transitions.
func (r *Registry) OnStatusChange(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Register adds or refreshes an agent record as alive.
func (r *Registry) Register(agentID, parentID, purpose string, depth int) {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[agentID]
	if !ok {
		rec = &Record{
			AgentID:   agentID,
			ParentID:  parentID,
			Purpose:   purpose,
			Depth:     depth,
			FirstSeen: now,
		}
		r.records[agentID] = rec
	}
	rec.LastHeartbeat = now
	r.transitionLocked(rec, StatusAlive)
}

// Heartbeat refreshes an agent's heartbeat. Unknown agents are an error.
func (r *Registry) Heartbeat(agentID string) error {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[agentID]
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	rec.LastHeartbeat = now
	r.transitionLocked(rec, StatusAlive)
	return nil
}

// sweepLocked applies decay transitions based on heartbeat age.
func (r *Registry) sweepLocked() {
	now := r.clock.Now()
	for _, rec := range r.records {
		if rec.Status == StatusDead {
			continue
		}
		age := now.Sub(rec.LastHeartbeat)
		switch {
		case age > r.config.DeadAfter:
			r.transitionLocked(rec, StatusDead)
		case age > r.config.StaleAfter:
			r.transitionLocked(rec, StatusStale)
		}
	}
}

func (r *Registry) transitionLocked(rec *Record, to Status) {
	from := rec.Status
	if from == to {
		return
	}
	rec.Status = to
	r.logger.Debug(context.Background(), "agent status changed",
		"agent_id", rec.AgentID, "from", string(from), "to", string(to))
	for _, fn := range r.listeners {
		fn(rec.AgentID, from, to)
	}
}

// KillAgent marks an agent and all its registered descendants dead.
func (r *Registry) KillAgent(agentID string) (KillResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[agentID]; !ok {
		return KillResult{}, fmt.Errorf("unknown agent %q", agentID)
	}

	freed := 0
	var kill func(id string)
	kill = func(id string) {
		rec := r.records[id]
		if rec.Status != StatusDead {
			r.transitionLocked(rec, StatusDead)
			freed++
		}
		for _, child := range r.records {
			if child.ParentID == id {
				kill(child.AgentID)
			}
		}
	}
	kill(agentID)
	return KillResult{Freed: freed}, nil
}

// Heal revives an agent, refreshing its heartbeat.
func (r *Registry) Heal(agentID string) error {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[agentID]
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	rec.LastHeartbeat = now
	r.transitionLocked(rec, StatusAlive)
	return nil
}

// Status returns one agent's current status after decay.
func (r *Registry) Status(agentID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	rec, ok := r.records[agentID]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// TreeHealth sweeps and returns a snapshot sorted by depth then id.
func (r *Registry) TreeHealth() TreeHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	health := TreeHealth{Records: make([]Record, 0, len(r.records))}
	for _, rec := range r.records {
		health.Total++
		switch rec.Status {
		case StatusAlive:
			health.Alive++
		case StatusStale:
			health.Stale++
		case StatusDead:
			health.Dead++
		}
		health.Records = append(health.Records, *rec)
	}
	sort.Slice(health.Records, func(i, j int) bool {
		a, b := health.Records[i], health.Records[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		return a.AgentID < b.AgentID
	})
	return health
}

// Prune removes dead records and returns how many were dropped.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	removed := 0
	for id, rec := range r.records {
		if rec.Status == StatusDead {
			delete(r.records, id)
			removed++
		}
	}
	return removed
}
