// Package cost provides per-call pricing, aggregate cost tracking, and
// context-window fit checks.
package cost

import (
	"sync"

	"github.com/haasonsaas/chitragupta/pkg/models"
)

// Pricing is per-million-token pricing in USD for one model.
type Pricing struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cache_read" yaml:"cache_read"`
	CacheWrite float64 `json:"cache_write" yaml:"cache_write"`
}

// ModelInfo describes a routable model.
type ModelInfo struct {
	ID            string  `json:"id" yaml:"id"`
	Provider      string  `json:"provider" yaml:"provider"`
	ContextWindow int     `json:"context_window" yaml:"context_window"`
	Pricing       Pricing `json:"pricing" yaml:"pricing"`
}

// Calculate computes the USD cost of a call against a model's pricing.
func Calculate(usage *models.Usage, model *ModelInfo) float64 {
	if usage == nil || model == nil {
		return 0
	}
	p := model.Pricing
	total := float64(usage.InputTokens)*p.Input +
		float64(usage.OutputTokens)*p.Output +
		float64(usage.CacheReadTokens)*p.CacheRead +
		float64(usage.CacheWriteTokens)*p.CacheWrite
	return total / 1_000_000
}

// ModelTotals aggregates usage and cost for one model.
type ModelTotals struct {
	Usage models.Usage `json:"usage"`
	Cost  float64      `json:"cost"`
	Calls int          `json:"calls"`
}

// Tracker aggregates cost per model and in total.
type Tracker struct {
	mu      sync.RWMutex
	models  map[string]*ModelTotals
	total   float64
	catalog map[string]*ModelInfo
}

// NewTracker creates a tracker over a model catalog.
func NewTracker(catalog []ModelInfo) *Tracker {
	byID := make(map[string]*ModelInfo, len(catalog))
	for i := range catalog {
		byID[catalog[i].ID] = &catalog[i]
	}
	return &Tracker{
		models:  make(map[string]*ModelTotals),
		catalog: byID,
	}
}

// Lookup returns catalog info for a model id.
func (t *Tracker) Lookup(modelID string) (*ModelInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.catalog[modelID]
	return m, ok
}

// Record adds one call's usage for a model and returns its cost.
func (t *Tracker) Record(modelID string, usage *models.Usage) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	cost := Calculate(usage, t.catalog[modelID])
	totals := t.models[modelID]
	if totals == nil {
		totals = &ModelTotals{}
		t.models[modelID] = totals
	}
	totals.Usage.Add(usage)
	totals.Cost += cost
	totals.Calls++
	t.total += cost
	return cost
}

// Totals returns a copy of per-model totals.
func (t *Tracker) Totals() map[string]ModelTotals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]ModelTotals, len(t.models))
	for id, totals := range t.models {
		out[id] = *totals
	}
	return out
}

// Total returns the cumulative USD cost across all models.
func (t *Tracker) Total() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}
