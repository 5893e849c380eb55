package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Strategy names.
const (
	StrategyRoundRobin   = "round-robin"
	StrategyLeastLoaded  = "least-loaded"
	StrategySpecialized  = "specialized"
	StrategyHierarchical = "hierarchical"
	StrategyCompetitive  = "competitive"
	StrategySwarm        = "swarm"
)

// StrategyNames lists all strategies in bandit arm order.
var StrategyNames = []string{
	StrategyRoundRobin,
	StrategyLeastLoaded,
	StrategySpecialized,
	StrategyHierarchical,
	StrategyCompetitive,
	StrategySwarm,
}

// strategyFunc runs one task and reports the slot (or slots) used.
type strategyFunc func(ctx context.Context, o *Orchestrator, task Task) (output, slotID string, err error)

var strategies = map[string]strategyFunc{
	StrategyRoundRobin:   runRoundRobin,
	StrategyLeastLoaded:  runLeastLoaded,
	StrategySpecialized:  runSpecialized,
	StrategyHierarchical: runHierarchical,
	StrategyCompetitive:  runCompetitive,
	StrategySwarm:        runSwarm,
}

// Merger combines swarm sub-results into one output.
type Merger interface {
	Merge(results []string) string
}

// ConcatMerger joins sub-results with a blank line.
type ConcatMerger struct{}

func (ConcatMerger) Merge(results []string) string {
	return strings.Join(results, "\n\n")
}

func runRoundRobin(ctx context.Context, o *Orchestrator, task Task) (string, string, error) {
	o.mu.Lock()
	slot := o.slots[o.rr%len(o.slots)]
	o.rr++
	o.mu.Unlock()
	output, err := runOn(ctx, slot, task)
	return output, slot.ID, err
}

func runLeastLoaded(ctx context.Context, o *Orchestrator, task Task) (string, string, error) {
	o.mu.Lock()
	slot := o.slots[0]
	for _, candidate := range o.slots[1:] {
		if candidate.Load() < slot.Load() {
			slot = candidate
		}
	}
	o.mu.Unlock()
	output, err := runOn(ctx, slot, task)
	return output, slot.ID, err
}

func runSpecialized(ctx context.Context, o *Orchestrator, task Task) (string, string, error) {
	o.mu.Lock()
	slot := o.slots[0]
	best := jaccard(task.RequiredCapabilities, slot.Capabilities)
	for _, candidate := range o.slots[1:] {
		if score := jaccard(task.RequiredCapabilities, candidate.Capabilities); score > best {
			slot = candidate
			best = score
		}
	}
	o.mu.Unlock()
	output, err := runOn(ctx, slot, task)
	return output, slot.ID, err
}

// jaccard is |a ∩ b| / |a ∪ b| over capability sets; two empty sets score 0.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, c := range a {
		set[c] = true
	}
	union := len(set)
	inter := 0
	for _, c := range b {
		if set[c] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// runHierarchical distributes a task's subtasks recursively and joins
// their outputs in order. Leaf tasks fall through to least-loaded.
func runHierarchical(ctx context.Context, o *Orchestrator, task Task) (string, string, error) {
	if len(task.Subtasks) == 0 {
		return runLeastLoaded(ctx, o, task)
	}
	outputs := make([]string, 0, len(task.Subtasks))
	for _, sub := range task.Subtasks {
		output, _, err := runHierarchical(ctx, o, sub)
		if err != nil {
			return "", "", fmt.Errorf("subtask %s: %w", sub.ID, err)
		}
		outputs = append(outputs, output)
	}
	return strings.Join(outputs, "\n"), "", nil
}

// runCompetitive races the task on up to Racers least-loaded slots; the
// first success wins and the siblings are cancelled.
func runCompetitive(ctx context.Context, o *Orchestrator, task Task) (string, string, error) {
	slots := o.pickSlots(o.config.Racers)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		output string
		slotID string
		err    error
	}
	results := make(chan outcome, len(slots))
	for _, slot := range slots {
		go func(slot *Slot) {
			output, err := runOn(ctx, slot, task)
			results <- outcome{output: output, slotID: slot.ID, err: err}
		}(slot)
	}

	var lastErr error
	for range slots {
		res := <-results
		if res.err == nil {
			cancel()
			return res.output, res.slotID, nil
		}
		lastErr = res.err
	}
	return "", "", fmt.Errorf("all %d racers failed: %w", len(slots), lastErr)
}

// runSwarm fans the task out to up to Racers slots and merges every
// successful sub-result. It fails only when no slot succeeds.
func runSwarm(ctx context.Context, o *Orchestrator, task Task) (string, string, error) {
	slots := o.pickSlots(o.config.Racers)

	outputs := make([]string, len(slots))
	errs := make([]error, len(slots))
	var wg sync.WaitGroup
	for i, slot := range slots {
		wg.Add(1)
		go func(i int, slot *Slot) {
			defer wg.Done()
			outputs[i], errs[i] = runOn(ctx, slot, task)
		}(i, slot)
	}
	wg.Wait()

	var ok []string
	var lastErr error
	for i := range slots {
		if errs[i] == nil {
			ok = append(ok, outputs[i])
		} else {
			lastErr = errs[i]
		}
	}
	if len(ok) == 0 {
		return "", "", fmt.Errorf("swarm produced no results: %w", lastErr)
	}
	return o.config.Merger.Merge(ok), "", nil
}

// pickSlots returns up to n distinct slots ordered by load.
func (o *Orchestrator) pickSlots(n int) []*Slot {
	o.mu.Lock()
	defer o.mu.Unlock()
	picked := make([]*Slot, len(o.slots))
	copy(picked, o.slots)
	// Insertion sort by load; pools are small.
	for i := 1; i < len(picked); i++ {
		for j := i; j > 0 && picked[j].Load() < picked[j-1].Load(); j-- {
			picked[j], picked[j-1] = picked[j-1], picked[j]
		}
	}
	if n < len(picked) {
		picked = picked[:n]
	}
	return picked
}
