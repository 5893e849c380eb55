package agent

import (
	"context"
	"sync"
)

// DelegateTask is one unit of parallel delegation.
type DelegateTask struct {
	Config Config
	Text   string
}

// DelegateResult pairs one delegated task with its outcome.
type DelegateResult struct {
	AgentID string
	Output  string
	Err     error
}

// Delegate spawns a child, runs one prompt on it, and returns the child's
// final text. The child remains in the tree for inspection.
func (a *Agent) Delegate(ctx context.Context, config Config, text string) (string, error) {
	child, err := a.Spawn(config)
	if err != nil {
		return "", err
	}
	msg, err := child.Prompt(ctx, text)
	if err != nil {
		return "", err
	}
	return msg.Text(), nil
}

// DelegateParallel spawns one child per task and prompts them
// concurrently. Results preserve task order; spawn failures surface as
// per-task errors without cancelling siblings.
func (a *Agent) DelegateParallel(ctx context.Context, tasks []DelegateTask) []DelegateResult {
	results := make([]DelegateResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		child, err := a.Spawn(task.Config)
		if err != nil {
			results[i] = DelegateResult{Err: err}
			continue
		}
		results[i].AgentID = child.ID()

		wg.Add(1)
		go func(i int, child *Agent, text string) {
			defer wg.Done()
			msg, err := child.Prompt(ctx, text)
			if err != nil {
				results[i].Err = err
				return
			}
			results[i].Output = msg.Text()
		}(i, child, task.Text)
	}
	wg.Wait()
	return results
}
