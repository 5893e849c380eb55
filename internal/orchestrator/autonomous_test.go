package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/observability"
)

func newAutonomous(t *testing.T, config AutonomousConfig, clock clockwork.Clock) *Autonomous {
	t.Helper()
	pool := newPool(t, Config{MaxRetries: 0})
	return NewAutonomous(config, pool, clock, observability.Discard())
}

func TestAutonomous_ExecuteFeedsBandit(t *testing.T) {
	a := newAutonomous(t, AutonomousConfig{}, nil)

	for i := 0; i < 5; i++ {
		if _, err := a.Execute(context.Background(), Task{ID: "t", Description: "quick check"}); err != nil {
			t.Fatal(err)
		}
	}

	total := 0
	for _, stats := range a.Bandit().GetStats() {
		total += stats.Pulls
	}
	if total != 5 {
		t.Errorf("bandit pulls = %d, want 5", total)
	}
}

func TestCompositeReward(t *testing.T) {
	a := newAutonomous(t, AutonomousConfig{CostBudget: 1.0}, nil)

	task := Task{ExpectedDuration: 10 * time.Second}
	// Success, instant, free.
	if got := a.compositeReward(task, true, 0, 0); got != 1.0 {
		t.Errorf("best case = %v", got)
	}
	// Failure at the expected pace.
	if got := a.compositeReward(task, false, 10*time.Second, 0); got != 0.2 {
		t.Errorf("failure reward = %v", got)
	}
	// Success, twice as slow, at budget.
	if got := a.compositeReward(task, true, 20*time.Second, 1.0); got != 0.5 {
		t.Errorf("slow expensive success = %v", got)
	}
	// Half the expected time, half the budget.
	got := a.compositeReward(task, true, 5*time.Second, 0.5)
	if got < 0.74 || got > 0.76 {
		t.Errorf("mid case = %v, want 0.75", got)
	}
	// Overruns never go negative.
	if got := a.compositeReward(task, false, time.Minute, 50); got != 0 {
		t.Errorf("worst case = %v", got)
	}
}

func TestEstimateComplexity(t *testing.T) {
	if got := EstimateComplexity(Task{Description: "rewrite the storage engine"}); got != 0.9 {
		t.Errorf("rewrite = %v", got)
	}
	if got := EstimateComplexity(Task{Description: "refactor the parser"}); got != 0.8 {
		t.Errorf("refactor = %v", got)
	}
	simple := EstimateComplexity(Task{Description: "fix typo"})
	heavy := EstimateComplexity(Task{
		Description:  "migrate the schema",
		Dependencies: []string{"a", "b", "c"},
		Priority:     9,
	})
	if simple >= heavy {
		t.Errorf("simple %v >= heavy %v", simple, heavy)
	}
	if heavy > 1 {
		t.Errorf("complexity exceeds 1: %v", heavy)
	}
}

func TestAutonomous_BansFailingStrategy(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1_700_000_000, 0))
	a := newAutonomous(t, AutonomousConfig{}, clock)

	for i := 0; i < banMinTasks; i++ {
		a.settle(StrategySwarm, 0, nil, false)
	}

	banned := a.Banned()
	if len(banned) != 1 || banned[0] != StrategySwarm {
		t.Fatalf("banned = %v", banned)
	}
	for i := 0; i < 20; i++ {
		if a.pickStrategy(nil) == StrategySwarm {
			t.Fatal("banned strategy still selected")
		}
	}

	clock.Advance(banDuration + time.Second)
	if got := a.Banned(); len(got) != 0 {
		t.Errorf("ban did not expire: %v", got)
	}
}

func TestAutonomous_BanLeavesArmStatsUntouched(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1_700_000_000, 0))
	a := newAutonomous(t, AutonomousConfig{}, clock)

	for i := 0; i < banMinTasks; i++ {
		a.settle(StrategySwarm, 0, nil, false)
	}
	if banned := a.Banned(); len(banned) != 1 || banned[0] != StrategySwarm {
		t.Fatalf("banned = %v", banned)
	}
	before := a.Bandit().GetStats()[StrategySwarm]

	// Selecting around the ban must not feed phantom rewards into the arm.
	for i := 0; i < 50; i++ {
		if got := a.pickStrategy(nil); got == StrategySwarm {
			t.Fatal("banned strategy selected")
		}
	}
	after := a.Bandit().GetStats()[StrategySwarm]
	if after != before {
		t.Errorf("banned arm stats changed: %+v -> %+v", before, after)
	}
}

func TestAutonomous_BanNeedsObservations(t *testing.T) {
	a := newAutonomous(t, AutonomousConfig{}, nil)
	// Under the observation floor, even total failure is not banned.
	for i := 0; i < banMinTasks-1; i++ {
		a.settle(StrategyCompetitive, 0, nil, false)
	}
	if got := a.Banned(); len(got) != 0 {
		t.Errorf("banned too early: %v", got)
	}
}

func TestAutonomous_AllBannedFallsBackToRoundRobin(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1_700_000_000, 0))
	a := newAutonomous(t, AutonomousConfig{}, clock)

	for _, name := range StrategyNames {
		for i := 0; i < banMinTasks; i++ {
			a.settle(name, 0, nil, false)
		}
	}
	if len(a.Banned()) != len(StrategyNames) {
		t.Fatalf("banned = %v", a.Banned())
	}
	if got := a.pickStrategy(nil); got != StrategyRoundRobin {
		t.Errorf("fallback strategy = %q", got)
	}
}

func TestAutonomous_AutoSaveAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bandit.json")
	a := newAutonomous(t, AutonomousConfig{StatePath: path, SaveEvery: 2}, nil)

	for i := 0; i < 4; i++ {
		if _, err := a.Execute(context.Background(), Task{ID: "t"}); err != nil {
			t.Fatal(err)
		}
	}

	restored := newAutonomous(t, AutonomousConfig{StatePath: path}, nil)
	total := 0
	for _, stats := range restored.Bandit().GetStats() {
		total += stats.Pulls
	}
	if total != 4 {
		t.Errorf("restored pulls = %d, want 4", total)
	}
}

func TestAutonomous_SaveWithoutPath(t *testing.T) {
	a := newAutonomous(t, AutonomousConfig{}, nil)
	if err := a.Save(); err == nil {
		t.Error("save without a path should fail")
	}
}
