package kaalabrahma

import (
	"testing"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/observability"
)

func testRegistry() (*Registry, *clockwork.Fake) {
	clock := clockwork.NewFake(time.Unix(1_700_000_000, 0))
	reg := NewRegistry(DefaultConfig(), clock, observability.Discard())
	return reg, clock
}

func TestRegistry_DecayTransitions(t *testing.T) {
	reg, clock := testRegistry()
	reg.Register("root", "", "main", 0)

	if status, _ := reg.Status("root"); status != StatusAlive {
		t.Fatalf("fresh agent status = %s", status)
	}

	clock.Advance(45 * time.Second)
	if status, _ := reg.Status("root"); status != StatusStale {
		t.Errorf("after 45s status = %s, want stale", status)
	}

	clock.Advance(2 * time.Minute)
	if status, _ := reg.Status("root"); status != StatusDead {
		t.Errorf("after silence status = %s, want dead", status)
	}
}

func TestRegistry_HeartbeatKeepsAlive(t *testing.T) {
	reg, clock := testRegistry()
	reg.Register("root", "", "main", 0)

	for i := 0; i < 5; i++ {
		clock.Advance(20 * time.Second)
		if err := reg.Heartbeat("root"); err != nil {
			t.Fatalf("Heartbeat: %v", err)
		}
	}
	if status, _ := reg.Status("root"); status != StatusAlive {
		t.Errorf("heartbeating agent status = %s", status)
	}

	if err := reg.Heartbeat("ghost"); err == nil {
		t.Error("heartbeat for unknown agent should fail")
	}
}

func TestRegistry_HeartbeatRevivesStale(t *testing.T) {
	reg, clock := testRegistry()
	reg.Register("root", "", "main", 0)

	clock.Advance(45 * time.Second)
	reg.TreeHealth() // force a sweep
	if err := reg.Heartbeat("root"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if status, _ := reg.Status("root"); status != StatusAlive {
		t.Errorf("status after revival = %s", status)
	}
}

func TestRegistry_KillCascades(t *testing.T) {
	reg, _ := testRegistry()
	reg.Register("root", "", "main", 0)
	reg.Register("root.1", "root", "worker", 1)
	reg.Register("root.1.1", "root.1", "helper", 2)
	reg.Register("other", "", "bystander", 0)

	result, err := reg.KillAgent("root")
	if err != nil {
		t.Fatalf("KillAgent: %v", err)
	}
	if result.Freed != 3 {
		t.Errorf("Freed = %d, want 3", result.Freed)
	}
	if status, _ := reg.Status("root.1.1"); status != StatusDead {
		t.Errorf("descendant status = %s", status)
	}
	if status, _ := reg.Status("other"); status != StatusAlive {
		t.Errorf("bystander status = %s", status)
	}

	if _, err := reg.KillAgent("ghost"); err == nil {
		t.Error("killing unknown agent should fail")
	}
}

func TestRegistry_Heal(t *testing.T) {
	reg, _ := testRegistry()
	reg.Register("root", "", "main", 0)
	if _, err := reg.KillAgent("root"); err != nil {
		t.Fatal(err)
	}

	if err := reg.Heal("root"); err != nil {
		t.Fatalf("Heal: %v", err)
	}
	if status, _ := reg.Status("root"); status != StatusAlive {
		t.Errorf("healed status = %s", status)
	}
}

func TestRegistry_TreeHealthSnapshot(t *testing.T) {
	reg, clock := testRegistry()
	reg.Register("root", "", "main", 0)
	clock.Advance(45 * time.Second)
	reg.Register("root.1", "root", "worker", 1)

	health := reg.TreeHealth()
	if health.Total != 2 || health.Alive != 1 || health.Stale != 1 {
		t.Errorf("health = %+v", health)
	}
	if health.Records[0].AgentID != "root" {
		t.Errorf("records not sorted by depth: %v", health.Records)
	}
}

func TestRegistry_StatusChangeListener(t *testing.T) {
	reg, clock := testRegistry()

	type change struct {
		id       string
		from, to Status
	}
	var changes []change
	reg.OnStatusChange(func(id string, from, to Status) {
		changes = append(changes, change{id, from, to})
	})

	reg.Register("root", "", "main", 0)
	clock.Advance(45 * time.Second)
	reg.TreeHealth()

	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %v", len(changes), changes)
	}
	if changes[0].to != StatusAlive || changes[1].to != StatusStale {
		t.Errorf("changes = %v", changes)
	}
}

func TestRegistry_Prune(t *testing.T) {
	reg, clock := testRegistry()
	reg.Register("root", "", "main", 0)
	reg.Register("root.1", "root", "worker", 1)
	clock.Advance(10 * time.Minute)
	reg.Register("late", "", "fresh", 0)

	removed := reg.Prune()
	if removed != 2 {
		t.Errorf("Prune = %d, want 2", removed)
	}
	if _, ok := reg.Status("root"); ok {
		t.Error("pruned agent still present")
	}
	if status, _ := reg.Status("late"); status != StatusAlive {
		t.Errorf("fresh agent status = %s", status)
	}
}
