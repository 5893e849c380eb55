package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/storage"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

func newFixture(t *testing.T) (*Consolidator, *storage.MemorySessionStore, *clockwork.Fake) {
	t.Helper()
	clock := clockwork.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	sessions := storage.NewMemorySessionStore(clock)
	memory := storage.NewMemoryStore(clock)
	c := New(sessions, memory, storage.NewLocalEmbedder(128), clock, observability.Discard())
	return c, sessions, clock
}

func seedSession(t *testing.T, sessions *storage.MemorySessionStore, project string, turns ...models.Turn) {
	t.Helper()
	session, err := sessions.Create(context.Background(), storage.CreateSessionOptions{Project: project})
	if err != nil {
		t.Fatal(err)
	}
	for _, turn := range turns {
		if err := sessions.AddTurn(context.Background(), session.ID, turn); err != nil {
			t.Fatal(err)
		}
	}
}

func TestConsolidateDay_ExtractsAndGroups(t *testing.T) {
	c, sessions, _ := newFixture(t)

	seedSession(t, sessions, "alpha",
		models.Turn{Role: models.RoleUser, Content: "I use vim for everything. Please fix the parser."},
		models.Turn{Role: models.RoleAssistant, Content: "Ran tool read_file on parser.go, then committed fix as commit a1b2c3d."},
		models.Turn{Role: models.RoleAssistant, Content: "Decided to split the lexer into its own package."},
	)
	seedSession(t, sessions, "alpha",
		models.Turn{Role: models.RoleAssistant, Content: "The build failed with a nil pointer panic."},
	)
	seedSession(t, sessions, "beta",
		models.Turn{Role: models.RoleUser, Content: "I prefer table-driven tests."},
	)

	result, err := c.ConsolidateDay(context.Background(), "2026-03-01", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.SessionsProcessed != 3 || result.ProjectCount != 2 || result.TotalTurns != 5 {
		t.Errorf("result = %+v", result)
	}
	if result.File != "day/2026-03-01" {
		t.Errorf("file = %q", result.File)
	}

	record, err := c.LoadDay(context.Background(), "2026-03-01")
	if err != nil {
		t.Fatal(err)
	}
	alpha := record.Projects["alpha"]
	if alpha.Sessions != 2 || alpha.Turns != 4 {
		t.Errorf("alpha = %+v", alpha)
	}
	types := make(map[EventType]int)
	for _, e := range alpha.Events {
		types[e.Type]++
	}
	if types[EventTool] == 0 || types[EventCommit] == 0 || types[EventDecision] == 0 || types[EventError] == 0 {
		t.Errorf("alpha events = %+v", alpha.Events)
	}
	if len(record.Facts) == 0 {
		t.Error("no facts extracted")
	}
}

func TestConsolidateDay_DedupesSimilarFacts(t *testing.T) {
	c, sessions, _ := newFixture(t)
	seedSession(t, sessions, "p",
		models.Turn{Role: models.RoleUser, Content: "I prefer tabs over spaces."},
		models.Turn{Role: models.RoleUser, Content: "I prefer tabs over spaces."},
		models.Turn{Role: models.RoleUser, Content: "I prefer short functions."},
	)

	result, err := c.ConsolidateDay(context.Background(), "2026-03-01", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.ExtractedFacts) != 2 {
		t.Errorf("facts = %v", result.ExtractedFacts)
	}
}

func TestConsolidateDay_IdempotentUnlessForced(t *testing.T) {
	c, sessions, _ := newFixture(t)
	seedSession(t, sessions, "p", models.Turn{Role: models.RoleUser, Content: "hello"})

	first, err := c.ConsolidateDay(context.Background(), "2026-03-01", false)
	if err != nil {
		t.Fatal(err)
	}

	// A session added after consolidation is ignored until forced.
	seedSession(t, sessions, "p", models.Turn{Role: models.RoleUser, Content: "late arrival"})
	again, err := c.ConsolidateDay(context.Background(), "2026-03-01", false)
	if err != nil {
		t.Fatal(err)
	}
	if again.SessionsProcessed != first.SessionsProcessed {
		t.Errorf("idempotent run reprocessed: %+v", again)
	}

	forced, err := c.ConsolidateDay(context.Background(), "2026-03-01", true)
	if err != nil {
		t.Fatal(err)
	}
	if forced.SessionsProcessed != 2 {
		t.Errorf("forced run = %+v", forced)
	}
}

func TestConsolidateDay_EmptyDate(t *testing.T) {
	c, _, _ := newFixture(t)
	result, err := c.ConsolidateDay(context.Background(), "2026-03-02", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.SessionsProcessed != 0 || result.ProjectCount != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestConsolidateDay_RejectsBadDate(t *testing.T) {
	c, _, _ := newFixture(t)
	if _, err := c.ConsolidateDay(context.Background(), "March 1st", false); err == nil {
		t.Error("bad date accepted")
	}
}
