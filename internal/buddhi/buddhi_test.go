package buddhi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/storage"
)

func newTestStore(t *testing.T, clock clockwork.Clock) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := NewStore(db, clock, observability.Discard())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func grepDecision() DecisionParams {
	return DecisionParams{
		Project:     "demo",
		Category:    CategoryToolSelection,
		Description: "Use grep for code search",
		Confidence:  0.85,
		Reasoning: Reasoning{
			Thesis:      "Fast text search tools beat file walking",
			Reason:      "grep scans with optimized literal matching",
			Example:     "grep -r found the handler in 40ms",
			Application: "Search the repo with grep before reading files",
			Conclusion:  "Use grep as the primary code search tool",
		},
		Alternatives: []Alternative{{Description: "Use find", ReasonRejected: "Too slow"}},
		Metadata:     map[string]any{"repo": "chitragupta"},
	}
}

func TestRecordDecision_WithOutcome(t *testing.T) {
	store := newTestStore(t, nil)

	d, err := store.RecordDecision(context.Background(), grepDecision())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(d.ID, "bud-") {
		t.Errorf("id = %q", d.ID)
	}
	if d.Outcome != nil {
		t.Error("fresh decision has an outcome")
	}

	if err := store.RecordOutcome(context.Background(), d.ID, Outcome{Success: true, Feedback: "Grep found it."}); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetDecision(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Outcome == nil || !got.Outcome.Success || got.Outcome.Feedback != "Grep found it." {
		t.Errorf("outcome = %+v", got.Outcome)
	}
}

func TestRecordDecision_RoundTripsAllFields(t *testing.T) {
	store := newTestStore(t, nil)
	d, err := store.RecordDecision(context.Background(), grepDecision())
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDecision(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != CategoryToolSelection || got.Confidence != 0.85 || got.Project != "demo" {
		t.Errorf("decision = %+v", got)
	}
	if got.Reasoning != d.Reasoning {
		t.Errorf("reasoning = %+v", got.Reasoning)
	}
	if len(got.Alternatives) != 1 || got.Alternatives[0].ReasonRejected != "Too slow" {
		t.Errorf("alternatives = %+v", got.Alternatives)
	}
	if got.Metadata["repo"] != "chitragupta" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestRecordDecision_Validation(t *testing.T) {
	store := newTestStore(t, nil)

	bad := grepDecision()
	bad.Category = "vibes"
	if _, err := store.RecordDecision(context.Background(), bad); err == nil {
		t.Error("unknown category accepted")
	}

	bad = grepDecision()
	bad.Confidence = 1.2
	if _, err := store.RecordDecision(context.Background(), bad); err == nil {
		t.Error("confidence > 1 accepted")
	}

	bad = grepDecision()
	bad.Reasoning.Example = "   "
	if _, err := store.RecordDecision(context.Background(), bad); err == nil {
		t.Error("blank reasoning part accepted")
	}

	bad = grepDecision()
	bad.Description = ""
	if _, err := store.RecordDecision(context.Background(), bad); err == nil {
		t.Error("empty description accepted")
	}
}

func TestRecordOutcome_UnknownID(t *testing.T) {
	store := newTestStore(t, nil)
	if err := store.RecordOutcome(context.Background(), "bud-ffffffff", Outcome{Success: true}); !storage.IsNotFound(err) {
		t.Errorf("err = %v", err)
	}
}

func TestGetDecision_Unknown(t *testing.T) {
	store := newTestStore(t, nil)
	if _, err := store.GetDecision(context.Background(), "bud-ffffffff"); !storage.IsNotFound(err) {
		t.Errorf("err = %v", err)
	}
}

func TestListDecisions_FiltersAndOrder(t *testing.T) {
	clock := clockwork.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	store := newTestStore(t, clock)

	mk := func(project string, category Category, description string) {
		t.Helper()
		params := grepDecision()
		params.Project = project
		params.Category = category
		params.Description = description
		if _, err := store.RecordDecision(context.Background(), params); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Hour)
	}
	mk("alpha", CategoryToolSelection, "first")
	mk("alpha", CategoryRefactoring, "second")
	mk("beta", CategoryToolSelection, "third")

	all, err := store.ListDecisions(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].Description != "third" || all[2].Description != "first" {
		t.Errorf("order = %v", all)
	}

	alpha, _ := store.ListDecisions(context.Background(), Filter{Project: "alpha"})
	if len(alpha) != 2 {
		t.Errorf("alpha = %d", len(alpha))
	}
	tools, _ := store.ListDecisions(context.Background(), Filter{Project: "alpha", Category: CategoryToolSelection})
	if len(tools) != 1 || tools[0].Description != "first" {
		t.Errorf("tools = %v", tools)
	}

	window, _ := store.ListDecisions(context.Background(), Filter{
		FromDate: time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
		ToDate:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	})
	if len(window) != 1 || window[0].Description != "second" {
		t.Errorf("window = %v", window)
	}

	limited, _ := store.ListDecisions(context.Background(), Filter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limited = %d", len(limited))
	}
}

func TestExplainDecision(t *testing.T) {
	store := newTestStore(t, nil)
	d, _ := store.RecordDecision(context.Background(), grepDecision())
	store.RecordOutcome(context.Background(), d.ID, Outcome{Success: true, Feedback: "Grep found it."})

	text, err := store.ExplainDecision(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Decision " + d.ID,
		"confidence 0.85",
		"Thesis:      Fast text search tools beat file walking",
		"Conclusion:  Use grep as the primary code search tool",
		"- Use find (rejected: Too slow)",
		"Outcome: success - Grep found it.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("explanation missing %q:\n%s", want, text)
		}
	}
}

func TestDecisionPatterns(t *testing.T) {
	clock := clockwork.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	store := newTestStore(t, clock)

	add := func(category Category, description string, confidence float64, outcome *Outcome) {
		t.Helper()
		params := grepDecision()
		params.Category = category
		params.Description = description
		params.Confidence = confidence
		d, err := store.RecordDecision(context.Background(), params)
		if err != nil {
			t.Fatal(err)
		}
		if outcome != nil {
			store.RecordOutcome(context.Background(), d.ID, *outcome)
		}
		clock.Advance(time.Minute)
	}
	add(CategoryToolSelection, "grep one", 0.8, &Outcome{Success: true})
	add(CategoryToolSelection, "grep two", 0.9, &Outcome{Success: false})
	add(CategoryToolSelection, "grep three", 0.7, nil)
	add(CategoryRefactoring, "extract helper", 0.6, nil)

	patterns, err := store.DecisionPatterns(context.Background(), "demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 2 {
		t.Fatalf("patterns = %+v", patterns)
	}
	top := patterns[0]
	if top.Category != CategoryToolSelection || top.Count != 3 {
		t.Errorf("top = %+v", top)
	}
	if top.AvgConfidence != 0.8 {
		t.Errorf("avg confidence = %v", top.AvgConfidence)
	}
	if top.SuccessRate != 0.5 {
		t.Errorf("success rate = %v", top.SuccessRate)
	}
	if top.Representative != "grep three" {
		t.Errorf("representative = %q", top.Representative)
	}
	if patterns[1].SuccessRate != 0 {
		t.Errorf("no-outcome success rate = %v", patterns[1].SuccessRate)
	}
}

func TestDecisionPatterns_CoverFullHistory(t *testing.T) {
	clock := clockwork.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	store := newTestStore(t, clock)

	total := DefaultListLimit + 20
	for i := 0; i < total; i++ {
		params := grepDecision()
		params.Description = "decision " + strings.Repeat("x", i%7+1)
		if _, err := store.RecordDecision(context.Background(), params); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}

	listed, err := store.ListDecisions(context.Background(), Filter{Project: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != DefaultListLimit {
		t.Errorf("listing = %d, want cap %d", len(listed), DefaultListLimit)
	}

	patterns, err := store.DecisionPatterns(context.Background(), "demo")
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 1 || patterns[0].Count != total {
		t.Errorf("patterns = %+v, want count %d", patterns, total)
	}
}

func TestSuccessRate(t *testing.T) {
	store := newTestStore(t, nil)
	if rate, err := store.SuccessRate(context.Background(), CategorySecurity); err != nil || rate != 0 {
		t.Errorf("empty rate = %v, %v", rate, err)
	}

	clock := clockwork.NewFake(time.Unix(1_700_000_000, 0))
	store = newTestStore(t, clock)
	for i, success := range []bool{true, true, false} {
		params := grepDecision()
		params.Description = strings.Repeat("x", i+1)
		d, err := store.RecordDecision(context.Background(), params)
		if err != nil {
			t.Fatal(err)
		}
		store.RecordOutcome(context.Background(), d.ID, Outcome{Success: success})
		clock.Advance(time.Second)
	}
	// A fourth decision without an outcome does not count.
	params := grepDecision()
	params.Description = "no outcome yet"
	store.RecordDecision(context.Background(), params)

	rate, err := store.SuccessRate(context.Background(), CategoryToolSelection)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 0.667 {
		t.Errorf("rate = %v, want 0.667", rate)
	}
}
