package cost

import (
	"math"
	"testing"

	"github.com/haasonsaas/chitragupta/pkg/models"
)

func testCatalog() []ModelInfo {
	return []ModelInfo{
		{
			ID:            "claude-sonnet",
			Provider:      "anthropic",
			ContextWindow: 200_000,
			Pricing:       Pricing{Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
		},
		{
			ID:            "claude-haiku",
			Provider:      "anthropic",
			ContextWindow: 200_000,
			Pricing:       Pricing{Input: 0.8, Output: 4},
		},
	}
}

func TestCalculate(t *testing.T) {
	catalog := testCatalog()
	usage := &models.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000, CacheReadTokens: 1_000_000}

	got := Calculate(usage, &catalog[0])
	want := 3.0 + 15.0 + 0.3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Calculate = %v, want %v", got, want)
	}

	if Calculate(nil, &catalog[0]) != 0 || Calculate(usage, nil) != 0 {
		t.Error("nil inputs must cost 0")
	}
}

func TestTracker_RecordAndTotals(t *testing.T) {
	tracker := NewTracker(testCatalog())

	c1 := tracker.Record("claude-sonnet", &models.Usage{InputTokens: 500_000})
	c2 := tracker.Record("claude-sonnet", &models.Usage{OutputTokens: 100_000})
	tracker.Record("claude-haiku", &models.Usage{InputTokens: 1_000_000})

	if math.Abs(c1-1.5) > 1e-9 {
		t.Errorf("first call cost = %v, want 1.5", c1)
	}
	if math.Abs(c2-1.5) > 1e-9 {
		t.Errorf("second call cost = %v, want 1.5", c2)
	}

	totals := tracker.Totals()
	sonnet := totals["claude-sonnet"]
	if sonnet.Calls != 2 || sonnet.Usage.InputTokens != 500_000 {
		t.Errorf("sonnet totals = %+v", sonnet)
	}
	if math.Abs(tracker.Total()-(1.5+1.5+0.8)) > 1e-9 {
		t.Errorf("Total = %v", tracker.Total())
	}
}

func TestFitsInContext(t *testing.T) {
	tracker := NewTracker([]ModelInfo{{ID: "tiny", ContextWindow: 50}})

	short := []models.Message{models.UserMessage("hi")}
	if !tracker.FitsInContext(short, "tiny") {
		t.Error("short history should fit")
	}

	long := []models.Message{models.UserMessage(string(make([]byte, 1000)))}
	if tracker.FitsInContext(long, "tiny") {
		t.Error("long history should not fit")
	}

	if tracker.FitsInContext(short, "unknown") {
		t.Error("unknown models never fit")
	}
}

func TestContextUsagePercent(t *testing.T) {
	tracker := NewTracker([]ModelInfo{{ID: "m", ContextWindow: 1000}})

	history := []models.Message{models.UserMessage("hello world, this is a prompt")}
	pct := tracker.ContextUsagePercent(history, "m")
	if pct <= 0 || pct >= 1 {
		t.Errorf("usage percent = %v, want (0,1)", pct)
	}

	if tracker.ContextUsagePercent(history, "unknown") != 1 {
		t.Error("unknown model should report 1")
	}
}

func TestEstimateTokens_Monotone(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("empty string should be 0 tokens")
	}
	a := EstimateTokens("short")
	b := EstimateTokens("a considerably longer piece of text than the other")
	if a >= b {
		t.Errorf("estimates not monotone: %d >= %d", a, b)
	}
}
