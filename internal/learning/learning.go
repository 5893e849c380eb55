// Package learning accumulates tool usage statistics and mines them for
// predictions: per-tool performance, Markov next-tool transitions, frequent
// n-gram sequences, and named workflow detection.
package learning

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

const (
	// SessionWindow bounds the current session's sliding tool window.
	SessionWindow = 20
	// MaxSessions bounds the retained finished-session ring.
	MaxSessions = 500
	// MaxRecommendations caps recommendation output.
	MaxRecommendations = 5

	latencyEMAAlpha = 0.3
	// speedHorizonMs is the latency at which speedScore bottoms out.
	speedHorizonMs = 30_000
)

// ToolStats is one tool's accumulated record.
type ToolStats struct {
	TotalCalls    int     `json:"total_calls"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	AcceptedTurns int     `json:"accepted_turns"`
	FeedbackTurns int     `json:"feedback_turns"`
}

// SuccessRate is successes over total calls, 0 when unused.
func (s *ToolStats) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.TotalCalls)
}

// PerformanceScore blends success rate, speed, and user satisfaction
// 0.5/0.3/0.2. Satisfaction is neutral (0.5) without feedback.
func (s *ToolStats) PerformanceScore() float64 {
	speed := 1 - s.AvgLatencyMs/speedHorizonMs
	if speed < 0 {
		speed = 0
	}
	if speed > 1 {
		speed = 1
	}
	satisfaction := 0.5
	if s.FeedbackTurns > 0 {
		satisfaction = float64(s.AcceptedTurns) / float64(s.FeedbackTurns)
	}
	return 0.5*s.SuccessRate() + 0.3*speed + 0.2*satisfaction
}

// Recommendation is one scored tool suggestion.
type Recommendation struct {
	Tool  string  `json:"tool"`
	Score float64 `json:"score"`
}

// Pattern is a mined tool sequence with its occurrence count.
type Pattern struct {
	Sequence []string `json:"sequence"`
	Count    int      `json:"count"`
}

// workflowDictionary names known tool subsequences.
var workflowDictionary = map[string][]string{
	"refactoring":        {"read_file", "edit_file", "run_tests"},
	"debugging":          {"run_tests", "read_file", "edit_file"},
	"exploration":        {"list_dir", "read_file"},
	"search-and-replace": {"search", "edit_file"},
	"file-creation":      {"write_file", "read_file"},
	"testing":            {"edit_file", "run_tests"},
	"investigation":      {"search", "read_file", "search"},
}

// Loop is the process-wide learning accumulator. Safe for concurrent use.
type Loop struct {
	mu          sync.Mutex
	tools       map[string]*ToolStats
	transitions map[string]map[string]int
	sessions    [][]string
	current     []string
	lastTool    string
}

// NewLoop creates an empty learning loop.
func NewLoop() *Loop {
	return &Loop{
		tools:       make(map[string]*ToolStats),
		transitions: make(map[string]map[string]int),
	}
}

// RecordToolCall folds one execution into the statistics.
func (l *Loop) RecordToolCall(tool string, success bool, latencyMs float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.tools[tool]
	if stats == nil {
		stats = &ToolStats{}
		l.tools[tool] = stats
	}
	stats.TotalCalls++
	if success {
		stats.Successes++
	} else {
		stats.Failures++
	}
	if stats.TotalCalls == 1 {
		stats.AvgLatencyMs = latencyMs
	} else {
		stats.AvgLatencyMs = (1-latencyEMAAlpha)*stats.AvgLatencyMs + latencyEMAAlpha*latencyMs
	}

	if l.lastTool != "" {
		row := l.transitions[l.lastTool]
		if row == nil {
			row = make(map[string]int)
			l.transitions[l.lastTool] = row
		}
		row[tool]++
	}
	l.lastTool = tool

	l.current = append(l.current, tool)
	if len(l.current) > SessionWindow {
		l.current = l.current[len(l.current)-SessionWindow:]
	}
}

// RecordFeedback folds one user verdict on a tool-bearing turn.
func (l *Loop) RecordFeedback(tool string, accepted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.tools[tool]
	if stats == nil {
		stats = &ToolStats{}
		l.tools[tool] = stats
	}
	stats.FeedbackTurns++
	if accepted {
		stats.AcceptedTurns++
	}
}

// EndSession archives the current session's tool sequence and resets the
// window. Empty sessions are dropped.
func (l *Loop) EndSession() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.current) > 0 {
		l.sessions = append(l.sessions, l.current)
		if len(l.sessions) > MaxSessions {
			l.sessions = l.sessions[len(l.sessions)-MaxSessions:]
		}
	}
	l.current = nil
	l.lastTool = ""
}

// Stats returns a copy of one tool's statistics.
func (l *Loop) Stats(tool string) (ToolStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats, ok := l.tools[tool]
	if !ok {
		return ToolStats{}, false
	}
	return *stats, true
}

// PredictNextTool returns a probability distribution over the next tool
// given the last tool in history. With no observed transitions it falls
// back to global call frequency.
func (l *Loop) PredictNextTool(history []string) map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(history) > 0 {
		last := history[len(history)-1]
		if row := l.transitions[last]; len(row) > 0 {
			return normalizeCounts(row)
		}
	}

	freq := make(map[string]int, len(l.tools))
	for tool, stats := range l.tools {
		freq[tool] = stats.TotalCalls
	}
	return normalizeCounts(freq)
}

func normalizeCounts(counts map[string]int) map[string]float64 {
	total := 0
	for _, n := range counts {
		total += n
	}
	out := make(map[string]float64, len(counts))
	if total == 0 {
		return out
	}
	for k, n := range counts {
		out[k] = float64(n) / float64(total)
	}
	return out
}

// Recommend scores candidate next tools by Markov probability (0.5),
// global frequency (0.3), and performance (0.2), capped at five.
func (l *Loop) Recommend(history []string) []Recommendation {
	markov := l.PredictNextTool(history)

	l.mu.Lock()
	defer l.mu.Unlock()

	totalCalls := 0
	for _, stats := range l.tools {
		totalCalls += stats.TotalCalls
	}

	scores := make(map[string]float64)
	for tool, p := range markov {
		scores[tool] += 0.5 * p
	}
	for tool, stats := range l.tools {
		if totalCalls > 0 {
			scores[tool] += 0.3 * float64(stats.TotalCalls) / float64(totalCalls)
		}
		scores[tool] += 0.2 * stats.PerformanceScore()
	}

	out := make([]Recommendation, 0, len(scores))
	for tool, score := range scores {
		out = append(out, Recommendation{Tool: tool, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Tool < out[j].Tool
	})
	if len(out) > MaxRecommendations {
		out = out[:MaxRecommendations]
	}
	return out
}

// MinePatterns extracts n-grams of length 2 through 5 occurring at least
// twice across retained sessions plus the current window, sorted by count
// descending.
func (l *Loop) MinePatterns() []Pattern {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[string]int)
	sequences := make(map[string][]string)
	scan := func(session []string) {
		for n := 2; n <= 5; n++ {
			for i := 0; i+n <= len(session); i++ {
				gram := session[i : i+n]
				key := joinKey(gram)
				counts[key]++
				if _, ok := sequences[key]; !ok {
					sequences[key] = append([]string(nil), gram...)
				}
			}
		}
	}
	for _, session := range l.sessions {
		scan(session)
	}
	scan(l.current)

	var out []Pattern
	for key, count := range counts {
		if count >= 2 {
			out = append(out, Pattern{Sequence: sequences[key], Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return joinKey(out[i].Sequence) < joinKey(out[j].Sequence)
	})
	return out
}

func joinKey(tools []string) string {
	key := ""
	for i, t := range tools {
		if i > 0 {
			key += "\x00"
		}
		key += t
	}
	return key
}

// DetectWorkflows names every dictionary workflow whose pattern appears as
// a subsequence of the given tool sequence, sorted by name.
func DetectWorkflows(tools []string) []string {
	var out []string
	for name, pattern := range workflowDictionary {
		if isSubsequence(pattern, tools) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func isSubsequence(pattern, seq []string) bool {
	i := 0
	for _, tool := range seq {
		if i < len(pattern) && tool == pattern[i] {
			i++
		}
	}
	return i == len(pattern)
}

type loopState struct {
	Tools       map[string]*ToolStats     `json:"tools"`
	Transitions map[string]map[string]int `json:"transitions"`
	Sessions    [][]string                `json:"sessions"`
	Current     []string                  `json:"current"`
	LastTool    string                    `json:"last_tool"`
}

// Serialize persists the loop's full state as JSON.
func (l *Loop) Serialize() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.Marshal(loopState{
		Tools:       l.tools,
		Transitions: l.transitions,
		Sessions:    l.sessions,
		Current:     l.current,
		LastTool:    l.lastTool,
	})
}

// Deserialize restores a loop from Serialize output.
func Deserialize(data []byte) (*Loop, error) {
	var state loopState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode learning state: %w", err)
	}
	l := NewLoop()
	if state.Tools != nil {
		l.tools = state.Tools
	}
	if state.Transitions != nil {
		l.transitions = state.Transitions
	}
	l.sessions = state.Sessions
	l.current = state.Current
	l.lastTool = state.LastTool
	return l, nil
}
