package marga

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/chitragupta/internal/cost"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// Complexity is an ordered difficulty bucket.
type Complexity int

const (
	Trivial Complexity = iota
	Simple
	Moderate
	Complex
	Expert
)

var complexityNames = [...]string{"trivial", "simple", "moderate", "complex", "expert"}

func (c Complexity) String() string {
	if c < Trivial || c > Expert {
		return "unknown"
	}
	return complexityNames[c]
}

// ComplexityScore is the scorer's verdict with its supporting reason.
type ComplexityScore struct {
	Level      Complexity `json:"level"`
	Reason     string     `json:"reason"`
	Confidence float64    `json:"confidence"`
}

var multiStepMarkers = []string{
	"first", "then", "after that", "finally", "step 1", "step 2",
	"1.", "2.", "3.", "and then",
}

var retrievalMarkers = []string{
	"according to", "in the docs", "the file", "the codebase",
	"previous conversation", "as discussed",
}

// ScoreComplexity estimates request difficulty from structural signals:
// token volume, code presence, multi-step phrasing, and retrieval
// references.
func ScoreComplexity(history []models.Message) ComplexityScore {
	text := strings.ToLower(lastUserText(history))
	tokens := cost.EstimateHistoryTokens(history)

	points := 0
	var reasons []string

	switch {
	case tokens > 8000:
		points += 3
		reasons = append(reasons, "very large context")
	case tokens > 2000:
		points += 2
		reasons = append(reasons, "large context")
	case tokens > 500:
		points++
		reasons = append(reasons, "moderate context")
	}

	if strings.Contains(text, "```") || strings.Contains(text, "func ") || strings.Contains(text, "class ") {
		points += 2
		reasons = append(reasons, "contains code")
	}

	steps := 0
	for _, marker := range multiStepMarkers {
		if strings.Contains(text, marker) {
			steps++
		}
	}
	if steps >= 2 {
		points += 2
		reasons = append(reasons, fmt.Sprintf("%d multi-step markers", steps))
	} else if steps == 1 {
		points++
		reasons = append(reasons, "multi-step phrasing")
	}

	for _, marker := range retrievalMarkers {
		if strings.Contains(text, marker) {
			points++
			reasons = append(reasons, "references prior material")
			break
		}
	}

	level := Trivial
	switch {
	case points >= 6:
		level = Expert
	case points >= 4:
		level = Complex
	case points >= 2:
		level = Moderate
	case points >= 1:
		level = Simple
	}

	reason := "no complexity signals"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, ", ")
	}

	conf := 0.5 + 0.08*float64(points)
	if conf > 0.9 {
		conf = 0.9
	}

	return ComplexityScore{Level: level, Reason: reason, Confidence: conf}
}
