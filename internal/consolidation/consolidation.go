// Package consolidation folds a day's sessions into one retrievable
// memory record: event chains per session, grouped by project, with
// de-duplicated personal facts.
package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/storage"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// factSimilarityCutoff treats two facts as duplicates at or above this
// cosine similarity.
const factSimilarityCutoff = 0.92

// EventType tags one extracted session event.
type EventType string

const (
	EventTool       EventType = "tool"
	EventDecision   EventType = "decision"
	EventError      EventType = "error"
	EventCommit     EventType = "commit"
	EventFact       EventType = "fact"
	EventPreference EventType = "preference"
)

// Event is one entry in a session's extracted chain.
type Event struct {
	Type   EventType `json:"type"`
	Detail string    `json:"detail"`
}

// ProjectSummary groups one project's day.
type ProjectSummary struct {
	Sessions int     `json:"sessions"`
	Turns    int     `json:"turns"`
	Events   []Event `json:"events,omitempty"`
}

// DayRecord is the consolidated record written per date.
type DayRecord struct {
	Date      string                    `json:"date"`
	Projects  map[string]ProjectSummary `json:"projects"`
	Facts     []string                  `json:"facts,omitempty"`
	Sessions  int                       `json:"sessions"`
	Turns     int                       `json:"turns"`
	WrittenAt time.Time                 `json:"written_at"`
}

// Result reports one consolidation run.
type Result struct {
	Date              string        `json:"date"`
	File              string        `json:"file"`
	SessionsProcessed int           `json:"sessions_processed"`
	ProjectCount      int           `json:"project_count"`
	TotalTurns        int           `json:"total_turns"`
	ExtractedFacts    []string      `json:"extracted_facts,omitempty"`
	Duration          time.Duration `json:"duration"`
}

var (
	toolRe   = regexp.MustCompile(`(?i)\b(?:ran|running|executed|invoking|calling) (?:the )?tool ([A-Za-z0-9._-]+)`)
	commitRe = regexp.MustCompile(`(?i)\bcommit(?:ted)?\b.{0,20}?\b([0-9a-f]{7,40})\b`)
	errorRe  = regexp.MustCompile(`(?i)\b(error|panic|failed|exception|traceback)\b`)
	factRe   = regexp.MustCompile(`(?i)\b(my name is [^.\n]+|i work (?:at|on) [^.\n]+|i use [^.\n]+|i am a [^.\n]+)`)
	prefRe   = regexp.MustCompile(`(?i)\b(?:i )?prefers? ([^.\n]+)`)
	decideRe = regexp.MustCompile(`(?i)\b(?:decided to|decision:) ([^.\n]+)`)
)

// Consolidator runs day consolidation over injected stores.
type Consolidator struct {
	sessions storage.SessionStore
	memory   storage.MemoryStore
	embedder storage.EmbeddingProvider
	clock    clockwork.Clock
	logger   *observability.Logger
}

func New(sessions storage.SessionStore, memory storage.MemoryStore, embedder storage.EmbeddingProvider, clock clockwork.Clock, logger *observability.Logger) *Consolidator {
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	if embedder == nil {
		embedder = storage.NewLocalEmbedder(128)
	}
	return &Consolidator{
		sessions: sessions,
		memory:   memory,
		embedder: embedder,
		clock:    clock,
		logger:   logger.Named("consolidation"),
	}
}

func recordKey(date string) string { return "day/" + date }

// ConsolidateDay folds the date's sessions into one record. An existing
// record short-circuits unless force is set.
func (c *Consolidator) ConsolidateDay(ctx context.Context, date string, force bool) (*Result, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("date %q: %w", date, err)
	}
	start := c.clock.Now()
	key := recordKey(date)

	if !force {
		if existing, err := c.memory.Get(ctx, storage.GlobalScope(), key); err == nil {
			var record DayRecord
			if err := json.Unmarshal([]byte(existing), &record); err == nil {
				return &Result{
					Date:              date,
					File:              key,
					SessionsProcessed: record.Sessions,
					ProjectCount:      len(record.Projects),
					TotalTurns:        record.Turns,
					ExtractedFacts:    record.Facts,
					Duration:          c.clock.Now().Sub(start),
				}, nil
			}
			c.logger.Warn(ctx, "existing day record unreadable, rebuilding", "date", date)
		}
	}

	sessions, err := c.sessions.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", date, err)
	}

	record := DayRecord{
		Date:      date,
		Projects:  make(map[string]ProjectSummary),
		WrittenAt: c.clock.Now(),
	}
	var candidates []string
	for _, session := range sessions {
		events, facts := extractChain(session)
		candidates = append(candidates, facts...)

		project := session.Project
		if project == "" {
			project = "(none)"
		}
		summary := record.Projects[project]
		summary.Sessions++
		summary.Turns += len(session.Turns)
		summary.Events = append(summary.Events, events...)
		record.Projects[project] = summary

		record.Sessions++
		record.Turns += len(session.Turns)
	}

	record.Facts, err = c.dedupeFacts(ctx, candidates)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal day record: %w", err)
	}
	if err := c.memory.Update(ctx, storage.GlobalScope(), key, string(data)); err != nil {
		return nil, fmt.Errorf("write day record: %w", err)
	}
	c.logger.Info(ctx, "day consolidated", "date", date, "sessions", record.Sessions, "facts", len(record.Facts))

	return &Result{
		Date:              date,
		File:              key,
		SessionsProcessed: record.Sessions,
		ProjectCount:      len(record.Projects),
		TotalTurns:        record.Turns,
		ExtractedFacts:    record.Facts,
		Duration:          c.clock.Now().Sub(start),
	}, nil
}

// LoadDay reads a previously consolidated record.
func (c *Consolidator) LoadDay(ctx context.Context, date string) (*DayRecord, error) {
	raw, err := c.memory.Get(ctx, storage.GlobalScope(), recordKey(date))
	if err != nil {
		return nil, err
	}
	var record DayRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("day record %s: %w", date, err)
	}
	return &record, nil
}

// extractChain walks a session's turns applying the extraction rules.
func extractChain(session *models.Session) ([]Event, []string) {
	var events []Event
	var facts []string
	for _, turn := range session.Turns {
		text := turn.Content
		if turn.Role == models.RoleTool {
			events = append(events, Event{Type: EventTool, Detail: firstLine(text)})
			continue
		}
		for _, m := range toolRe.FindAllStringSubmatch(text, -1) {
			events = append(events, Event{Type: EventTool, Detail: m[1]})
		}
		for _, m := range decideRe.FindAllStringSubmatch(text, -1) {
			events = append(events, Event{Type: EventDecision, Detail: strings.TrimSpace(m[1])})
		}
		for _, m := range commitRe.FindAllStringSubmatch(text, -1) {
			events = append(events, Event{Type: EventCommit, Detail: m[1]})
		}
		if errorRe.MatchString(text) {
			events = append(events, Event{Type: EventError, Detail: firstLine(text)})
		}
		if turn.Role == models.RoleUser {
			for _, m := range factRe.FindAllStringSubmatch(text, -1) {
				fact := strings.TrimSpace(m[1])
				events = append(events, Event{Type: EventFact, Detail: fact})
				facts = append(facts, fact)
			}
			for _, m := range prefRe.FindAllStringSubmatch(text, -1) {
				pref := "prefers " + strings.TrimSpace(m[1])
				events = append(events, Event{Type: EventPreference, Detail: pref})
				facts = append(facts, pref)
			}
		}
	}
	return events, facts
}

// dedupeFacts drops candidates too similar to an already-kept fact.
func (c *Consolidator) dedupeFacts(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	vectors, err := c.embedder.EmbedBatch(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("embed facts: %w", err)
	}

	var kept []string
	var keptVecs [][]float64
	for i, fact := range candidates {
		duplicate := false
		for _, vec := range keptVecs {
			if storage.Cosine(vectors[i], vec) >= factSimilarityCutoff {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, fact)
			keptVecs = append(keptVecs, vectors[i])
		}
	}
	return kept, nil
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 120 {
		text = text[:120]
	}
	return strings.TrimSpace(text)
}
