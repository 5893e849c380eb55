// Package buddhi persists structured decision records: what was decided,
// the reasoning chain behind it, and how it turned out.
package buddhi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/ids"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/storage"
)

// DefaultListLimit caps ListDecisions results.
const DefaultListLimit = 100

// Category classifies a decision.
type Category string

const (
	CategoryArchitecture  Category = "architecture"
	CategoryToolSelection Category = "tool-selection"
	CategoryModelRouting  Category = "model-routing"
	CategoryErrorRecovery Category = "error-recovery"
	CategoryRefactoring   Category = "refactoring"
	CategorySecurity      Category = "security"
)

var validCategories = map[Category]bool{
	CategoryArchitecture:  true,
	CategoryToolSelection: true,
	CategoryModelRouting:  true,
	CategoryErrorRecovery: true,
	CategoryRefactoring:   true,
	CategorySecurity:      true,
}

// Reasoning is the five-part chain every decision carries.
type Reasoning struct {
	Thesis      string `json:"thesis"`
	Reason      string `json:"reason"`
	Example     string `json:"example"`
	Application string `json:"application"`
	Conclusion  string `json:"conclusion"`
}

// Alternative is a rejected option.
type Alternative struct {
	Description    string `json:"description"`
	ReasonRejected string `json:"reason_rejected"`
}

// Outcome records how a decision turned out.
type Outcome struct {
	Success   bool      `json:"success"`
	Feedback  string    `json:"feedback,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision is one persisted record.
type Decision struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	SessionID    string         `json:"session_id,omitempty"`
	Project      string         `json:"project,omitempty"`
	Category     Category       `json:"category"`
	Description  string         `json:"description"`
	Reasoning    Reasoning      `json:"reasoning"`
	Confidence   float64        `json:"confidence"`
	Alternatives []Alternative  `json:"alternatives,omitempty"`
	Outcome      *Outcome       `json:"outcome,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// DecisionParams feeds RecordDecision.
type DecisionParams struct {
	SessionID    string
	Project      string
	Category     Category
	Description  string
	Reasoning    Reasoning
	Confidence   float64
	Alternatives []Alternative
	Metadata     map[string]any
}

// Filter narrows ListDecisions. Zero fields are ignored.
type Filter struct {
	Project  string
	Category Category
	FromDate time.Time
	ToDate   time.Time
	Limit    int
}

// Pattern is one category's aggregate.
type Pattern struct {
	Category       Category `json:"category"`
	Count          int      `json:"count"`
	AvgConfidence  float64  `json:"avg_confidence"`
	SuccessRate    float64  `json:"success_rate"`
	Representative string   `json:"representative"`
}

const ddl = `
CREATE TABLE IF NOT EXISTS decisions (
	id                TEXT PRIMARY KEY,
	ts                TEXT NOT NULL,
	session_id        TEXT,
	project           TEXT,
	category          TEXT NOT NULL,
	description       TEXT NOT NULL,
	confidence        REAL NOT NULL,
	reasoning_json    TEXT NOT NULL,
	alternatives_json TEXT,
	metadata_json     TEXT,
	outcome_json      TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_project ON decisions(project);
CREATE INDEX IF NOT EXISTS idx_decisions_category ON decisions(category);
`

// Store is the sqlite-backed decision log.
type Store struct {
	db     storage.Database
	clock  clockwork.Clock
	logger *observability.Logger
}

// NewStore ensures the schema and returns the store.
func NewStore(db storage.Database, clock clockwork.Clock, logger *observability.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("buddhi needs a database")
	}
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	if err := db.Exec(context.Background(), ddl); err != nil {
		return nil, fmt.Errorf("buddhi ddl: %w", err)
	}
	return &Store{db: db, clock: clock, logger: logger.Named("buddhi")}, nil
}

// RecordDecision validates and inserts a decision. The outcome starts
// empty.
func (s *Store) RecordDecision(ctx context.Context, params DecisionParams) (*Decision, error) {
	if !validCategories[params.Category] {
		return nil, fmt.Errorf("unknown decision category %q", params.Category)
	}
	if params.Confidence < 0 || params.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0, 1]", params.Confidence)
	}
	if err := validateReasoning(params.Reasoning); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Description) == "" {
		return nil, fmt.Errorf("decision description is empty")
	}

	now := s.clock.Now()
	decision := &Decision{
		ID:           ids.New("bud", params.Description+now.UTC().Format(time.RFC3339Nano)),
		Timestamp:    now,
		SessionID:    params.SessionID,
		Project:      params.Project,
		Category:     params.Category,
		Description:  params.Description,
		Reasoning:    params.Reasoning,
		Confidence:   params.Confidence,
		Alternatives: params.Alternatives,
		Metadata:     params.Metadata,
	}

	reasoning, _ := json.Marshal(decision.Reasoning)
	alternatives, _ := json.Marshal(decision.Alternatives)
	metadata, _ := json.Marshal(decision.Metadata)
	_, err := s.db.Run(ctx,
		`INSERT INTO decisions (id, ts, session_id, project, category, description, confidence, reasoning_json, alternatives_json, metadata_json, outcome_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		decision.ID, now.UTC().Format(time.RFC3339Nano), decision.SessionID, decision.Project,
		string(decision.Category), decision.Description, decision.Confidence,
		string(reasoning), string(alternatives), string(metadata))
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	s.logger.Debug(ctx, "decision recorded", "id", decision.ID, "category", decision.Category)
	return decision, nil
}

func validateReasoning(r Reasoning) error {
	parts := map[string]string{
		"thesis":      r.Thesis,
		"reason":      r.Reason,
		"example":     r.Example,
		"application": r.Application,
		"conclusion":  r.Conclusion,
	}
	for name, value := range parts {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("reasoning %s is empty", name)
		}
	}
	return nil
}

// RecordOutcome attaches an outcome to an existing decision.
func (s *Store) RecordOutcome(ctx context.Context, id string, outcome Outcome) error {
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = s.clock.Now()
	}
	data, _ := json.Marshal(outcome)
	affected, err := s.db.Run(ctx, `UPDATE decisions SET outcome_json = ? WHERE id = ?`, string(data), id)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("decision %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// GetDecision loads one decision by id.
func (s *Store) GetDecision(ctx context.Context, id string) (*Decision, error) {
	row, err := s.db.Get(ctx, `SELECT * FROM decisions WHERE id = ?`, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("decision %s: %w", id, storage.ErrNotFound)
		}
		return nil, err
	}
	return decodeRow(row)
}

// ListDecisions returns matching decisions, newest first. The limit
// defaults to and is capped at DefaultListLimit.
func (s *Store) ListDecisions(ctx context.Context, filter Filter) ([]*Decision, error) {
	return s.listDecisions(ctx, filter, true)
}

// listDecisions backs both the capped public listing and the uncapped
// aggregation queries.
func (s *Store) listDecisions(ctx context.Context, filter Filter, capped bool) ([]*Decision, error) {
	query := `SELECT * FROM decisions WHERE 1=1`
	var args []any
	if filter.Project != "" {
		query += ` AND project = ?`
		args = append(args, filter.Project)
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if !filter.FromDate.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, filter.FromDate.UTC().Format(time.RFC3339Nano))
	}
	if !filter.ToDate.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, filter.ToDate.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY ts DESC`
	if capped {
		limit := filter.Limit
		if limit <= 0 || limit > DefaultListLimit {
			limit = DefaultListLimit
		}
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.All(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]*Decision, 0, len(rows))
	for _, row := range rows {
		decision, err := decodeRow(row)
		if err != nil {
			s.logger.Warn(ctx, "skipping corrupt decision row", "error", err)
			continue
		}
		out = append(out, decision)
	}
	return out, nil
}

// ExplainDecision renders the reasoning chain as a readable syllogism.
func (s *Store) ExplainDecision(ctx context.Context, id string) (string, error) {
	d, err := s.GetDecision(ctx, id)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Decision %s (%s, confidence %.2f)\n", d.ID, d.Category, d.Confidence)
	fmt.Fprintf(&b, "%s\n\n", d.Description)
	fmt.Fprintf(&b, "  Thesis:      %s\n", d.Reasoning.Thesis)
	fmt.Fprintf(&b, "  Reason:      %s\n", d.Reasoning.Reason)
	fmt.Fprintf(&b, "  Example:     %s\n", d.Reasoning.Example)
	fmt.Fprintf(&b, "  Application: %s\n", d.Reasoning.Application)
	fmt.Fprintf(&b, "  Conclusion:  %s\n", d.Reasoning.Conclusion)
	if len(d.Alternatives) > 0 {
		b.WriteString("\nAlternatives considered:\n")
		for _, alt := range d.Alternatives {
			fmt.Fprintf(&b, "  - %s (rejected: %s)\n", alt.Description, alt.ReasonRejected)
		}
	}
	if d.Outcome != nil {
		verdict := "failure"
		if d.Outcome.Success {
			verdict = "success"
		}
		fmt.Fprintf(&b, "\nOutcome: %s", verdict)
		if d.Outcome.Feedback != "" {
			fmt.Fprintf(&b, " - %s", d.Outcome.Feedback)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// DecisionPatterns aggregates a project's decisions by category, sorted
// by count descending.
func (s *Store) DecisionPatterns(ctx context.Context, project string) ([]Pattern, error) {
	// Aggregates cover the full history, not the capped listing window.
	decisions, err := s.listDecisions(ctx, Filter{Project: project}, false)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		count          int
		confidenceSum  float64
		outcomes       int
		successes      int
		representative string
	}
	buckets := make(map[Category]*bucket)
	for _, d := range decisions {
		b := buckets[d.Category]
		if b == nil {
			b = &bucket{}
			buckets[d.Category] = b
		}
		b.count++
		b.confidenceSum += d.Confidence
		// Decisions arrive newest first; keep the newest description.
		if b.representative == "" {
			b.representative = d.Description
		}
		if d.Outcome != nil {
			b.outcomes++
			if d.Outcome.Success {
				b.successes++
			}
		}
	}

	out := make([]Pattern, 0, len(buckets))
	for category, b := range buckets {
		rate := 0.0
		if b.outcomes > 0 {
			rate = round3(float64(b.successes) / float64(b.outcomes))
		}
		out = append(out, Pattern{
			Category:       category,
			Count:          b.count,
			AvgConfidence:  round3(b.confidenceSum / float64(b.count)),
			SuccessRate:    rate,
			Representative: b.representative,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// SuccessRate aggregates outcome success for one category across all
// projects. Decisions without outcomes are excluded; no outcomes means 0.
func (s *Store) SuccessRate(ctx context.Context, category Category) (float64, error) {
	rows, err := s.db.All(ctx, `SELECT outcome_json FROM decisions WHERE category = ? AND outcome_json IS NOT NULL`, string(category))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	successes := 0
	for _, row := range rows {
		var outcome Outcome
		if err := json.Unmarshal([]byte(row.AsString("outcome_json")), &outcome); err != nil {
			continue
		}
		if outcome.Success {
			successes++
		}
	}
	return round3(float64(successes) / float64(len(rows))), nil
}

func decodeRow(row storage.Row) (*Decision, error) {
	ts, err := time.Parse(time.RFC3339Nano, row.AsString("ts"))
	if err != nil {
		return nil, fmt.Errorf("decision timestamp: %w", err)
	}
	d := &Decision{
		ID:          row.AsString("id"),
		Timestamp:   ts,
		SessionID:   row.AsString("session_id"),
		Project:     row.AsString("project"),
		Category:    Category(row.AsString("category")),
		Description: row.AsString("description"),
		Confidence:  row.AsFloat("confidence"),
	}
	if err := json.Unmarshal([]byte(row.AsString("reasoning_json")), &d.Reasoning); err != nil {
		return nil, fmt.Errorf("decision reasoning: %w", err)
	}
	if raw := row.AsString("alternatives_json"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &d.Alternatives); err != nil {
			return nil, fmt.Errorf("decision alternatives: %w", err)
		}
	}
	if raw := row.AsString("metadata_json"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &d.Metadata); err != nil {
			return nil, fmt.Errorf("decision metadata: %w", err)
		}
	}
	if raw := row.AsString("outcome_json"); raw != "" && raw != "null" {
		var outcome Outcome
		if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
			return nil, fmt.Errorf("decision outcome: %w", err)
		}
		d.Outcome = &outcome
	}
	return d, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
