// Package storage holds the runtime's persistence contracts and the
// in-memory and sqlite implementations the core runs against.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/chitragupta/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// CreateSessionOptions names a new session.
type CreateSessionOptions struct {
	Project string
	Agent   string
	Title   string
}

// SessionStore persists conversation sessions as append-only logs.
type SessionStore interface {
	Create(ctx context.Context, opts CreateSessionOptions) (*models.Session, error)
	List(ctx context.Context, project string) ([]*models.Session, error)
	// ListByDate matches sessions created on a UTC date in 2006-01-02 form.
	ListByDate(ctx context.Context, date string) ([]*models.Session, error)
	Load(ctx context.Context, id, project string) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
	AddTurn(ctx context.Context, sessionID string, turn models.Turn) error
	TurnsWithTimestamps(ctx context.Context, sessionID string) ([]models.Turn, error)
}

// ScopeKind partitions memory.
type ScopeKind string

const (
	ScopeGlobal  ScopeKind = "global"
	ScopeProject ScopeKind = "project"
	ScopeAgent   ScopeKind = "agent"
	ScopeSession ScopeKind = "session"
)

// Scope addresses one memory partition. Global scopes carry no key.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	Key  string    `json:"key,omitempty"`
}

func GlobalScope() Scope             { return Scope{Kind: ScopeGlobal} }
func ProjectScope(path string) Scope { return Scope{Kind: ScopeProject, Key: path} }
func AgentScope(id string) Scope     { return Scope{Kind: ScopeAgent, Key: id} }
func SessionScope(id string) Scope   { return Scope{Kind: ScopeSession, Key: id} }

func (s Scope) String() string {
	if s.Kind == ScopeGlobal {
		return string(ScopeGlobal)
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.Key)
}

// SearchHit is one memory search result.
type SearchHit struct {
	Scope   Scope   `json:"scope"`
	Key     string  `json:"key"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// MemoryStore is scoped key/value memory with append and search.
type MemoryStore interface {
	Get(ctx context.Context, scope Scope, key string) (string, error)
	// Update overwrites the entry.
	Update(ctx context.Context, scope Scope, key, content string) error
	// Append adds a timestamped entry line.
	Append(ctx context.Context, scope Scope, key, entry string) error
	Delete(ctx context.Context, scope Scope, key string) error
	ListScopes(ctx context.Context) ([]Scope, error)
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// EmbeddingProvider turns text into vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
	MaxTokens() int
}

// Row is one database result row keyed by column name.
type Row map[string]any

// Database is the prepared-statement surface the persistence layers use.
type Database interface {
	// Exec runs a statement batch, typically DDL.
	Exec(ctx context.Context, script string) error
	// Run executes one statement and reports affected rows.
	Run(ctx context.Context, query string, args ...any) (int64, error)
	// Get returns the first row or ErrNotFound.
	Get(ctx context.Context, query string, args ...any) (Row, error)
	All(ctx context.Context, query string, args ...any) ([]Row, error)
	Prepare(ctx context.Context, query string) (*Statement, error)
	Close() error
}
