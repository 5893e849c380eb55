package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// MemorySessionStore keeps sessions in process. Suitable for tests and
// single-run tooling.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	clock    clockwork.Clock
}

func NewMemorySessionStore(clock clockwork.Clock) *MemorySessionStore {
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	return &MemorySessionStore{sessions: make(map[string]*models.Session), clock: clock}
}

func (s *MemorySessionStore) Create(_ context.Context, opts CreateSessionOptions) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &models.Session{
		ID:        uuid.NewString(),
		Project:   opts.Project,
		CreatedAt: s.clock.Now(),
		Metadata:  map[string]any{},
	}
	if opts.Agent != "" {
		session.Metadata["agent"] = opts.Agent
	}
	if opts.Title != "" {
		session.Metadata["title"] = opts.Title
	}
	s.sessions[session.ID] = session
	return cloneSession(session), nil
}

func (s *MemorySessionStore) List(_ context.Context, project string) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if project == "" || session.Project == project {
			out = append(out, cloneSession(session))
		}
	}
	sortSessions(out)
	return out, nil
}

func (s *MemorySessionStore) ListByDate(_ context.Context, date string) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if session.CreatedAt.UTC().Format("2006-01-02") == date {
			out = append(out, cloneSession(session))
		}
	}
	sortSessions(out)
	return out, nil
}

func (s *MemorySessionStore) Load(_ context.Context, id, project string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || (project != "" && session.Project != project) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return cloneSession(session), nil
}

func (s *MemorySessionStore) Save(_ context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *MemorySessionStore) AddTurn(_ context.Context, sessionID string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.clock.Now()
	}
	session.Turns = append(session.Turns, turn)
	return nil
}

func (s *MemorySessionStore) TurnsWithTimestamps(_ context.Context, sessionID string) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	out := make([]models.Turn, len(session.Turns))
	copy(out, session.Turns)
	return out, nil
}

func cloneSession(s *models.Session) *models.Session {
	out := *s
	out.Turns = make([]models.Turn, len(s.Turns))
	copy(out.Turns, s.Turns)
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func sortSessions(sessions []*models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
