package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
)

// MemoryStoreInMem is the process-local MemoryStore.
type MemoryStoreInMem struct {
	mu      sync.Mutex
	entries map[string]map[string]string // scope.String() -> key -> content
	scopes  map[string]Scope
	clock   clockwork.Clock
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStoreInMem {
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	return &MemoryStoreInMem{
		entries: make(map[string]map[string]string),
		scopes:  make(map[string]Scope),
		clock:   clock,
	}
}

func (m *MemoryStoreInMem) Get(_ context.Context, scope Scope, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.entries[scope.String()]
	content, ok := bucket[key]
	if !ok {
		return "", fmt.Errorf("memory %s/%s: %w", scope, key, ErrNotFound)
	}
	return content, nil
}

func (m *MemoryStoreInMem) Update(_ context.Context, scope Scope, key, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketLocked(scope)[key] = content
	return nil
}

func (m *MemoryStoreInMem) Append(_ context.Context, scope Scope, key, entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.bucketLocked(scope)
	stamped := fmt.Sprintf("[%s] %s", m.clock.Now().UTC().Format("2006-01-02T15:04:05Z"), entry)
	if existing := bucket[key]; existing != "" {
		bucket[key] = existing + "\n" + stamped
	} else {
		bucket[key] = stamped
	}
	return nil
}

func (m *MemoryStoreInMem) Delete(_ context.Context, scope Scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.entries[scope.String()]
	if _, ok := bucket[key]; !ok {
		return fmt.Errorf("memory %s/%s: %w", scope, key, ErrNotFound)
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(m.entries, scope.String())
		delete(m.scopes, scope.String())
	}
	return nil
}

func (m *MemoryStoreInMem) ListScopes(_ context.Context) ([]Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.scopes))
	for name := range m.scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Scope, 0, len(names))
	for _, name := range names {
		out = append(out, m.scopes[name])
	}
	return out, nil
}

// Search scores entries by query-term overlap and returns the best hits.
func (m *MemoryStoreInMem) Search(_ context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []SearchHit
	for scopeName, bucket := range m.entries {
		for key, content := range bucket {
			lower := strings.ToLower(content)
			matched := 0
			for _, term := range terms {
				if strings.Contains(lower, term) || strings.Contains(strings.ToLower(key), term) {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			hits = append(hits, SearchHit{
				Scope:   m.scopes[scopeName],
				Key:     key,
				Content: content,
				Score:   float64(matched) / float64(len(terms)),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStoreInMem) bucketLocked(scope Scope) map[string]string {
	name := scope.String()
	bucket, ok := m.entries[name]
	if !ok {
		bucket = make(map[string]string)
		m.entries[name] = bucket
		m.scopes[name] = scope
	}
	return bucket
}
