package provider

import (
	"context"
	"sync"
)

// Scripted is a provider that replays canned event scripts. It backs tests
// for the agent loop, resilience composition, and routing without touching a
// real backend. Each call to Stream consumes the next script in order; the
// final script repeats once exhausted.
type Scripted struct {
	name string

	mu      sync.Mutex
	scripts [][]Event
	calls   int

	// Errs, when set for call i, makes Stream itself fail before any event.
	Errs map[int]error
}

// NewScripted creates a scripted provider with the given name and scripts.
func NewScripted(name string, scripts ...[]Event) *Scripted {
	return &Scripted{name: name, scripts: scripts}
}

// Name returns the provider name.
func (s *Scripted) Name() string { return s.name }

// Calls returns the number of Stream invocations so far.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Stream replays the next script. Events are delivered in order; the channel
// closes after the terminal event.
func (s *Scripted) Stream(ctx context.Context, req *Request) (<-chan Event, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	if err, ok := s.Errs[call]; ok && err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var script []Event
	if len(s.scripts) > 0 {
		idx := call
		if idx >= len(s.scripts) {
			idx = len(s.scripts) - 1
		}
		script = s.scripts[idx]
	}
	s.mu.Unlock()

	events := make(chan Event, len(script)+1)
	go func() {
		defer close(events)
		for _, ev := range script {
			select {
			case <-ctx.Done():
				events <- Event{Type: EventError, Err: ctx.Err()}
				return
			case events <- ev:
			}
			if ev.Type == EventDone || ev.Type == EventError {
				return
			}
		}
	}()
	return events, nil
}
