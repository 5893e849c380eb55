package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/provider"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

func TestRetryConfig_Delay(t *testing.T) {
	config := RetryConfig{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	if d := config.Delay(0, errors.New("x")); d != 100*time.Millisecond {
		t.Errorf("attempt 0 delay = %v", d)
	}
	if d := config.Delay(1, errors.New("x")); d != 200*time.Millisecond {
		t.Errorf("attempt 1 delay = %v", d)
	}
	// Capped at MaxDelay.
	if d := config.Delay(10, errors.New("x")); d != time.Second {
		t.Errorf("capped delay = %v", d)
	}
}

func TestRetryConfig_Delay_HonorsRetryAfter(t *testing.T) {
	config := RetryConfig{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}
	err := &provider.StreamError{Kind: provider.KindRateLimited, RetryAfter: 3 * time.Second}

	if d := config.Delay(0, err); d != 3*time.Second {
		t.Errorf("delay = %v, want retry-after hint", d)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1700000000, 0))
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 3, OpenTimeout: time.Minute}, clock)

	for i := 0; i < 3; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("call %d rejected: %v", i, err)
		}
		cb.RecordFailure()
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1700000000, 0))
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 1, OpenTimeout: time.Minute}, clock)

	cb.Allow()
	cb.RecordFailure()
	clock.Advance(time.Minute + time.Second)

	// First caller gets the trial.
	if err := cb.Allow(); err != nil {
		t.Fatalf("trial rejected: %v", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}
	// Concurrent callers are rejected while the trial is in flight.
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second caller during trial: %v, want ErrCircuitOpen", err)
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("state after trial success = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1700000000, 0))
	cb := NewCircuitBreaker(CircuitConfig{FailureThreshold: 1, OpenTimeout: time.Second}, clock)

	cb.Allow()
	cb.RecordFailure()
	clock.Advance(2 * time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.State() != CircuitOpen {
		t.Errorf("state = %s, want open after half-open failure", cb.State())
	}
}

func TestTokenBucket_TryAcquire(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1700000000, 0))
	b := NewTokenBucket(BucketConfig{Capacity: 2, RefillPerSecond: 1}, clock)

	if !b.TryAcquire(2) {
		t.Fatal("expected initial capacity available")
	}
	if b.TryAcquire(1) {
		t.Fatal("bucket should be empty")
	}

	clock.Advance(time.Second)
	if !b.TryAcquire(1) {
		t.Error("expected refill after 1s")
	}
}

func TestTokenBucket_AcquireBlocksUntilRefill(t *testing.T) {
	b := NewTokenBucket(BucketConfig{Capacity: 1, RefillPerSecond: 50}, nil)
	if err := b.Acquire(context.Background(), 1, 0); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	start := time.Now()
	if err := b.Acquire(context.Background(), 1, 0); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("second acquire returned too fast: %v", elapsed)
	}
}

func TestTokenBucket_PriorityOrdering(t *testing.T) {
	b := NewTokenBucket(BucketConfig{Capacity: 1, RefillPerSecond: 20}, nil)
	b.TryAcquire(1) // drain

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	acquire := func(name string, priority int) {
		defer wg.Done()
		if err := b.Acquire(context.Background(), 1, priority); err != nil {
			t.Errorf("%s: %v", name, err)
			return
		}
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	wg.Add(1)
	go acquire("low", 1)
	time.Sleep(10 * time.Millisecond)
	wg.Add(1)
	go acquire("high", 10)
	time.Sleep(10 * time.Millisecond)

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "high" {
		t.Errorf("grant order = %v, want high first", order)
	}
}

func TestTokenBucket_QueueFull(t *testing.T) {
	b := NewTokenBucket(BucketConfig{Capacity: 1, RefillPerSecond: 0.001, MaxWaiters: 1}, nil)
	b.TryAcquire(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Acquire(ctx, 1, 0) //nolint:errcheck -- cancelled at test end
	time.Sleep(10 * time.Millisecond)

	if err := b.Acquire(context.Background(), 1, 0); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Acquire = %v, want ErrQueueFull", err)
	}
}

func TestRequestQueue_BoundedConcurrency(t *testing.T) {
	q := NewRequestQueue(QueueConfig{MaxConcurrent: 2, MaxPending: 10})

	var mu sync.Mutex
	running, peak := 0, 0
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), 0, func(ctx context.Context) error {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}

	wg.Wait()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestRequestQueue_PendingCap(t *testing.T) {
	q := NewRequestQueue(QueueConfig{MaxConcurrent: 1, MaxPending: 1})

	release := make(chan struct{})
	go q.Do(context.Background(), 0, func(ctx context.Context) error { //nolint:errcheck
		<-release
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	go q.Do(context.Background(), 0, func(ctx context.Context) error { return nil }) //nolint:errcheck
	time.Sleep(10 * time.Millisecond)

	err := q.Do(context.Background(), 0, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrQueueCapacity) {
		t.Errorf("Do = %v, want ErrQueueCapacity", err)
	}
	close(release)
}

func doneEvent(in, out int64) provider.Event {
	return provider.Event{
		Type:       provider.EventDone,
		StopReason: models.StopEndTurn,
		Usage:      &models.Usage{InputTokens: in, OutputTokens: out},
	}
}

// A provider that fails with 429 + retry-after once, then succeeds. The
// resilient stream delivers the success transparently and the usage reflects
// only the successful call.
func TestStreamer_RetriesRateLimitThenSucceeds(t *testing.T) {
	failing := provider.NewScripted("flaky",
		[]provider.Event{{Type: provider.EventError, Err: &provider.StreamError{
			Kind:       provider.KindRateLimited,
			RetryAfter: 50 * time.Millisecond,
			Cause:      errors.New("429 too many requests"),
		}}},
		[]provider.Event{
			{Type: provider.EventStart, MessageID: "msg-2"},
			{Type: provider.EventText, Text: "recovered"},
			doneEvent(10, 5),
		},
	)

	config := DefaultStreamerConfig()
	config.Retry.Jitter = false
	s := NewStreamer(failing, config, nil)

	start := time.Now()
	events, err := s.Stream(context.Background(), &provider.Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	result, err := provider.Collect(context.Background(), events)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected retry-after wait, elapsed %v", elapsed)
	}
	if result.Text != "recovered" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Usage.InputTokens != 10 || result.Usage.OutputTokens != 5 {
		t.Errorf("usage should reflect only the successful call: %+v", result.Usage)
	}
	if failing.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2", failing.Calls())
	}
}

func TestStreamer_TerminalErrorNotRetried(t *testing.T) {
	p := provider.NewScripted("strict",
		[]provider.Event{{Type: provider.EventError, Err: provider.NewStreamError(provider.KindAuth, errors.New("401"))}},
	)

	s := NewStreamer(p, DefaultStreamerConfig(), nil)
	events, err := s.Stream(context.Background(), &provider.Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	_, err = provider.Collect(context.Background(), events)
	var se *provider.StreamError
	if !errors.As(err, &se) || se.Kind != provider.KindAuth {
		t.Errorf("error = %v, want auth StreamError", err)
	}
	if p.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", p.Calls())
	}
}

func TestStreamer_GivesUpAfterMaxRetries(t *testing.T) {
	p := provider.NewScripted("down",
		[]provider.Event{{Type: provider.EventError, Err: provider.NewStreamError(provider.KindServer, errors.New("503"))}},
	)

	config := DefaultStreamerConfig()
	config.Retry = RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	s := NewStreamer(p, config, nil)

	events, _ := s.Stream(context.Background(), &provider.Request{})
	_, err := provider.Collect(context.Background(), events)
	if err == nil {
		t.Fatal("expected failure")
	}
	if p.Calls() != 3 {
		t.Errorf("provider calls = %d, want 3 (1 + 2 retries)", p.Calls())
	}
}

func TestStreamer_FailuresOpenCircuit(t *testing.T) {
	p := provider.NewScripted("down",
		[]provider.Event{{Type: provider.EventError, Err: provider.NewStreamError(provider.KindServer, errors.New("503"))}},
	)

	config := DefaultStreamerConfig()
	config.Retry = RetryConfig{MaxRetries: 4, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	config.Circuit = CircuitConfig{FailureThreshold: 3, OpenTimeout: time.Hour}
	s := NewStreamer(p, config, nil)

	events, _ := s.Stream(context.Background(), &provider.Request{})
	_, err := provider.Collect(context.Background(), events)
	if err == nil {
		t.Fatal("expected failure")
	}
	if s.Breaker().State() != CircuitOpen {
		t.Errorf("breaker state = %s, want open", s.Breaker().State())
	}
}

// gatedProvider holds its stream open until the gate closes, so tests can
// pin a dispatch slot deterministically.
type gatedProvider struct {
	gate chan struct{}
}

func (g *gatedProvider) Name() string { return "gated" }

func (g *gatedProvider) Stream(ctx context.Context, req *provider.Request) (<-chan provider.Event, error) {
	out := make(chan provider.Event)
	go func() {
		defer close(out)
		<-g.gate
		out <- provider.Event{Type: provider.EventStart, MessageID: "m"}
		out <- provider.Event{Type: provider.EventText, Text: "ok"}
		out <- doneEvent(1, 1)
	}()
	return out, nil
}

func TestStreamer_DispatchesThroughQueue(t *testing.T) {
	g := &gatedProvider{gate: make(chan struct{})}
	config := DefaultStreamerConfig()
	config.Queue = QueueConfig{MaxConcurrent: 1, MaxPending: 1}
	s := NewStreamer(g, config, nil)

	first, err := s.Stream(context.Background(), &provider.Request{})
	if err != nil {
		t.Fatalf("first stream: %v", err)
	}

	// Parks as the single pending entry while the first holds the slot.
	go s.Stream(context.Background(), &provider.Request{}) //nolint:errcheck
	time.Sleep(10 * time.Millisecond)

	if _, err := s.Stream(context.Background(), &provider.Request{}); !errors.Is(err, ErrQueueCapacity) {
		t.Errorf("third stream = %v, want ErrQueueCapacity", err)
	}

	close(g.gate)
	result, err := provider.Collect(context.Background(), first)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if result.Text != "ok" {
		t.Errorf("Text = %q", result.Text)
	}

	time.Sleep(20 * time.Millisecond)
	if active, pending := s.Queue().Stats(); active != 0 || pending != 0 {
		t.Errorf("queue not drained: active=%d pending=%d", active, pending)
	}
}
