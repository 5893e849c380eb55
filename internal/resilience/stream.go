package resilience

import (
	"context"

	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/provider"
)

// StreamerConfig configures a resilient streamer.
type StreamerConfig struct {
	Retry   RetryConfig
	Circuit CircuitConfig
	Bucket  BucketConfig
	Queue   QueueConfig

	// Priority orders this streamer's requests in the queue and the
	// rate limiter.
	Priority int
}

// DefaultStreamerConfig returns the default streamer configuration.
func DefaultStreamerConfig() StreamerConfig {
	return StreamerConfig{
		Retry:   DefaultRetryConfig(),
		Circuit: DefaultCircuitConfig(),
		Bucket:  DefaultBucketConfig(),
		Queue:   DefaultQueueConfig(),
	}
}

// Streamer wraps a provider with queue dispatch, rate-limit admission, a
// circuit gate, and a retry loop. Composition order per request:
// queue -> bucket -> circuit -> retry -> provider stream.
type Streamer struct {
	provider provider.Provider
	config   StreamerConfig
	queue    *RequestQueue
	breaker  *CircuitBreaker
	bucket   *TokenBucket
	logger   *observability.Logger
}

// NewStreamer creates a resilient streamer around a provider.
func NewStreamer(p provider.Provider, config StreamerConfig, logger *observability.Logger) *Streamer {
	config.Retry = config.Retry.sanitize()
	return &Streamer{
		provider: p,
		config:   config,
		queue:    NewRequestQueue(config.Queue),
		breaker:  NewCircuitBreaker(config.Circuit, nil),
		bucket:   NewTokenBucket(config.Bucket, nil),
		logger:   logger.Named("resilience"),
	}
}

// Breaker exposes the circuit breaker for health surfaces.
func (s *Streamer) Breaker() *CircuitBreaker { return s.breaker }

// Queue exposes the dispatch queue for health surfaces.
func (s *Streamer) Queue() *RequestQueue { return s.queue }

// Stream delivers provider events with resilience applied. Failed attempts
// that produced no content are retried transparently; the final stream's
// usage reflects only the successful call. Terminal failures open the
// circuit and surface as the stream's error event.
func (s *Streamer) Stream(ctx context.Context, req *provider.Request) (<-chan provider.Event, error) {
	if err := s.queue.Acquire(ctx, s.config.Priority); err != nil {
		return nil, err
	}
	if err := s.bucket.Acquire(ctx, 1, s.config.Priority); err != nil {
		s.queue.Release()
		return nil, err
	}

	out := make(chan provider.Event, 16)
	go func() {
		defer s.queue.Release()
		defer close(out)

		var lastErr error
		for attempt := 0; attempt <= s.config.Retry.MaxRetries; attempt++ {
			if err := s.breaker.Allow(); err != nil {
				out <- provider.Event{Type: provider.EventError, Err: err}
				return
			}

			delivered, err := s.attempt(ctx, req, out)
			if err == nil {
				s.breaker.RecordSuccess()
				return
			}

			s.breaker.RecordFailure()
			lastErr = err

			// Retrying after content was forwarded would duplicate deltas.
			if delivered || !provider.Retryable(err) || attempt == s.config.Retry.MaxRetries {
				out <- provider.Event{Type: provider.EventError, Err: err}
				return
			}

			delay := s.config.Retry.Delay(attempt, err)
			s.logger.Warn(ctx, "provider stream failed, retrying",
				"provider", s.provider.Name(), "attempt", attempt+1, "delay", delay.String(), "error", err)
			if err := sleep(ctx, delay); err != nil {
				out <- provider.Event{Type: provider.EventError, Err: err}
				return
			}
		}

		out <- provider.Event{Type: provider.EventError, Err: lastErr}
	}()

	return out, nil
}

// attempt runs one provider stream, forwarding events to out. It reports
// whether any content event was forwarded and the terminal error, if any.
// The start event is withheld until the first content event so a failed
// first attempt stays invisible to the consumer.
func (s *Streamer) attempt(ctx context.Context, req *provider.Request, out chan<- provider.Event) (delivered bool, err error) {
	events, err := s.provider.Stream(ctx, req)
	if err != nil {
		return false, err
	}

	var pendingStart *provider.Event
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if delivered {
					return true, provider.NewStreamError(provider.KindConnection, nil)
				}
				return false, provider.NewStreamError(provider.KindConnection, nil)
			}
			switch ev.Type {
			case provider.EventStart:
				pending := ev
				pendingStart = &pending
			case provider.EventError:
				return delivered, ev.Err
			case provider.EventDone:
				if pendingStart != nil {
					out <- *pendingStart
				}
				out <- ev
				return true, nil
			default:
				if pendingStart != nil {
					out <- *pendingStart
					pendingStart = nil
				}
				out <- ev
				delivered = true
			}
		}
	}
}
