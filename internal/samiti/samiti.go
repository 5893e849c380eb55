// Package samiti is the cross-agent pub/sub hub. Channels carry bounded,
// TTL-governed message history; subscribed listeners see broadcasts live.
package samiti

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/chitragupta/internal/clockwork"
	"github.com/haasonsaas/chitragupta/internal/ids"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/ring"
	"github.com/haasonsaas/chitragupta/pkg/models"
)

// Hard ceilings. Configured values are clamped into these.
const (
	MaxChannels       = 100
	MaxSubscribers    = 50
	MaxHistory        = 10_000
	MaxMessageSize    = 1 << 20
	DefaultTTL        = 24 * time.Hour
	DefaultMaxHistory = 1000
)

// DefaultChannels are created on every new hub.
var DefaultChannels = []string{"#security", "#performance", "#correctness", "#style", "#alerts"}

// ErrDestroyed is returned by every operation after Destroy.
var ErrDestroyed = fmt.Errorf("samiti hub destroyed")

// Message is one broadcast entry. TTL of 0 means the message never expires.
// The 1 MiB size ceiling covers content plus the encoded data payload.
type Message struct {
	ID         string          `json:"id"`
	Channel    string          `json:"channel"`
	Sender     string          `json:"sender"`
	Category   string          `json:"category,omitempty"`
	Content    string          `json:"content"`
	Data       map[string]any  `json:"data,omitempty"`
	References []string        `json:"references,omitempty"`
	Severity   models.Severity `json:"severity"`
	Timestamp  time.Time       `json:"timestamp"`
	TTL        time.Duration   `json:"ttl"`
}

// Expired reports whether the message is past its TTL at now.
func (m *Message) Expired(now time.Time) bool {
	return m.TTL > 0 && now.After(m.Timestamp.Add(m.TTL))
}

// Draft is the caller-supplied part of a broadcast. A nil TTL takes the
// 24h default; an explicit zero TTL never expires.
type Draft struct {
	Sender     string
	Category   string
	Content    string
	Data       map[string]any
	References []string
	Severity   models.Severity
	TTL        *time.Duration
}

// TTL is a convenience for building Draft TTL pointers.
func TTL(d time.Duration) *time.Duration { return &d }

// Listener receives broadcasts live. Listeners run isolated; one panicking
// does not skip the rest.
type Listener func(Message)

// Filter narrows a Listen call.
type Filter struct {
	Severity models.Severity
	Since    time.Time
	Limit    int
}

// ChannelInfo is a channel's public snapshot.
type ChannelInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Subscribers int       `json:"subscribers"`
	Messages    int       `json:"messages"`
	MaxHistory  int       `json:"max_history"`
	CreatedAt   time.Time `json:"created_at"`
}

type channel struct {
	name        string
	description string
	createdAt   time.Time
	history     *ring.Ring[Message]
	subscribers map[string]Listener
}

// Hub owns all channels. Safe for concurrent use.
type Hub struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	logger    *observability.Logger
	metrics   *observability.Metrics
	channels  map[string]*channel
	destroyed bool
}

// NewHub creates a hub with the default channels. Clock may be nil for the
// system clock; metrics may be nil.
func NewHub(clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics) *Hub {
	if clock == nil {
		clock = clockwork.NewSystem()
	}
	h := &Hub{
		clock:    clock,
		logger:   logger.Named("samiti"),
		metrics:  metrics,
		channels: make(map[string]*channel),
	}
	for _, name := range DefaultChannels {
		h.channels[name] = h.newChannel(name, "", DefaultMaxHistory)
	}
	h.setChannelGauge()
	return h
}

func (h *Hub) newChannel(name, description string, maxHistory int) *channel {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if maxHistory > MaxHistory {
		maxHistory = MaxHistory
	}
	return &channel{
		name:        name,
		description: description,
		createdAt:   h.clock.Now(),
		history:     ring.New[Message](maxHistory),
		subscribers: make(map[string]Listener),
	}
}

func (h *Hub) setChannelGauge() {
	if h.metrics != nil {
		h.metrics.ActiveChannels.Set(float64(len(h.channels)))
	}
}

// CreateChannel adds a channel. Fails on duplicate name or when the hub's
// channel cap is reached. maxHistory <= 0 takes the default.
func (h *Hub) CreateChannel(name, description string, maxHistory int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrDestroyed
	}
	if name == "" {
		return fmt.Errorf("channel name is empty")
	}
	if _, exists := h.channels[name]; exists {
		return fmt.Errorf("channel %q already exists", name)
	}
	if len(h.channels) >= MaxChannels {
		return fmt.Errorf("channel cap %d reached", MaxChannels)
	}
	h.channels[name] = h.newChannel(name, description, maxHistory)
	h.setChannelGauge()
	h.logger.Debug(context.Background(), "channel created", "channel", name)
	return nil
}

// Subscribe registers an agent on a channel. Idempotent per agent id; a
// re-subscribe replaces the listener. Listener may be nil for history-only
// subscribers.
func (h *Hub) Subscribe(channelName, agentID string, fn Listener) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrDestroyed
	}
	ch, ok := h.channels[channelName]
	if !ok {
		return fmt.Errorf("unknown channel %q", channelName)
	}
	if _, already := ch.subscribers[agentID]; !already && len(ch.subscribers) >= MaxSubscribers {
		return fmt.Errorf("channel %q subscriber cap %d reached", channelName, MaxSubscribers)
	}
	ch.subscribers[agentID] = fn
	return nil
}

// Unsubscribe removes an agent from a channel. Unknown subscriptions are a
// no-op.
func (h *Hub) Unsubscribe(channelName, agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[channelName]; ok {
		delete(ch.subscribers, agentID)
	}
}

// Broadcast appends a message to a channel and delivers it to live
// listeners. The hub assigns id, timestamp, and default TTL.
func (h *Hub) Broadcast(channelName string, draft Draft) (Message, error) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return Message{}, ErrDestroyed
	}
	ch, ok := h.channels[channelName]
	if !ok {
		h.mu.Unlock()
		return Message{}, fmt.Errorf("unknown channel %q", channelName)
	}
	size := len(draft.Content)
	if len(draft.Data) > 0 {
		encoded, err := json.Marshal(draft.Data)
		if err != nil {
			h.mu.Unlock()
			return Message{}, fmt.Errorf("message data: %w", err)
		}
		size += len(encoded)
	}
	if size > MaxMessageSize {
		h.mu.Unlock()
		return Message{}, fmt.Errorf("message exceeds %d bytes", MaxMessageSize)
	}

	now := h.clock.Now()
	ttl := DefaultTTL
	if draft.TTL != nil {
		ttl = *draft.TTL
	}
	severity := draft.Severity
	if severity == "" {
		severity = models.SeverityInfo
	}
	msg := Message{
		ID: ids.New("sam", fmt.Sprintf("%s|%s|%s|%d",
			channelName, draft.Sender, draft.Content, now.UnixMilli())),
		Channel:    channelName,
		Sender:     draft.Sender,
		Category:   draft.Category,
		Content:    draft.Content,
		Data:       draft.Data,
		References: draft.References,
		Severity:   severity,
		Timestamp:  now,
		TTL:        ttl,
	}
	ch.history.Push(msg)

	listeners := make([]Listener, 0, len(ch.subscribers))
	for _, fn := range ch.subscribers {
		if fn != nil {
			listeners = append(listeners, fn)
		}
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.BroadcastCounter.WithLabelValues(channelName, string(severity)).Inc()
	}
	for _, fn := range listeners {
		deliver(fn, msg)
	}
	return msg, nil
}

// deliver invokes one listener, containing panics.
func deliver(fn Listener, msg Message) {
	defer func() {
		_ = recover()
	}()
	fn(msg)
}

// Listen returns messages most recent first, filtered by severity, since,
// and limit. Expired messages are pruned from the channel first.
func (h *Hub) Listen(channelName string, filter Filter) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, ErrDestroyed
	}
	ch, ok := h.channels[channelName]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", channelName)
	}

	now := h.clock.Now()
	ch.history.Filter(func(m Message) bool { return !m.Expired(now) })

	var out []Message
	for _, msg := range ch.history.Items(0) {
		if filter.Severity != "" && msg.Severity != filter.Severity {
			continue
		}
		if !filter.Since.IsZero() && msg.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, msg)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// History returns up to limit messages oldest first, unfiltered. limit <= 0
// returns everything retained.
func (h *Hub) History(channelName string, limit int) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, ErrDestroyed
	}
	ch, ok := h.channels[channelName]
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", channelName)
	}
	all := ch.history.Oldest()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// PruneExpired removes expired messages across all channels and returns
// how many were dropped.
func (h *Hub) PruneExpired() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return 0, ErrDestroyed
	}
	now := h.clock.Now()
	removed := 0
	for _, ch := range h.channels {
		removed += ch.history.Filter(func(m Message) bool { return !m.Expired(now) })
	}
	return removed, nil
}

// Channels lists channel snapshots.
func (h *Hub) Channels() ([]ChannelInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, ErrDestroyed
	}
	out := make([]ChannelInfo, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ChannelInfo{
			Name:        ch.name,
			Description: ch.description,
			Subscribers: len(ch.subscribers),
			Messages:    ch.history.Len(),
			MaxHistory:  ch.history.Cap(),
			CreatedAt:   ch.createdAt,
		})
	}
	return out, nil
}

// Destroy tears the hub down. Every later operation returns ErrDestroyed.
func (h *Hub) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
	h.channels = nil
	if h.metrics != nil {
		h.metrics.ActiveChannels.Set(0)
	}
}
