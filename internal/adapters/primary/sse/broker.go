// Package sse pushes stored notifications to their recipients over
// server-sent events.
package sse

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
	"github.com/lorrc/marketplace-realtime/internal/infrastructure/metrics"
)

const defaultBufferSize = 32

// Subscription is one open stream for a user.
type Subscription struct {
	UserID uuid.UUID
	events chan *domain.Notification
	done   chan struct{}
	once   sync.Once
}

// Events delivers notifications published after the subscription was opened.
func (s *Subscription) Events() <-chan *domain.Notification { return s.events }

// Done is closed when the broker drops the subscription, either because it was
// unsubscribed or because the consumer fell behind. The client reconnects with
// Last-Event-ID and the gap is replayed from storage.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Broker fans notifications out to every open stream of a recipient.
type Broker struct {
	mu         sync.RWMutex
	subs       map[uuid.UUID]map[*Subscription]struct{}
	bufferSize int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

var _ ports.NotificationPublisher = (*Broker)(nil)

func NewBroker(bufferSize int, m *metrics.Metrics, logger *slog.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broker{
		subs:       make(map[uuid.UUID]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger.With("component", "sse_broker"),
		metrics:    m,
	}
}

func (b *Broker) Subscribe(userID uuid.UUID) *Subscription {
	sub := &Subscription{
		UserID: userID,
		events: make(chan *domain.Notification, b.bufferSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*Subscription]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	b.mu.Unlock()

	b.metrics.SSESubscriberDelta(1)
	b.logger.Debug("stream subscribed", "user_id", userID)
	return sub
}

// Unsubscribe is idempotent.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	userSubs, ok := b.subs[sub.UserID]
	if ok {
		if _, exists := userSubs[sub]; !exists {
			ok = false
		}
		delete(userSubs, sub)
		if len(userSubs) == 0 {
			delete(b.subs, sub.UserID)
		}
	}
	b.mu.Unlock()

	sub.close()
	if ok {
		b.metrics.SSESubscriberDelta(-1)
		b.logger.Debug("stream unsubscribed", "user_id", sub.UserID)
	}
}

// Publish never blocks. A subscriber whose buffer is full is dropped.
func (b *Broker) Publish(userID uuid.UUID, n *domain.Notification) bool {
	var (
		delivered bool
		slow      []*Subscription
	)

	b.mu.RLock()
	for sub := range b.subs[userID] {
		select {
		case sub.events <- n:
			delivered = true
			b.metrics.SSEEvent("delivered")
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.logger.Warn("dropping slow notification stream", "user_id", userID)
		b.metrics.SSEEvent("dropped")
		b.Unsubscribe(sub)
	}
	return delivered
}

// SubscriberCount returns the number of open streams for the user.
func (b *Broker) SubscriberCount(userID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// StreamCount returns the number of open streams across all users.
func (b *Broker) StreamCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, userSubs := range b.subs {
		n += len(userSubs)
	}
	return n
}

// Close drops every subscription; used on shutdown so handlers return.
func (b *Broker) Close() {
	b.mu.Lock()
	all := b.subs
	b.subs = make(map[uuid.UUID]map[*Subscription]struct{})
	b.mu.Unlock()

	for _, userSubs := range all {
		for sub := range userSubs {
			sub.close()
			b.metrics.SSESubscriberDelta(-1)
		}
	}
}
