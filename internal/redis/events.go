package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/metrics"
)

const (
	// ChannelSanctionApplied carries sanction-applied events.
	ChannelSanctionApplied = "sanctions:applied"
	// ChannelSanctionLifted carries sanction-lifted events.
	ChannelSanctionLifted = "sanctions:lifted"
)

// SanctionAppliedEvent is the wire form of a sanction-applied broadcast.
type SanctionAppliedEvent struct {
	UserID          string    `json:"user_id"`
	Kind            string    `json:"kind"`
	StartAt         time.Time `json:"start_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	Unbounded       bool      `json:"unbounded"`
}

// SanctionLiftedEvent is the wire form of a sanction-lifted broadcast.
type SanctionLiftedEvent struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// EventPublisher broadcasts sanction lifecycle events over Redis pub/sub so
// other instances and staff tooling see them without polling the database.
// It implements domain.EventPublisher.
type EventPublisher struct {
	redis *redis.Client
}

// NewEventPublisher creates an event publisher on the shared client.
func NewEventPublisher(redis *redis.Client) *EventPublisher {
	return &EventPublisher{redis: redis}
}

func (p *EventPublisher) PublishSanctionApplied(ctx context.Context, s *domain.Sanction) error {
	event := SanctionAppliedEvent{
		UserID:    s.UserID,
		Kind:      string(s.Kind),
		StartAt:   s.StartAt,
		Unbounded: s.Unbounded,
	}
	if !s.Unbounded {
		event.DurationSeconds = int64(s.Duration / time.Second)
	}
	return p.publish(ctx, ChannelSanctionApplied, event)
}

func (p *EventPublisher) PublishSanctionLifted(ctx context.Context, userID string, kind domain.SanctionKind, reason string) error {
	return p.publish(ctx, ChannelSanctionLifted, SanctionLiftedEvent{
		UserID: userID,
		Kind:   string(kind),
		Reason: reason,
	})
}

func (p *EventPublisher) publish(ctx context.Context, channel string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.redis.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	metrics.PubSubMessagesPublished.WithLabelValues(channel).Inc()
	return nil
}

// EventHandler receives decoded sanction events from the listener.
type EventHandler interface {
	HandleSanctionApplied(event SanctionAppliedEvent)
	HandleSanctionLifted(event SanctionLiftedEvent)
}

// EventListener subscribes to the sanction channels and dispatches events to
// a handler. Decode failures are logged and dropped; a bad message from one
// instance must not wedge the subscription.
type EventListener struct {
	redis   *redis.Client
	handler EventHandler
}

// NewEventListener creates a listener dispatching to handler.
func NewEventListener(redis *redis.Client, handler EventHandler) *EventListener {
	return &EventListener{redis: redis, handler: handler}
}

// Start begins listening for sanction events. Blocks until ctx is cancelled.
func (l *EventListener) Start(ctx context.Context) {
	pubsub := l.redis.Subscribe(ctx, ChannelSanctionApplied, ChannelSanctionLifted)
	defer func() {
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			l.dispatch(msg.Channel, msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (l *EventListener) dispatch(channel, payload string) {
	metrics.PubSubMessagesReceived.WithLabelValues(channel).Inc()

	switch channel {
	case ChannelSanctionApplied:
		var event SanctionAppliedEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			slog.Warn("Invalid sanction applied event", "payload", payload, "error", err)
			return
		}
		l.handler.HandleSanctionApplied(event)
	case ChannelSanctionLifted:
		var event SanctionLiftedEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			slog.Warn("Invalid sanction lifted event", "payload", payload, "error", err)
			return
		}
		l.handler.HandleSanctionLifted(event)
	}
}
