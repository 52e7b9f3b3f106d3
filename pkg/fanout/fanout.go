// Package fanout spreads application events across gateway instances
// through Redis pub/sub.
//
// Every instance runs a Source that subscribes to the events channel and
// dispatches what it receives to its local gateway. Producers, including
// the POST /events endpoint of any instance, write with a Publisher. An
// event addressed to a session is therefore delivered by whichever
// instance holds that session.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vango-dev/gateway/pkg/gateway"
)

// DefaultChannel is the Redis channel events are published on.
const DefaultChannel = "gateway:events"

// Message is the wire form of a published event.
type Message struct {
	ID     string          `json:"id"`
	Target gateway.Target  `json:"target"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	At     time.Time       `json:"at"`
}

// Dispatcher delivers an event to local sessions. *gateway.Gateway
// implements it.
type Dispatcher interface {
	OnApplicationEvent(ctx context.Context, target gateway.Target, ev gateway.Event) (int, error)
}

// Publisher publishes events to every subscribed instance.
// It implements gateway.EventSink.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

var _ gateway.EventSink = (*Publisher)(nil)

// NewPublisher creates a publisher on client. An empty channel uses
// DefaultChannel.
func NewPublisher(client redis.UniversalClient, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Publish validates ev and publishes it. Delivery is asynchronous, so an
// unknown session is not reported.
func (p *Publisher) Publish(ctx context.Context, target gateway.Target, ev gateway.Event) error {
	if err := gateway.ValidateEvent(target, ev); err != nil {
		return err
	}
	data, err := json.Marshal(Message{
		ID:     uuid.NewString(),
		Target: target,
		Type:   ev.Type,
		Data:   ev.Data,
		At:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("fanout: publish: %w", err)
	}
	return nil
}

// Source subscribes to the events channel and dispatches every message to
// a local Dispatcher.
type Source struct {
	client     redis.UniversalClient
	channel    string
	dispatcher Dispatcher
	logger     *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewSource creates a source. An empty channel uses DefaultChannel and a
// nil logger uses slog.Default().
func NewSource(client redis.UniversalClient, channel string, d Dispatcher, logger *slog.Logger) *Source {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		client:     client,
		channel:    channel,
		dispatcher: d,
		logger:     logger.With("component", "fanout", "channel", channel),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the subscription is active.
func (s *Source) Ready() <-chan struct{} {
	return s.ready
}

// Run dispatches messages until ctx is cancelled or the subscription
// fails.
func (s *Source) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("fanout: subscribe %s: %w", s.channel, err)
	}
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("fanout: subscription closed")
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (s *Source) handle(ctx context.Context, payload []byte) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		s.logger.Warn("dropping malformed message", "error", err)
		return
	}
	n, err := s.dispatcher.OnApplicationEvent(ctx, m.Target, gateway.Event{Type: m.Type, Data: m.Data})
	switch {
	case errors.Is(err, gateway.ErrSessionNotFound):
		// The session lives on another instance.
	case err != nil:
		s.logger.Warn("dispatch failed", "id", m.ID, "type", m.Type, "target", m.Target.String(), "error", err)
	default:
		s.logger.Debug("dispatched", "id", m.ID, "type", m.Type, "target", m.Target.String(), "sessions", n)
	}
}
