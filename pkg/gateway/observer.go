package gateway

import (
	"context"

	"github.com/vango-dev/gateway/pkg/protocol"
)

// Observer receives gateway lifecycle notifications, typically for metrics.
// Methods are called synchronously and must not block.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed(code protocol.CloseCode)
	FrameReceived(kind protocol.Kind)
	SessionIdentified()
	SessionResumed(replayed int)
	SessionPurged()
	EventDispatched(eventType string, sessions int)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened() {}
func (nopObserver) ConnectionClosed(protocol.CloseCode) {}
func (nopObserver) FrameReceived(protocol.Kind) {}
func (nopObserver) SessionIdentified() {}
func (nopObserver) SessionResumed(int) {}
func (nopObserver) SessionPurged() {}
func (nopObserver) EventDispatched(string, int) {}

// Presence tracks whether a session's claim on shared state is still valid.
// A session whose claim is gone cannot be resumed.
type Presence interface {
	Claim(ctx context.Context, sessionID, userID string) error
	Refresh(ctx context.Context, sessionID string) error
	Release(ctx context.Context, sessionID string) error
	Valid(ctx context.Context, sessionID string) bool
}

// EventSink accepts application events for delivery.
type EventSink interface {
	Publish(ctx context.Context, target Target, ev Event) error
}
