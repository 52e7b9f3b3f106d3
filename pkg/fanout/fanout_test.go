package fanout

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/gateway/pkg/gateway"
)

type dispatched struct {
	target gateway.Target
	event  gateway.Event
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatched
	err    error
}

func (d *recordingDispatcher) OnApplicationEvent(ctx context.Context, target gateway.Target, ev gateway.Event) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatched{target, ev})
	if d.err != nil {
		return 0, d.err
	}
	return 1, nil
}

func (d *recordingDispatcher) snapshot() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatched(nil), d.events...)
}

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func startSource(t *testing.T, client *redis.Client, d Dispatcher) {
	t.Helper()
	src := NewSource(client, "", d, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	select {
	case <-src.Ready():
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not ready")
	}
}

func TestPublishDeliversToSources(t *testing.T) {
	_, client := newClient(t)
	a, b := &recordingDispatcher{}, &recordingDispatcher{}
	startSource(t, client, a)
	startSource(t, client, b)

	pub := NewPublisher(client, "")
	ev := gateway.Event{Type: "MESSAGE_CREATE", Data: json.RawMessage(`{"text":"hi"}`)}
	require.NoError(t, pub.Publish(context.Background(), gateway.ToUser("alice"), ev))

	for _, d := range []*recordingDispatcher{a, b} {
		require.Eventually(t, func() bool { return len(d.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
		got := d.snapshot()[0]
		assert.Equal(t, gateway.ToUser("alice"), got.target)
		assert.Equal(t, "MESSAGE_CREATE", got.event.Type)
		assert.JSONEq(t, `{"text":"hi"}`, string(got.event.Data))
	}
}

func TestPublishValidates(t *testing.T) {
	_, client := newClient(t)
	pub := NewPublisher(client, "")
	ctx := context.Background()

	err := pub.Publish(ctx, gateway.ToAll(), gateway.Event{Type: "READY"})
	assert.ErrorIs(t, err, gateway.ErrInvalidEvent)

	err = pub.Publish(ctx, gateway.Target{Kind: gateway.TargetSession}, gateway.Event{Type: "X"})
	assert.Error(t, err)
}

func TestPublishRedisDown(t *testing.T) {
	mr, client := newClient(t)
	mr.Close()

	err := NewPublisher(client, "").Publish(context.Background(), gateway.ToAll(), gateway.Event{Type: "X"})
	assert.Error(t, err)
}

func TestSourceSkipsBadMessages(t *testing.T) {
	mr, client := newClient(t)
	d := &recordingDispatcher{err: gateway.ErrSessionNotFound}
	startSource(t, client, d)

	mr.Publish(DefaultChannel, "not json")
	require.NoError(t, NewPublisher(client, "").Publish(context.Background(), gateway.ToSession("elsewhere"), gateway.Event{Type: "X"}))

	require.Eventually(t, func() bool { return len(d.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, gateway.ToSession("elsewhere"), d.snapshot()[0].target)
}
