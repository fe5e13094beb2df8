package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })
	return pubSub
}

func TestWatermillPublisher_PublishesPresence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := newTestPubSub(t)
	messages, err := pubSub.Subscribe(ctx, PresenceTopic)
	require.NoError(t, err)

	pub := NewWatermillPublisher(pubSub)
	require.NoError(t, pub.PublishPresence(ctx, "FP-A", "joined"))

	select {
	case msg := <-messages:
		msg.Ack()
		var event PresenceEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &event))
		assert.Equal(t, PresenceEvent{Identity: "FP-A", Event: "joined"}, event)
	case <-ctx.Done():
		t.Fatal("presence event not received")
	}
}

func TestLogoutListener_DeliversIdentity(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := newTestPubSub(t)

	var (
		mu  sync.Mutex
		got []string
	)
	received := make(chan struct{}, 1)
	listener := NewLogoutListener(pubSub, func(identity string) {
		mu.Lock()
		got = append(got, identity)
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
	}, nil)

	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	pub := NewWatermillPublisher(pubSub)
	// Subscription is established asynchronously; retry until the listener sees it.
	require.Eventually(t, func() bool {
		if err := pubSub.Publish(LogoutTopic, message.NewMessage(watermill.NewUUID(), []byte("{not json"))); err != nil {
			return false
		}
		if err := pub.PublishLogout(ctx, "FP-A", "token-1"); err != nil {
			return false
		}
		select {
		case <-received:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, "FP-A", got[0])
}
