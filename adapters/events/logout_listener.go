package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// LogoutListener consumes logout events and hands each identity to a callback.
type LogoutListener struct {
	subscriber message.Subscriber
	onLogout   func(identity string)
	logger     *slog.Logger
}

// NewLogoutListener creates a listener; a nil logger uses slog.Default().
func NewLogoutListener(subscriber message.Subscriber, onLogout func(identity string), logger *slog.Logger) *LogoutListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogoutListener{
		subscriber: subscriber,
		onLogout:   onLogout,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled or the subscription closes.
func (l *LogoutListener) Run(ctx context.Context) error {
	messages, err := l.subscriber.Subscribe(ctx, LogoutTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", LogoutTopic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			l.handle(msg)
		}
	}
}

func (l *LogoutListener) handle(msg *message.Message) {
	// Malformed events are acked so they are not redelivered forever.
	defer msg.Ack()

	var event LogoutEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		l.logger.Warn("dropping malformed logout event", "uuid", msg.UUID, "error", err)
		return
	}
	if event.Identity == "" {
		return
	}

	l.onLogout(event.Identity)
}
