package ports

import "context"

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogout(ctx context.Context, identity string, tokenID string) error
	PublishPresence(ctx context.Context, identity string, event string) error
}
