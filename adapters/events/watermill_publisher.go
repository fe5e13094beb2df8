package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	LogoutTopic   = "pgpgate.logout"
	PresenceTopic = "pgpgate.presence"
)

// LogoutEvent represents a logout event
type LogoutEvent struct {
	Identity string `json:"identity"`
	TokenID  string `json:"token_id"`
}

// PresenceEvent is published when an identity connects or leaves
type PresenceEvent struct {
	Identity string `json:"identity"`
	Event    string `json:"event"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, identity string, tokenID string) error {
	return p.publish(ctx, LogoutTopic, tokenID, LogoutEvent{
		Identity: identity,
		TokenID:  tokenID,
	})
}

// PublishPresence publishes a presence event
func (p *WatermillPublisher) PublishPresence(ctx context.Context, identity string, event string) error {
	return p.publish(ctx, PresenceTopic, watermill.NewUUID(), PresenceEvent{
		Identity: identity,
		Event:    event,
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, uuid string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
