package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/layer-3/pgpgate/core"
	"github.com/layer-3/pgpgate/internal/metrics"
	"github.com/layer-3/pgpgate/ports"
)

// SessionRegistry maps each identity to its single live connection.
//
// The lock only guards the map. Sends happen after it is released, so a
// slow or dead peer never stalls other connections. Delivery is best-effort:
// a failed send is logged and treated as "not connected" for that call.
type SessionRegistry struct {
	mu    sync.Mutex
	conns map[string]ports.Conn

	logger   *slog.Logger
	metrics  *metrics.Metrics
	eventPub ports.EventPublisher

	closeSuperseded  bool
	evictOnFailure   bool
	announcePresence bool
}

// RegistryOption configures a SessionRegistry
type RegistryOption func(*SessionRegistry)

// WithCloseSuperseded closes the previous handle when an identity reconnects.
func WithCloseSuperseded(enabled bool) RegistryOption {
	return func(r *SessionRegistry) { r.closeSuperseded = enabled }
}

// WithEvictOnFailure drops a handle from the registry when a send to it fails.
func WithEvictOnFailure(enabled bool) RegistryOption {
	return func(r *SessionRegistry) { r.evictOnFailure = enabled }
}

// WithPresence broadcasts joined/left notices to other connected identities
// and, when an event publisher is set, publishes them as presence events.
func WithPresence(enabled bool) RegistryOption {
	return func(r *SessionRegistry) { r.announcePresence = enabled }
}

func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *SessionRegistry) { r.logger = logger }
}

func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *SessionRegistry) { r.metrics = m }
}

// WithEventPublisher sets where presence events go. Only used with WithPresence.
func WithEventPublisher(eventPub ports.EventPublisher) RegistryOption {
	return func(r *SessionRegistry) { r.eventPub = eventPub }
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry(opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		conns:  make(map[string]ports.Conn),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers conn for identity. A previous handle is superseded.
// It reports whether identity was not connected before.
func (r *SessionRegistry) Connect(ctx context.Context, identity string, conn ports.Conn) bool {
	r.mu.Lock()
	previous, replaced := r.conns[identity]
	r.conns[identity] = conn
	count := len(r.conns)
	r.mu.Unlock()

	r.metrics.ActiveSessions(count)

	if replaced && previous != conn {
		r.logger.Info("session superseded", "identity", identity)
		if r.closeSuperseded {
			if err := previous.Close(); err != nil {
				r.logger.Debug("closing superseded connection", "identity", identity, "error", err)
			}
		}
		return false
	}
	if replaced {
		return false
	}

	r.logger.Info("session connected", "identity", identity)
	r.presence(ctx, identity, core.PresenceJoined)
	return true
}

// Disconnect removes the identity's handle if present.
func (r *SessionRegistry) Disconnect(identity string) {
	r.mu.Lock()
	_, ok := r.conns[identity]
	delete(r.conns, identity)
	count := len(r.conns)
	r.mu.Unlock()

	if ok {
		r.left(identity, count)
	}
}

// Release removes identity only while conn is still its registered handle.
// Teardown of a superseded connection must not unregister its replacement.
func (r *SessionRegistry) Release(identity string, conn ports.Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[identity]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, identity)
	count := len(r.conns)
	r.mu.Unlock()

	r.left(identity, count)
	return true
}

// Evict removes identity and closes its handle.
func (r *SessionRegistry) Evict(identity string) bool {
	r.mu.Lock()
	conn, ok := r.conns[identity]
	delete(r.conns, identity)
	count := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := conn.Close(); err != nil {
		r.logger.Debug("closing evicted connection", "identity", identity, "error", err)
	}
	r.left(identity, count)
	return true
}

// RouteDirect delivers payload to recipient tagged with the sender, and
// echoes it to sender tagged with the recipient. Each side is independent.
func (r *SessionRegistry) RouteDirect(ctx context.Context, payload core.Payload, sender, recipient string) {
	r.mu.Lock()
	recipientConn := r.conns[recipient]
	senderConn := r.conns[sender]
	r.mu.Unlock()

	r.deliver(ctx, recipient, recipientConn, payload.With("sender", sender))
	r.deliver(ctx, sender, senderConn, payload.With("recipient", recipient))
}

// Announce sends payload to every connected identity except one.
func (r *SessionRegistry) Announce(ctx context.Context, payload core.Payload, except string) {
	type target struct {
		identity string
		conn     ports.Conn
	}

	r.mu.Lock()
	targets := make([]target, 0, len(r.conns))
	for identity, conn := range r.conns {
		if identity != except {
			targets = append(targets, target{identity, conn})
		}
	}
	r.mu.Unlock()

	for _, t := range targets {
		r.deliver(ctx, t.identity, t.conn, payload)
	}
}

// Connected reports whether identity has a live handle.
func (r *SessionRegistry) Connected(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[identity]
	return ok
}

// Identities returns the connected identities in sorted order.
func (r *SessionRegistry) Identities() []string {
	r.mu.Lock()
	identities := make([]string, 0, len(r.conns))
	for identity := range r.conns {
		identities = append(identities, identity)
	}
	r.mu.Unlock()

	sort.Strings(identities)
	return identities
}

func (r *SessionRegistry) deliver(ctx context.Context, identity string, conn ports.Conn, payload core.Payload) {
	if conn == nil {
		r.metrics.Delivery(metrics.DeliveryAbsent)
		return
	}

	if err := conn.Send(ctx, payload); err != nil {
		r.metrics.Delivery(metrics.DeliveryFailed)
		r.logger.Warn("message delivery failed", "identity", identity,
			"error", fmt.Errorf("%w: %v", core.ErrChannelDelivery, err))
		if r.evictOnFailure && r.Release(identity, conn) {
			_ = conn.Close()
		}
		return
	}

	r.metrics.Delivery(metrics.DeliverySent)
}

func (r *SessionRegistry) left(identity string, count int) {
	r.metrics.ActiveSessions(count)
	r.logger.Info("session disconnected", "identity", identity)
	r.presence(context.Background(), identity, core.PresenceLeft)
}

func (r *SessionRegistry) presence(ctx context.Context, identity, event string) {
	if !r.announcePresence {
		return
	}

	r.Announce(ctx, core.PresenceNotice(event, identity), identity)
	if r.eventPub == nil {
		return
	}
	if err := r.eventPub.PublishPresence(ctx, identity, event); err != nil {
		r.logger.Warn("failed to publish presence event", "identity", identity, "event", event, "error", err)
	}
}
