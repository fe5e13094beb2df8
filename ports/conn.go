package ports

import (
	"context"

	"github.com/layer-3/pgpgate/core"
)

// Conn is a live duplex connection owned by the transport layer.
// Send must be safe to call from multiple goroutines. Implementations must
// be comparable (pointer types) so a registry can tell handles apart.
type Conn interface {
	Send(ctx context.Context, payload core.Payload) error
	Close() error
}
