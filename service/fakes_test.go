package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/layer-3/pgpgate/core"
)

var errBrokenPipe = errors.New("broken pipe")

type fakeConn struct {
	mu       sync.Mutex
	received []core.Payload
	sendErr  error
	closed   bool
}

func (c *fakeConn) Send(ctx context.Context, payload core.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Received() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.received))
	for _, p := range c.received {
		raw, _ := json.Marshal(p)
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		out = append(out, decoded)
	}
	return out
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakePublisher struct {
	mu       sync.Mutex
	logouts  []string
	presence []string
	err      error
}

func (p *fakePublisher) PublishLogout(ctx context.Context, identity string, tokenID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, identity)
	return p.err
}

func (p *fakePublisher) PublishPresence(ctx context.Context, identity string, event string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presence = append(p.presence, identity+":"+event)
	return p.err
}

// stubVerifier accepts a fixed signature over the expected plaintext.
type stubVerifier struct {
	publicKey string
	identity  string
	calls     int
}

func (v *stubVerifier) Verify(publicKey, signedMessage, expectedPlaintext string) core.Verification {
	v.calls++
	if publicKey != v.publicKey || signedMessage != "signed:"+expectedPlaintext {
		return core.Verification{Err: core.ErrVerificationFailed}
	}
	return core.Verification{Identity: v.identity}
}
