package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/layer-3/pgpgate/core"
	"github.com/layer-3/pgpgate/service"
)

const (
	defaultWriteTimeout = 10 * time.Second
	maxFrameSize        = 64 << 10
)

// ChatHandler serves the duplex chat endpoint for authenticated identities
type ChatHandler struct {
	registry     *service.SessionRegistry
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewChatHandler creates a chat handler. The upgrader keeps gorilla's
// same-origin check since the endpoint is authenticated by cookie.
func NewChatHandler(registry *service.SessionRegistry, writeTimeout time.Duration, logger *slog.Logger) *ChatHandler {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &ChatHandler{
		registry:     registry,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Serve upgrades the request and routes frames until the connection ends
func (h *ChatHandler) Serve(c *gin.Context) {
	identity := c.GetString(identityKey)
	if identity == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not logged in"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", "identity", identity, "error", err)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	ctx := c.Request.Context()
	conn := newWSConn(ws, h.writeTimeout)

	h.registry.Connect(ctx, identity, conn)
	defer func() {
		h.registry.Release(identity, conn)
		_ = conn.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "identity", identity, "error", err)
			}
			return
		}

		var envelope core.InboundEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			h.logger.Info("closing connection on malformed frame", "identity", identity, "error", err)
			conn.closeWith(websocket.CloseUnsupportedData, "malformed frame")
			return
		}

		payload, err := core.NewPayload(envelope.Message)
		if err != nil {
			h.logger.Info("closing connection on malformed message", "identity", identity, "error", err)
			conn.closeWith(websocket.CloseUnsupportedData, "malformed message")
			return
		}

		if envelope.TargetUser == "" {
			h.logger.Debug("dropping frame without target", "identity", identity)
			continue
		}

		h.registry.RouteDirect(ctx, payload, identity, envelope.TargetUser)
	}
}

// wsConn serializes writes to a gorilla connection, which allows only one
// concurrent writer.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) Send(ctx context.Context, payload core.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return c.ws.WriteJSON(payload)
}

func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

func (c *wsConn) closeWith(code int, text string) error {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
