package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pgpgate/core"
	"github.com/layer-3/pgpgate/service"
)

const (
	identityKey   = "identity"
	credentialKey = "credential"
)

// SessionMiddleware validates the session cookie (or a Bearer token) and
// stores the authenticated identity in the context
func SessionMiddleware(authService *service.AuthService, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c, cookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not logged in"})
			return
		}

		credential, err := authService.ValidateCredential(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
			case errors.Is(err, core.ErrTokenInvalidated), errors.Is(err, core.ErrInvalidToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid session"})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate session"})
			}
			return
		}

		c.Set(identityKey, credential.Identity)
		c.Set(credentialKey, credential)

		c.Next()
	}
}

// RequestLogger logs every request once it has been served
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func sessionToken(c *gin.Context, cookieName string) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return ""
}
