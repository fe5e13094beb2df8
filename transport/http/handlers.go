package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pgpgate/core"
	"github.com/layer-3/pgpgate/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	registry    *service.SessionRegistry
	cookie      CookieConfig
	logger      *slog.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, registry *service.SessionRegistry,
	cookie CookieConfig, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		registry:    registry,
		cookie:      cookie,
		logger:      logger,
	}
}

// Challenge hands out a fresh challenge for signing
func (h *AuthHandlers) Challenge(c *gin.Context) {
	challenge, err := h.authService.BeginChallenge(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to create challenge", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"challenge_id": challenge.ID,
		"challenge":    challenge.Plaintext,
		"expires_in":   int(h.authService.ChallengeTTL().Seconds()),
	})
}

// Login verifies a clearsigned challenge and sets the session cookie
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		PublicKey   string `form:"public_key" json:"public_key" binding:"required"`
		Signature   string `form:"signature" json:"signature" binding:"required"`
		ChallengeID string `form:"challenge_id" json:"challenge_id" binding:"required"`
	}

	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	identity, err := h.authService.CompleteLogin(ctx, req.PublicKey, req.Signature, req.ChallengeID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrChallengeExpired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Challenge expired"})
		case errors.Is(err, core.ErrVerificationFailed):
			body := gin.H{"error": "Verification Failed", "challenge_id": req.ChallengeID}
			if plaintext, err := h.authService.PendingChallenge(ctx, req.ChallengeID); err == nil {
				body["challenge"] = plaintext
			}
			c.JSON(http.StatusUnauthorized, body)
		default:
			h.logger.Error("login failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		}
		return
	}

	token, credential, err := h.authService.IssueCredential(identity)
	if err != nil {
		h.logger.Error("failed to issue session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	h.cookie.set(c, token, int(credential.ExpiresAt.Sub(credential.IssuedAt).Seconds()))
	c.Redirect(http.StatusSeeOther, h.cookie.LoginRedirect)
}

// Logout revokes the session cookie and drops the live connection
func (h *AuthHandlers) Logout(c *gin.Context) {
	token := sessionToken(c, h.cookie.Name)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Not logged in"})
		return
	}

	credential, err := h.authService.Logout(c.Request.Context(), token)
	h.cookie.clear(c)

	if err != nil {
		switch {
		case errors.Is(err, core.ErrTokenExpired):
			// Even if expired, we'll consider logout successful
			c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
		case errors.Is(err, core.ErrInvalidToken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session"})
		default:
			h.logger.Error("logout failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		}
		return
	}

	h.registry.Evict(credential.Identity)

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the authenticated identity
func (h *AuthHandlers) Me(c *gin.Context) {
	identity := c.GetString(identityKey)
	if identity == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User not found in context"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identity": identity,
		"online":   h.registry.Connected(identity),
	})
}
