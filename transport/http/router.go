package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pgpgate/internal/metrics"
	"github.com/layer-3/pgpgate/service"
)

// RouterConfig carries the optional pieces of the HTTP surface
type RouterConfig struct {
	Cookie       CookieConfig
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, registry *service.SessionRegistry, cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie = DefaultCookieConfig()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Logger))

	handlers := NewAuthHandlers(authService, registry, cfg.Cookie, cfg.Logger)
	chat := NewChatHandler(registry, cfg.WriteTimeout, cfg.Logger)
	requireSession := SessionMiddleware(authService, cfg.Cookie.Name)

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.GET("/challenge", handlers.Challenge)
		auth.POST("/login", handlers.Login)
		auth.POST("/logout", handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(requireSession)
	{
		api.GET("/me", handlers.Me)
	}

	router.GET("/chat/ws", requireSession, chat.Serve)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	return router
}
