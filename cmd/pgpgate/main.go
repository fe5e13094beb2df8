package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/pgpgate/adapters/events"
	"github.com/layer-3/pgpgate/adapters/store"
	"github.com/layer-3/pgpgate/adapters/tokenizer"
	"github.com/layer-3/pgpgate/adapters/verifier"
	"github.com/layer-3/pgpgate/config"
	"github.com/layer-3/pgpgate/internal/logging"
	"github.com/layer-3/pgpgate/internal/metrics"
	"github.com/layer-3/pgpgate/ports"
	"github.com/layer-3/pgpgate/service"
	"github.com/layer-3/pgpgate/transport/http"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pgpgate:", err)
		os.Exit(1)
	}
}

type backend struct {
	challenges ports.ChallengeStore
	revoked    ports.RevocationStore
	publisher  message.Publisher
	subscriber message.Subscriber
	close      func()
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signKey, err := loadSigningKey(cfg.SigningKeyPath)
	if err != nil {
		return err
	}

	be, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	m := metrics.New()
	eventPub := events.NewWatermillPublisher(be.publisher)

	authService := service.NewAuthService(
		be.challenges,
		verifier.NewOpenPGPVerifier(nil),
		tokenizer.NewJWTTokenizer(signKey),
		be.revoked,
		eventPub,
		service.WithChallengeTTL(cfg.ChallengeTTL),
		service.WithSessionTTL(cfg.SessionTTL),
		service.WithAuthLogger(logger.With("component", "auth")),
		service.WithAuthMetrics(m),
	)

	registry := service.NewSessionRegistry(
		service.WithCloseSuperseded(cfg.CloseSuperseded),
		service.WithEvictOnFailure(cfg.EvictOnFailure),
		service.WithPresence(cfg.AnnouncePresence),
		service.WithEventPublisher(eventPub),
		service.WithRegistryLogger(logger.With("component", "registry")),
		service.WithRegistryMetrics(m),
	)

	// Logouts on any instance drop the identity's connection here too.
	listener := events.NewLogoutListener(be.subscriber, func(identity string) {
		registry.Evict(identity)
	}, logger.With("component", "events"))
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error("logout listener stopped", "error", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	cookie := http.DefaultCookieConfig()
	cookie.Secure = cfg.CookieSecure
	router := http.SetupRouter(authService, registry, http.RouterConfig{
		Cookie:       cookie,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger.With("component", "http"),
		Metrics:      m,
	})

	server := &nethttp.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "store", cfg.Store)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}

func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	wmLogger := watermill.NewSlogLogger(logger.With("component", "watermill"))

	if cfg.Store == config.StoreMemory {
		mem := store.NewMemoryStore()
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		return &backend{
			challenges: mem,
			revoked:    mem,
			publisher:  pubSub,
			subscriber: pubSub,
			close:      func() { _ = pubSub.Close() },
		}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to reach Redis: %w", err)
	}

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}

	// No consumer group: every instance receives every logout.
	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{Client: redisClient}, wmLogger)
	if err != nil {
		_ = publisher.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to create Redis subscriber: %w", err)
	}

	redisStore := store.NewRedisStore(redisClient)
	return &backend{
		challenges: redisStore,
		revoked:    redisStore,
		publisher:  publisher,
		subscriber: subscriber,
		close: func() {
			_ = subscriber.Close()
			_ = publisher.Close()
			_ = redisClient.Close()
		},
	}, nil
}

// loadSigningKey reads a PEM EC key, or generates an ephemeral one so a
// restart invalidates every outstanding session.
func loadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return key, nil
}
