package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Store backends
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds the process settings
type Config struct {
	ListenAddr       string
	RedisURL         string
	Store            string
	ChallengeTTL     time.Duration
	SessionTTL       time.Duration
	WriteTimeout     time.Duration
	SigningKeyPath   string
	LogLevel         string
	LogFormat        string
	CookieSecure     bool
	AnnouncePresence bool
	CloseSuperseded  bool
	EvictOnFailure   bool
}

// Load parses args. Every flag defaults from its environment variable.
func Load(args []string) (*Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookup func(string) (string, bool)) (*Config, error) {
	env := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}

	challengeTTL, err := parseDuration(env("CHALLENGE_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("CHALLENGE_LIFETIME: %w", err)
	}
	sessionTTL, err := parseDuration(env("PGPGATE_SESSION_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("PGPGATE_SESSION_TTL: %w", err)
	}
	cookieSecure, err := strconv.ParseBool(env("PGPGATE_COOKIE_SECURE", "false"))
	if err != nil {
		return nil, fmt.Errorf("PGPGATE_COOKIE_SECURE: %w", err)
	}
	announce, err := strconv.ParseBool(env("PGPGATE_ANNOUNCE_PRESENCE", "false"))
	if err != nil {
		return nil, fmt.Errorf("PGPGATE_ANNOUNCE_PRESENCE: %w", err)
	}
	closeSuperseded, err := strconv.ParseBool(env("PGPGATE_CLOSE_SUPERSEDED", "true"))
	if err != nil {
		return nil, fmt.Errorf("PGPGATE_CLOSE_SUPERSEDED: %w", err)
	}
	evictOnFailure, err := strconv.ParseBool(env("PGPGATE_EVICT_ON_FAILURE", "false"))
	if err != nil {
		return nil, fmt.Errorf("PGPGATE_EVICT_ON_FAILURE: %w", err)
	}
	writeTimeout, err := parseDuration(env("PGPGATE_WRITE_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("PGPGATE_WRITE_TIMEOUT: %w", err)
	}

	cfg := &Config{}
	flags := pflag.NewFlagSet("pgpgate", pflag.ContinueOnError)
	flags.StringVar(&cfg.ListenAddr, "listen", env("PGPGATE_LISTEN", ":9000"), "HTTP listen address")
	flags.StringVar(&cfg.RedisURL, "redis-url", env("REDIS_URL", "redis://localhost:6379/0"), "Redis connection URL")
	flags.StringVar(&cfg.Store, "store", env("PGPGATE_STORE", StoreRedis), "challenge store backend (redis or memory)")
	flags.Var(newDurationValue(&cfg.ChallengeTTL, challengeTTL), "challenge-ttl", "how long an issued challenge stays valid")
	flags.Var(newDurationValue(&cfg.SessionTTL, sessionTTL), "session-ttl", "session cookie lifetime")
	flags.Var(newDurationValue(&cfg.WriteTimeout, writeTimeout), "write-timeout", "per-message websocket write timeout")
	flags.StringVar(&cfg.SigningKeyPath, "signing-key", env("PGPGATE_SIGNING_KEY", ""), "PEM EC private key for session tokens (ephemeral if empty)")
	flags.StringVar(&cfg.LogLevel, "log-level", env("PGPGATE_LOG_LEVEL", "info"), "log level")
	flags.StringVar(&cfg.LogFormat, "log-format", env("PGPGATE_LOG_FORMAT", "json"), "log format (json or text)")
	flags.BoolVar(&cfg.CookieSecure, "cookie-secure", cookieSecure, "mark the session cookie Secure")
	flags.BoolVar(&cfg.AnnouncePresence, "announce-presence", announce, "broadcast join/leave notices")
	flags.BoolVar(&cfg.CloseSuperseded, "close-superseded", closeSuperseded, "close the previous connection when an identity reconnects")
	flags.BoolVar(&cfg.EvictOnFailure, "evict-on-failure", evictOnFailure, "drop a connection from the registry when a send to it fails")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings are usable
func (c *Config) Validate() error {
	if c.ChallengeTTL <= 0 {
		return fmt.Errorf("challenge ttl must be positive, got %s", c.ChallengeTTL)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", c.SessionTTL)
	}
	switch c.Store {
	case StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}

// parseDuration accepts Go durations or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// durationValue is a pflag.Value that parses like parseDuration, so flags and
// environment variables accept the same forms.
type durationValue time.Duration

func newDurationValue(p *time.Duration, value time.Duration) *durationValue {
	*p = value
	return (*durationValue)(p)
}

func (d *durationValue) Set(s string) error {
	v, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = durationValue(v)
	return nil
}

func (d *durationValue) Type() string {
	return "duration"
}

func (d *durationValue) String() string {
	return time.Duration(*d).String()
}
