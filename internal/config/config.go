package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the key-value service.
type Config struct {
	// Database
	DBURL  string
	DBName string

	// Datastore backend type
	DatastoreType string // "mongo", "postgres" or "sqlite"

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cache backend type
	CacheType string // "none", "redis", "infinispan" or "local"

	// Redis
	RedisURL string

	// Infinispan (RESP protocol, reached through go-redis)
	InfinispanHost           string // host:port (e.g. "localhost:11222")
	InfinispanUsername       string
	InfinispanPassword       string
	InfinispanStartupTimeout time.Duration

	// Thread cache TTL.
	CacheThreadTTL time.Duration

	// Maximum cost (bytes) of the in-process cache.
	CacheLocalMaxCost int64

	// Completion provider type
	CompletionType string // "openai" or "disabled"

	// Primary OpenAI-compatible endpoint.
	CompletionBaseURL   string
	CompletionAPIKey    string
	CompletionMaxTokens int

	// Alternate endpoint used for models whose name contains CompletionAltModelMatch.
	CompletionAltBaseURL    string
	CompletionAltAPIKey     string
	CompletionAltMaxTokens  int
	CompletionAltModelMatch string

	CompletionTimeout     time.Duration
	CompletionTemperature float64

	// Model used by regenerate when the caller names none.
	DefaultModel string

	// Key index
	KeyIndexAllowRegex   bool
	KeyIndexDefaultLimit int

	// Security
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
	AdminUsers string

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string

	// Optional Rego policy file overriding the built-in authorization policy.
	PolicyFile string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly
	// provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for /health, /ready and /metrics.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBName:                   "key_value_system",
		DatastoreType:            "mongo",
		DatastoreMigrateAtStart:  true,
		DBMaxOpenConns:           25,
		DBMaxIdleConns:           5,
		CacheType:                "none",
		CacheThreadTTL:           10 * time.Minute,
		InfinispanStartupTimeout: 30 * time.Second,
		CacheLocalMaxCost:        64 * 1024 * 1024,
		CompletionType:           "openai",
		CompletionBaseURL:        "https://api.openai.com/v1",
		CompletionMaxTokens:      5000,
		CompletionAltMaxTokens:   500000,
		CompletionAltModelMatch:  "gemini",
		CompletionTimeout:        300 * time.Second,
		CompletionTemperature:    0.85,
		DefaultModel:             "gpt-4o-mini",
		KeyIndexDefaultLimit:     10,
		TokenTTL:                 30 * time.Minute,
		BcryptCost:               10,
		MetricsLabels:            "service=keyvalue-service",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         false,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		MaxBodySize:  1024 * 1024,
		DrainTimeout: 30,
	}
}

// AltRoute reports whether model should be sent to the alternate completion endpoint.
func (c *Config) AltRoute(model string) bool {
	if c == nil {
		return false
	}
	match := strings.ToLower(strings.TrimSpace(c.CompletionAltModelMatch))
	if match == "" || strings.TrimSpace(c.CompletionAltBaseURL) == "" {
		return false
	}
	return strings.Contains(strings.ToLower(model), match)
}

// IsAdminUser reports whether username is listed in AdminUsers.
func (c *Config) IsAdminUser(username string) bool {
	if c == nil || username == "" {
		return false
	}
	for _, part := range strings.Split(c.AdminUsers, ",") {
		if strings.TrimSpace(part) == username {
			return true
		}
	}
	return false
}
