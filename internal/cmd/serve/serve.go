package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/config"
	registrycache "github.com/chirino/keyvalue-service/internal/registry/cache"
	registrycompletion "github.com/chirino/keyvalue-service/internal/registry/completion"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/keyvalue-service/internal/plugin/cache/infinispan"
	_ "github.com/chirino/keyvalue-service/internal/plugin/cache/local"
	_ "github.com/chirino/keyvalue-service/internal/plugin/cache/noop"
	_ "github.com/chirino/keyvalue-service/internal/plugin/cache/redis"
	_ "github.com/chirino/keyvalue-service/internal/plugin/completion/disabled"
	_ "github.com/chirino/keyvalue-service/internal/plugin/completion/openai"
	_ "github.com/chirino/keyvalue-service/internal/plugin/route/auth"
	_ "github.com/chirino/keyvalue-service/internal/plugin/route/messages"
	_ "github.com/chirino/keyvalue-service/internal/plugin/route/records"
	_ "github.com/chirino/keyvalue-service/internal/plugin/route/system"
	_ "github.com/chirino/keyvalue-service/internal/plugin/route/users"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/mongo"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/postgres"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the key-value service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	server := flagGroup("Server:")
	listener := flagGroup("Network Listener:")
	mgmt := flagGroup("Management Network Listener:")
	db := flagGroup("Database:")
	cache := flagGroup("Cache:")
	completion := flagGroup("Completion:")
	index := flagGroup("Key Index:")
	authz := flagGroup("Authorization:")
	cors := flagGroup("CORS:")
	monitoring := flagGroup("Monitoring:")
	return []cli.Flag{
		server.str("tls-cert-file", &cfg.Listener.TLSCertFile, "TLS certificate file for single-port TLS mode"),
		server.str("tls-key-file", &cfg.Listener.TLSKeyFile, "TLS private key file for single-port TLS mode"),
		server.integer("read-header-timeout-seconds", readHeaderTimeoutSecs, "HTTP read header timeout in seconds"),
		server.boolean("management-access-log", &cfg.ManagementAccessLog, "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)"),

		listener.integer("port", &cfg.Listener.Port, "HTTP server port"),
		listener.boolean("plain-text", &cfg.Listener.EnablePlainText, "Enable plaintext HTTP/1.1 + h2c"),
		listener.boolean("tls", &cfg.Listener.EnableTLS, "Enable TLS HTTP/1.1 + HTTP/2"),

		mgmt.integer("management-port", &cfg.ManagementListener.Port, "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port"),
		mgmt.boolean("management-plain-text", &cfg.ManagementListener.EnablePlainText, "Enable plaintext HTTP for management server"),
		mgmt.boolean("management-tls", &cfg.ManagementListener.EnableTLS, "Enable TLS for management server"),

		db.str("db-kind", &cfg.DatastoreType, "Backend store ("+strings.Join(registrystore.Names(), "|")+")"),
		required(db.str("db-url", &cfg.DBURL, "Database connection URL (a file path or :memory: for sqlite)")),
		db.str("db-name", &cfg.DBName, "Database name (mongo only)"),
		db.integer("db-max-open-conns", &cfg.DBMaxOpenConns, "Maximum number of open database connections"),
		db.integer("db-max-idle-conns", &cfg.DBMaxIdleConns, "Maximum number of idle database connections"),

		cache.str("cache-kind", &cfg.CacheType, "Thread cache backend ("+strings.Join(registrycache.Names(), "|")+")"),
		cache.str("redis-hosts", &cfg.RedisURL, "Redis connection URL"),
		cache.str("infinispan-host", &cfg.InfinispanHost, "Infinispan RESP host:port (e.g. localhost:11222)"),
		cache.str("infinispan-username", &cfg.InfinispanUsername, "Infinispan username"),
		cache.str("infinispan-password", &cfg.InfinispanPassword, "Infinispan password"),

		completion.str("completion-kind", &cfg.CompletionType, "Completion provider ("+strings.Join(registrycompletion.Names(), "|")+")"),
		completion.str("completion-base-url", &cfg.CompletionBaseURL, "OpenAI-compatible API base URL"),
		completion.str("completion-api-key", &cfg.CompletionAPIKey, "API key for the completion endpoint", "KEYVALUE_SERVICE_OPENAI_API_KEY", "OPENAI_API_KEY"),
		completion.str("completion-alt-base-url", &cfg.CompletionAltBaseURL, "Alternate API base URL for models matching --completion-alt-model-match"),
		completion.str("completion-alt-api-key", &cfg.CompletionAltAPIKey, "API key for the alternate completion endpoint"),
		completion.duration("completion-timeout", &cfg.CompletionTimeout, "Upper bound on a single upstream completion call"),
		completion.str("default-model", &cfg.DefaultModel, "Model used by regenerate when the request names none"),

		index.boolean("key-index-allow-regex", &cfg.KeyIndexAllowRegex, "Treat list prefixes as anchored regular expressions instead of literals"),

		required(authz.str("jwt-secret", &cfg.JWTSecret, "HMAC secret used to sign and verify access tokens", "JWT_SECRET")),
		authz.duration("token-ttl", &cfg.TokenTTL, "Lifetime of issued access tokens"),
		authz.str("roles-admin-users", &cfg.AdminUsers, "Comma-separated usernames granted admin permissions regardless of user type"),
		authz.str("policy-file", &cfg.PolicyFile, "Rego file replacing the built-in authorization policy"),
		authz.str("oidc-issuer", &cfg.OIDCIssuer, "OIDC issuer URL (accepts OIDC bearer tokens in addition to local tokens)"),
		authz.str("oidc-discovery-url", &cfg.OIDCDiscoveryURL, "OIDC discovery URL (internal URL when issuer is not directly reachable)"),

		cors.boolean("cors-enabled", &cfg.CORSEnabled, "Answer cross-origin requests from browsers"),
		cors.str("cors-origins", &cfg.CORSOrigins, "Comma-separated allowed origins; empty or * allows any origin"),

		monitoring.str("metrics-labels", &cfg.MetricsLabels, "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion."),
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

// flagGroup builds flags of one help category. Every flag reads
// KEYVALUE_SERVICE_<NAME> plus any extra variables given, and shows the
// destination's current value as its default.
type flagGroup string

func envVars(name string, aliases ...string) cli.ValueSourceChain {
	key := "KEYVALUE_SERVICE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return cli.EnvVars(append([]string{key}, aliases...)...)
}

func (g flagGroup) str(name string, dest *string, usage string, aliases ...string) *cli.StringFlag {
	return &cli.StringFlag{Name: name, Category: string(g), Sources: envVars(name, aliases...), Destination: dest, Value: *dest, Usage: usage}
}

func (g flagGroup) integer(name string, dest *int, usage string) *cli.IntFlag {
	return &cli.IntFlag{Name: name, Category: string(g), Sources: envVars(name), Destination: dest, Value: *dest, Usage: usage}
}

func (g flagGroup) boolean(name string, dest *bool, usage string) *cli.BoolFlag {
	return &cli.BoolFlag{Name: name, Category: string(g), Sources: envVars(name), Destination: dest, Value: *dest, Usage: usage}
}

func (g flagGroup) duration(name string, dest *time.Duration, usage string) *cli.DurationFlag {
	return &cli.DurationFlag{Name: name, Category: string(g), Sources: envVars(name), Destination: dest, Value: *dest, Usage: usage}
}

func required(f *cli.StringFlag) *cli.StringFlag {
	f.Required = true
	return f
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
