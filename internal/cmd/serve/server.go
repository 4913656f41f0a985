package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/keyindex"
	routesystem "github.com/chirino/keyvalue-service/internal/plugin/route/system"
	storemetrics "github.com/chirino/keyvalue-service/internal/plugin/store/metrics"
	registrycache "github.com/chirino/keyvalue-service/internal/registry/cache"
	registrycompletion "github.com/chirino/keyvalue-service/internal/registry/completion"
	registrymigrate "github.com/chirino/keyvalue-service/internal/registry/migrate"
	registryroute "github.com/chirino/keyvalue-service/internal/registry/route"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/relay"
	"github.com/chirino/keyvalue-service/internal/security"
	"github.com/chirino/keyvalue-service/internal/thread"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config     *config.Config
	Store      registrystore.Store
	Router     *gin.Engine
	Running    *RunningServers
	Management *RunningServers
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Management != nil {
		_ = s.Management.Close(ctx)
	}
	err := s.Running.Close(ctx)
	if closeErr := s.Store.Close(ctx); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting key-value service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"completion", cfg.CompletionType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// The thread cache is optional; the service runs uncached when it fails.
	var threadCache registrycache.ThreadCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if threadCache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		threadCache = nil
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	provider, err := loadProvider(ctx, cfg)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	threadOpts := []thread.Option{}
	if threadCache != nil {
		threadOpts = append(threadOpts, thread.WithCache(threadCache, cfg.CacheThreadTTL))
	}
	threads := thread.New(store, threadOpts...)
	index := keyindex.New(store, keyindex.Options{
		AllowRegex:   cfg.KeyIndexAllowRegex,
		DefaultLimit: cfg.KeyIndexDefaultLimit,
	})
	rl := relay.New(threads, provider, relay.Options{
		Timeout:      cfg.CompletionTimeout,
		DefaultModel: cfg.DefaultModel,
	})

	if cfg.JWTSecret == "" {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("--jwt-secret is required")
	}
	issuer := security.NewTokenIssuer(cfg.JWTSecret)
	resolver := security.NewTokenResolver(ctx, cfg, issuer, store)
	authz, err := security.NewAuthorizer(ctx, cfg.PolicyFile)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	auth := security.AuthMiddleware(resolver)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(security.AdminAuditMiddleware("/users"))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	deps := &registryroute.Deps{
		Config:        cfg,
		Store:         store,
		Index:         index,
		Threads:       threads,
		Relay:         rl,
		Authenticator: security.NewAuthenticator(store),
		Issuer:        issuer,
		Authorizer:    authz,
		Auth:          auth,
		TokenTTL:      cfg.TokenTTL,
		Ready: func(ctx context.Context) error {
			_, err := store.ListUsers(ctx, registrystore.Page{Limit: 1})
			return err
		},
	}
	if err := registryroute.Mount(router, registryroute.Main, deps); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	// Management routes get their own engine when a management port is
	// configured and share the API router otherwise.
	var management *RunningServers
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter, registryroute.Management, deps); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		management, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			_ = store.Close(ctx)
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "port", management.Port)
	} else if err := registryroute.Mount(router, registryroute.Management, deps); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	running, err := StartSinglePort(ctx, cfg.Listener, router)
	if err != nil {
		if management != nil {
			_ = management.Close(ctx)
		}
		_ = store.Close(ctx)
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:     cfg,
		Store:      store,
		Router:     router,
		Running:    running,
		Management: management,
	}, nil
}

// loadProvider selects the completion provider. A provider that fails to
// load is replaced by the disabled provider so the rest of the API stays up.
func loadProvider(ctx context.Context, cfg *config.Config) (registrycompletion.Provider, error) {
	loader, err := registrycompletion.Select(cfg.CompletionType)
	if err != nil {
		return nil, err
	}
	provider, err := loader(ctx)
	if err == nil {
		return provider, nil
	}
	log.Warn("Completion provider unavailable; chat is disabled", "completion", cfg.CompletionType, "err", err)
	fallback, selectErr := registrycompletion.Select("disabled")
	if selectErr != nil {
		return nil, err
	}
	return fallback(ctx)
}
