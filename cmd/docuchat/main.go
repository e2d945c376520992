package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"docuchat/internal/api"
	"docuchat/internal/auth"
	"docuchat/internal/auth/oidc"
	"docuchat/internal/blob"
	"docuchat/internal/chat"
	"docuchat/internal/config"
	"docuchat/internal/extract"
	"docuchat/internal/observability"
	"docuchat/internal/storage"
)

func main() {
	// Initialize structured logger from environment configuration
	logCfg := observability.ConfigFromEnv()
	logger := observability.NewLogger(logCfg)

	configPath := flag.String("config", os.Getenv("DOCUCHAT_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize Sentry if DSN is provided
	sentryEnabled := false
	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          envOr("APP_VERSION", "dev"),
			TracesSampleRate: cfg.Sentry.SampleRate,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			logger.Info("sentry initialized",
				"environment", cfg.Sentry.Environment,
				"release", envOr("APP_VERSION", "dev"),
			)
			sentryEnabled = true
		}
	}

	ctx := context.Background()

	// Select persistence: PostgreSQL when DATABASE_URL is set, SQLite
	// otherwise.
	var (
		users auth.UserStore
		store storage.Store
	)
	if cfg.Database.URL != "" {
		pgUsers, err := auth.NewPostgresUserStore(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		users = pgUsers
		// Services and documents stay in SQLite alongside; a dedicated
		// postgres Store can be wired here when needed.
		sqliteStore, err := storage.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		store = sqliteStore
		logger.Info("using postgres user store", "document_db", cfg.Database.Path)
	} else {
		sqliteUsers, err := auth.NewSQLiteUserStore(cfg.Database.Path)
		if err != nil {
			logger.Error("failed to open sqlite user store", "error", err)
			os.Exit(1)
		}
		users = sqliteUsers
		sqliteStore, err := storage.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		store = sqliteStore
		logger.Info("using sqlite stores", "path", cfg.Database.Path)
	}

	// OIDC provider discovery.
	provider, err := oidc.NewProvider(ctx, oidc.Config{
		IssuerURL:    cfg.OIDC.IssuerURL,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURL:  cfg.OIDC.RedirectURL,
		Scopes:       cfg.OIDC.Scopes,
	})
	if err != nil {
		logger.Error("oidc provider discovery failed", "error", err, "issuer", cfg.OIDC.IssuerURL)
		os.Exit(1)
	}
	logger.Info("oidc provider configured", "issuer", cfg.OIDC.IssuerURL)

	// Session token service. The backend URL is the issuer, the frontend
	// URL the audience.
	tokens, err := auth.NewTokenService([]byte(cfg.Session.Secret), cfg.Server.BaseURL, cfg.Server.FrontendURL, cfg.Session.Lifetime)
	if err != nil {
		logger.Error("failed to initialize session tokens", "error", err)
		os.Exit(1)
	}

	// Role mapper.
	mapping := make(auth.RoleMapping, len(cfg.OIDC.RoleMapping))
	for group, roleName := range cfg.OIDC.RoleMapping {
		if role := auth.ParseRole(roleName); role != auth.RoleNone {
			mapping[group] = role
		} else {
			logger.Warn("ignoring role mapping with unknown role", "group", group, "role", roleName)
		}
	}
	if len(mapping) == 0 {
		mapping = nil // fall back to the default mapping
	}
	mapper := auth.NewMapper(mapping, auth.ParseRole(cfg.OIDC.DefaultRole), users)

	// Object storage for document bodies (optional).
	var blobs *blob.Client
	blobCfg := blob.ConfigFromEnv()
	if blobCfg.Enabled() {
		blobs, err = blob.NewClient(ctx, blobCfg)
		if err != nil {
			logger.Error("failed to connect to object storage", "error", err)
			os.Exit(1)
		}
		logger.Info("object storage connected", "endpoint", blobCfg.Endpoint, "bucket", blobCfg.Bucket)
	} else {
		logger.Info("object storage disabled (set DOCUCHAT_S3_ENDPOINT to enable); downloads unavailable")
	}

	// LLM chat backend (optional).
	llmCfg := chat.ConfigFromEnv()
	var answerer *chat.Answerer
	llmProvider := chat.NewOpenAIProvider(llmCfg)
	if llmProvider.Available() {
		answerer = chat.NewAnswerer(llmProvider, llmCfg.Model)
		logger.Info("chat enabled", "model", llmCfg.Model, "endpoint", llmCfg.Endpoint)
	} else {
		logger.Info("chat disabled (set DOCUCHAT_LLM_API_KEY to enable)")
	}

	// Initialize metrics
	metricsCfg := observability.MetricsConfigFromEnv()
	var metrics *observability.Metrics
	if metricsCfg.Enabled {
		metrics = observability.NewMetrics(metricsCfg)
		logger.Info("metrics enabled",
			"namespace", metricsCfg.Namespace,
			"version", metricsCfg.Version,
		)
	} else {
		logger.Info("metrics disabled")
	}

	rateCfg := api.DefaultRateLimitConfig()
	if !rateCfg.Enabled() {
		logger.Info("rate limiting disabled")
	} else {
		logger.Info("rate limiting configured",
			"requests_per_second", rateCfg.RequestsPerSecond,
			"burst", rateCfg.Burst,
		)
	}

	mux := http.NewServeMux()
	srv := api.NewServer(mux, api.Options{
		Logger:    logger,
		Metrics:   metrics,
		Users:     users,
		Store:     store,
		Blobs:     blobs,
		Extractor: extract.New(),
		Answerer:  answerer,
		Provider:  provider,
		Tokens:    tokens,
		Mapper:    mapper,
		Cookie: api.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.CookieSecure,
		},
	})
	srv.RegisterRoutes()

	// Apply middleware stack (metrics outermost, then request ID,
	// logging, and rate limiting before the handlers).
	handler := api.ApplyMiddlewares(
		mux,
		observability.MetricsMiddleware(metrics),
		api.RequestIDMiddleware(),
		api.LoggingMiddleware(logger),
		api.RateLimitMiddleware(rateCfg, logger, metrics),
	)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("docuchat listening", "addr", cfg.Server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown with 15-second timeout
	logger.Info("shutting down server", "timeout", "15s")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if err := store.Close(); err != nil {
		logger.Error("error closing store", "error", err)
	}
	if err := users.Close(); err != nil {
		logger.Error("error closing user store", "error", err)
	}

	if sentryEnabled {
		logger.Info("flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}

	logger.Info("shutdown complete")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
