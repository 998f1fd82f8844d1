// Package main is the entry point for the flowreach service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/flexinfer/flowreach/internal/api"
	"github.com/flexinfer/flowreach/internal/auth"
	"github.com/flexinfer/flowreach/internal/config"
	"github.com/flexinfer/flowreach/internal/discover"
	"github.com/flexinfer/flowreach/internal/export"
	"github.com/flexinfer/flowreach/internal/flowstore"
	"github.com/flexinfer/flowreach/internal/graphcache"
	"github.com/flexinfer/flowreach/internal/reachstore"
	"github.com/flexinfer/flowreach/internal/rules"
	"github.com/flexinfer/flowreach/internal/tracing"
	"github.com/flexinfer/flowreach/internal/validator"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var logHandler slog.Handler
	if cfg.LogFormat == "json" {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting flowreach",
		slog.String("port", cfg.Port),
		slog.String("log_level", cfg.LogLevel),
	)

	// Initialize stores. An empty REDIS_URL selects the in-memory pair,
	// which is fine for a single replica but shares nothing.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis url, falling back to memory stores", "error", err)
		} else {
			if cfg.RedisPassword != "" {
				opts.Password = cfg.RedisPassword
			}
			if cfg.RedisDB != 0 {
				opts.DB = cfg.RedisDB
			}
			client := redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = client.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				logger.Error("redis unreachable, falling back to memory stores", "error", err)
				client.Close()
			} else {
				rdb = client
			}
		}
	}

	var flows flowstore.Store
	var store reachstore.Store
	if rdb != nil {
		flows = flowstore.NewRedisStoreWithClient(rdb)
		store = reachstore.NewRedisStoreWithClient(rdb, cfg.RedisPrefix)
		logger.Info("using redis stores", slog.String("url", cfg.RedisURL))
	} else {
		flows = flowstore.NewMemoryStore()
		store = reachstore.NewMemoryStore()
		logger.Info("using in-memory stores")
	}

	// Lock-change fanout. With redis the pub/sub bridge mirrors
	// transitions across replicas; without it waiters are local.
	hub := graphcache.NewHub()
	defer hub.Close()

	var pub graphcache.Publisher
	var notifier *graphcache.RedisNotifier
	if rdb != nil {
		notifier = graphcache.NewRedisNotifier(rdb, hub, cfg.RedisPrefix, logger)
		pub = notifier
	}

	disc := discover.New(flows, rules.NewExprEvaluator(), store, cfg.BatchSize, cfg.ScanCount, logger)

	cache := graphcache.NewService(graphcache.Config{
		LockTTL:     cfg.LockTTL,
		SnapshotTTL: cfg.SnapshotTTL,
		Freshness:   cfg.Freshness,
		WaitTimeout: cfg.WaitTimeout,
		PageSize:    cfg.ScanCount,
	}, store, disc, hub, pub, logger)

	logger.Info("cache service initialized",
		slog.Duration("lock_ttl", cfg.LockTTL),
		slog.Duration("snapshot_ttl", cfg.SnapshotTTL),
	)

	// Initialize validator
	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		// Continue without validator - validation will be basic
		v = nil
	}

	// Report export is optional; without a bucket the endpoints answer 503.
	var exporter *export.Service
	if cfg.S3Bucket != "" {
		backendType := "s3"
		if cfg.S3Endpoint != "" {
			backendType = "minio"
		}
		exporter, err = export.New(&export.Config{
			Type:            backendType,
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
		if err != nil {
			logger.Error("failed to initialize report export", "error", err)
			exporter = nil
		} else {
			logger.Info("report export enabled", slog.String("bucket", cfg.S3Bucket))
		}
	}

	// Tracing
	tp, err := tracing.Init(context.Background(), &tracing.Config{
		ServiceName:    "flowreach",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     1.0,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	}

	// Initialize API handlers
	handlers := api.NewHandlers(flows, cache, v, exporter, cfg, logger)
	server := api.NewServer(handlers)

	// Outer middleware wraps the router so it runs before route matching.
	var handler http.Handler = server.Router()

	if cfg.OIDCEnabled {
		provider, perr := auth.NewProvider(context.Background(), &auth.Config{
			Issuer:   cfg.OIDCIssuer,
			ClientID: cfg.OIDCClientID,
			Audience: cfg.OIDCAudience,
		})
		if perr != nil {
			logger.Error("failed to initialize OIDC provider, auth disabled", "error", perr)
		} else {
			handler = auth.NewMiddleware(provider, &auth.MiddlewareConfig{Enabled: true}).Handler(handler)
			logger.Info("OIDC auth enabled", slog.String("issuer", cfg.OIDCIssuer))
		}
	}

	limiter := auth.NewPerIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Close()
	handler = limiter.Handler(handler)

	if cfg.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "flowreach")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}

	// The notifier must stop before its redis client goes away.
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.Error("notifier shutdown error", "error", err)
		}
	}
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("server stopped")
}
