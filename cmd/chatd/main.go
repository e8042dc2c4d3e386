package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/chat-backend/config"
	"github.com/vnmchuo/chat-backend/internal/api"
	"github.com/vnmchuo/chat-backend/internal/auth"
	"github.com/vnmchuo/chat-backend/internal/chat"
	"github.com/vnmchuo/chat-backend/internal/provider/factory"
	"github.com/vnmchuo/chat-backend/internal/router"
	"github.com/vnmchuo/chat-backend/internal/seeder"
	"github.com/vnmchuo/chat-backend/internal/telemetry"
	"github.com/vnmchuo/chat-backend/internal/tokenizer"
	"github.com/vnmchuo/chat-backend/internal/usage"
	"github.com/vnmchuo/chat-backend/pkg/ratelimit"
)

const version = "2.0.0"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.EnableDebugLogging)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx := context.Background()

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Options{
		ServiceName:    "chat-backend",
		ServiceVersion: version,
		ExporterType:   cfg.OTELExporterType,
		Endpoint:       cfg.OTELExporterEndpoint,
	})
	if err != nil {
		fatal(logger, "failed to init tracer", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("tracer shutdown failed", "error", err)
		}
	}()
	tracer := otel.GetTracerProvider().Tracer("chat-backend")

	// 3. Open the database
	db, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "failed to open database", err)
	}
	defer closeDB()

	// 4. Connect Redis, optional
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			fatal(logger, "failed to ping redis", err)
		}
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	}

	// 5. Init usage ledger
	var usageStore usage.Store = db
	if cfg.UsageBackend == "memory" {
		usageStore = usage.NewMemoryStore()
	}
	ledger := usage.NewLedger(usageStore, logger, cfg.EnableUsageTracking)

	// 6. Init rate limiter
	var limiter *ratelimit.Limiter
	if cfg.EnableRateLimiting {
		if rdb != nil {
			limiter = ratelimit.NewLimiter(rdb, cfg.APIRateLimit, cfg.RateLimitTPM)
		} else {
			limiter = ratelimit.NewLocalLimiter(cfg.APIRateLimit, cfg.RateLimitTPM)
		}
	}

	// 7. Init providers and fallback router
	providers, err := factory.Build(cfg.Providers)
	if err != nil {
		fatal(logger, "failed to build providers", err)
	}
	fallback := router.NewRouter(providers,
		router.WithTracer(tracer),
		router.WithLogger(logger),
		router.WithBudget(cfg.TurnTimeout),
	)
	logger.Info("providers configured", "order", fallback.Providers(), "turn_timeout", cfg.TurnTimeout)

	// 8. Init chat service
	counter := tokenizer.New(logger)
	chats := chat.NewService(db, fallback, ledger,
		chat.Config{SystemPrompt: cfg.SystemPrompt, MaxHistory: cfg.MaxConversationHistory},
		chat.WithTracer(tracer),
		chat.WithLogger(logger),
		chat.WithTokenCounter(counter),
	)

	// 9. Init auth
	issuer := auth.NewIssuer(cfg.SecretKey, cfg.AccessTokenTTL)
	verifier, err := auth.NewGoogleVerifier(cfg.GoogleClientID)
	if err != nil {
		fatal(logger, "failed to init Google verifier", err)
	}
	defer verifier.Close()
	authMiddleware := auth.NewMiddleware(issuer, db, rdb, logger)

	// 10. Seed test user if RUN_SEED=true
	if cfg.RunSeed {
		if _, _, err := seeder.SeedTestUser(ctx, db, issuer, logger); err != nil {
			logger.Error("seeding failed", "error", err)
		}
	}

	// 11. Init HTTP routes
	deps := api.Deps{
		Chats:    chats,
		Usage:    ledger,
		Verifier: verifier,
		Issuer:   issuer,
		Users:    db,
		Counter:  counter,
		Cache:    rdb,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	handler := api.NewHandler(deps, api.Config{
		Version:            version,
		MaxMessageLength:   cfg.MaxMessageLength,
		EnableRateLimiting: cfg.EnableRateLimiting,
		Providers:          fallback.Providers(),
	}, logger)

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, authMiddleware),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("chat backend starting", "port", cfg.Port, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server error", err)
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		return
	}
	logger.Info("server stopped")
}
