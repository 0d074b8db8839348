package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tanklink/backend/internal/audit"
	auditrepo "tanklink/backend/internal/audit/repository"
	"tanklink/backend/internal/auth"
	"tanklink/backend/internal/config"
	"tanklink/backend/internal/db"
	devicerepo "tanklink/backend/internal/device/repository"
	deviceservice "tanklink/backend/internal/device/service"
	"tanklink/backend/internal/observability"
	"tanklink/backend/internal/platform/cache"
	"tanklink/backend/internal/security"
	"tanklink/backend/internal/server"
	sessionrepo "tanklink/backend/internal/session/repository"
	telemetryrepo "tanklink/backend/internal/telemetry/repository"
	userrepo "tanklink/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is not set")
	}
	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		logger.Fatal("JWT_PRIVATE_KEY", zap.Error(err))
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		logger.Fatal("JWT_PUBLIC_KEY", zap.Error(err))
	}
	tokens := security.NewTokenProvider(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	ctx := context.Background()

	providers, err := observability.NewProviders(ctx, cfg.OTLPEndpoint, "tanklink-backend", cfg.OTLPInsecure)
	if err != nil {
		logger.Fatal("otel", zap.Error(err))
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	var kv cache.KVStore
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		kv = cache.NewRedisKVStore(client)
		logger.Info("snapshot cache: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		kv = cache.NewMemoryKVStore()
		logger.Info("snapshot cache: in-memory")
	}

	users := userrepo.NewPostgresRepository(pool)
	sessions := sessionrepo.NewPostgresRepository(pool)
	devices := devicerepo.NewPostgresRepository(pool)
	readings := telemetryrepo.NewPostgresRepository(pool)
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(pool), logger)

	notifier := auth.NewNotifier()
	authSvc := auth.NewService(users, sessions, security.NewHasher(cfg.BcryptCost), tokens,
		cfg.RequireVerification, notifier, auditLogger, logger)
	deviceSvc := deviceservice.NewService(devices, readings, kv, cfg.StoreCallTimeout(), auditLogger, logger)
	notifier.Subscribe(deviceSvc.OnSessionChange)

	e := server.New(server.Options{
		Log:           logger,
		AuthService:   authSvc,
		DeviceService: deviceSvc,
		DeviceRepo:    devices,
		ReadingRepo:   readings,
		IngestKey:     cfg.IngestAPIKey,
		DB:            pool,
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil {
			logger.Info("http server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Env == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}
