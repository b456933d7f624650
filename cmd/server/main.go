package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"taleforge-server/internal/config"
	"taleforge-server/internal/database"
	"taleforge-server/internal/handler"
	"taleforge-server/internal/logger"
	"taleforge-server/internal/messaging"
	"taleforge-server/internal/middleware"
	"taleforge-server/internal/prompt"
	"taleforge-server/internal/provider"
	"taleforge-server/internal/ratelimit"
	"taleforge-server/internal/repository"
	"taleforge-server/internal/story"
	"taleforge-server/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Starting TaleForge API server", zap.String("log_level", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPool(ctx, cfg.Postgres.DSN(), cfg.Postgres.MaxConns, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()

	if err := database.Migrate(cfg.Postgres.DSN(), zapLogger); err != nil {
		zapLogger.Fatal("Failed to run migrations", zap.Error(err))
	}

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQ.URL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Connected to RabbitMQ")

	taskPublisher, err := messaging.NewRabbitMQTaskPublisher(rabbitConn, cfg.RabbitMQ.MediaTaskQueue, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create task publisher", zap.Error(err))
	}
	updatePublisher, err := messaging.NewRabbitMQClientUpdatePublisher(rabbitConn, cfg.RabbitMQ.ClientUpdatesQueue, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create client update publisher", zap.Error(err))
	}

	storyRepo := repository.NewPgStoryRepository(dbPool, zapLogger)
	segmentRepo := repository.NewPgSegmentRepository(dbPool, zapLogger)
	settingsRepo := repository.NewPgSettingsRepository(dbPool, zapLogger)

	registry, probers := buildProviders(cfg.Providers, zapLogger)
	policy := provider.NewPolicy(registry, cfg.Providers.CallTimeout, zapLogger)

	assembler, err := prompt.NewAssembler(prompt.Config{
		MaxWindowSegments: cfg.Prompt.MaxWindowSegments,
		TokenBudget:       cfg.Prompt.TokenBudget,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create prompt assembler", zap.Error(err))
	}

	limiter := buildLimiter(cfg, zapLogger)

	storyService := story.NewService(storyRepo, segmentRepo, settingsRepo, policy,
		assembler, taskPublisher, updatePublisher, limiter, zapLogger)

	hub := ws.NewHub(zapLogger)
	forwarder := ws.NewUpdateForwarder(hub, zapLogger)
	updateConsumer := messaging.NewConsumer(rabbitConn, cfg.RabbitMQ.ClientUpdatesQueue, forwarder, zapLogger)
	if err := updateConsumer.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start client update consumer", zap.Error(err))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ZapLogger(zapLogger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.SessionKeyHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(middleware.OptionalAuth(cfg.JWTSecret, zapLogger))

	prom := ginprometheus.NewPrometheus("gin")
	prom.Use(router)

	httpHandler := handler.NewHTTPHandler(storyService, hub, probers, zapLogger)
	httpHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		zapLogger.Info("HTTP server listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutdown signal received, stopping...")

	updateConsumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	zapLogger.Info("TaleForge API server stopped")
}

// buildProviders registers every adapter the configuration names. The
// registry is closed at startup; a chain naming an unregistered provider
// fails fast on the first request.
func buildProviders(cfg config.ProviderConfig, zapLogger *zap.Logger) (*provider.Registry, map[string]handler.Prober) {
	registry := provider.NewRegistry()
	probers := make(map[string]handler.Prober)

	openAI := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		TextModel:  cfg.OpenAITextModel,
		ImageModel: cfg.OpenAIImageModel,
		TTSModel:   cfg.OpenAITTSModel,
	}, zapLogger)
	registry.RegisterText(openAI)
	registry.RegisterImage(openAI)
	registry.RegisterSpeech(openAI)

	if cfg.OVHAccessToken != "" {
		ovh := provider.NewOVH(provider.OVHConfig{
			AccessToken: cfg.OVHAccessToken,
			TextURL:     cfg.OVHTextURL,
			TextModel:   cfg.OVHTextModel,
			ImageURL:    cfg.OVHImageURL,
			Timeout:     cfg.CallTimeout,
		}, zapLogger)
		registry.RegisterText(ovh)
		registry.RegisterImage(ovh)
		probers["ovh"] = ovh
	} else {
		zapLogger.Warn("OVH access token not configured, skipping OVH provider")
	}

	if cfg.OllamaBaseURL != "" {
		ollama, err := provider.NewOllama(provider.OllamaConfig{
			BaseURL: cfg.OllamaBaseURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.CallTimeout,
		}, zapLogger)
		if err != nil {
			zapLogger.Warn("Failed to configure Ollama provider, skipping", zap.Error(err))
		} else {
			registry.RegisterText(ollama)
		}
	}

	return registry, probers
}

// buildLimiter selects the Redis sliding window limiter when REDIS_ADDR is
// set, the in-memory one otherwise.
func buildLimiter(cfg *config.ServerConfig, zapLogger *zap.Logger) ratelimit.Limiter {
	if cfg.Redis.Addr == "" {
		zapLogger.Info("Using in-memory rate limiter")
		return ratelimit.NewMemoryLimiter(cfg.RateLimitCount, cfg.RateLimitWindow)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	zapLogger.Info("Using Redis rate limiter", zap.String("addr", cfg.Redis.Addr))
	return ratelimit.NewRedisLimiter(rdb, cfg.RateLimitCount, cfg.RateLimitWindow, zapLogger)
}

func connectRabbitMQ(url string, zapLogger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		zapLogger.Warn("Failed to connect to RabbitMQ, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}
