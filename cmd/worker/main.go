package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"taleforge-server/internal/config"
	"taleforge-server/internal/database"
	"taleforge-server/internal/logger"
	"taleforge-server/internal/messaging"
	"taleforge-server/internal/provider"
	"taleforge-server/internal/repository"
	"taleforge-server/internal/storage"
	"taleforge-server/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("Starting TaleForge media worker", zap.String("log_level", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPool(ctx, cfg.Postgres.DSN(), cfg.Postgres.MaxConns, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQ.URL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	zapLogger.Info("Connected to RabbitMQ")

	updatePublisher, err := messaging.NewRabbitMQClientUpdatePublisher(rabbitConn, cfg.RabbitMQ.ClientUpdatesQueue, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create client update publisher", zap.Error(err))
	}

	storyRepo := repository.NewPgStoryRepository(dbPool, zapLogger)
	segmentRepo := repository.NewPgSegmentRepository(dbPool, zapLogger)

	registry := buildProviders(cfg.Providers, zapLogger)
	policy := provider.NewPolicy(registry, cfg.Providers.CallTimeout, zapLogger)

	store, err := storage.NewDiskStore(cfg.Storage.Dir, cfg.Storage.PublicBaseURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize media storage", zap.Error(err))
	}

	mediaHandler := worker.NewHandler(segmentRepo, storyRepo, policy, store, updatePublisher, zapLogger)
	consumer := messaging.NewConsumer(rabbitConn, cfg.RabbitMQ.MediaTaskQueue, mediaHandler, zapLogger)
	if err := consumer.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start media task consumer", zap.Error(err))
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}
	go func() {
		zapLogger.Info("Metrics server listening", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("Shutdown signal received, stopping...")

	consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Metrics server shutdown failed", zap.Error(err))
	}
	zapLogger.Info("TaleForge media worker stopped")
}

// buildProviders registers the media-capable adapters. Ollama serves text
// only, so the worker never registers it.
func buildProviders(cfg config.ProviderConfig, zapLogger *zap.Logger) *provider.Registry {
	registry := provider.NewRegistry()

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
	} else {
		zapLogger.Warn("OVH access token not configured, skipping OVH provider")
	}

	return registry
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
