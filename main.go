package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wallethub-hq/intentrunner/pkg/builder"
	"github.com/wallethub-hq/intentrunner/pkg/classifier"
	"github.com/wallethub-hq/intentrunner/pkg/config"
	"github.com/wallethub-hq/intentrunner/pkg/health"
	"github.com/wallethub-hq/intentrunner/pkg/limiter"
	"github.com/wallethub-hq/intentrunner/pkg/logger"
	"github.com/wallethub-hq/intentrunner/pkg/pipeline"
	"github.com/wallethub-hq/intentrunner/pkg/store"
	"github.com/wallethub-hq/intentrunner/pkg/telemetry"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// SQLite when a path is configured, in-memory otherwise
	var intents store.IntentStore
	var limits store.LimitsStore
	if cfg.SQLitePath != "" {
		sqliteStore, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open sqlite store at %s: %v", cfg.SQLitePath, err)
		}
		defer sqliteStore.Close()
		intents = sqliteStore
		limits = sqliteStore
		appLogger.Info("using sqlite store at %s", cfg.SQLitePath)
	} else {
		memoryStore := store.NewMemoryStore()
		intents = memoryStore
		limits = memoryStore
		appLogger.Notice("SQLITE_PATH not set, using in-memory store")
	}

	violations := limiter.NewViolationLog(cfg.ViolationLogSize, cfg.ViolationLogTTL)
	safetyLimiter := limiter.New(limits, violations, appLogger)

	txBuilder, err := builder.NewBuilder(appLogger)
	if err != nil {
		log.Fatalf("Failed to create transaction builder: %v", err)
	}

	sink := telemetry.NewChannelSink(cfg.TelemetryBuffer, appLogger)
	sink.Start(ctx)
	defer sink.Close()

	// Providers are wired per deployment; the pattern classifier is the
	// built-in default.
	executor := pipeline.NewExecutor(cfg, intents, classifier.NewPatternClassifier(),
		safetyLimiter, txBuilder, pipeline.Providers{}, sink, appLogger)

	// Start the health and metrics server
	healthServer := health.NewServer(cfg.MetricsPort, intents, executor.Breakers())
	go healthServer.Start()

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		log.Println("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	appLogger.Info("intent pipeline ready on port %s", cfg.MetricsPort)
	<-ctx.Done()
}
