package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/api"
	"ftfeed/apps/ftfeed/internal/chain"
	"ftfeed/apps/ftfeed/internal/config"
	"ftfeed/apps/ftfeed/internal/contracts"
	"ftfeed/apps/ftfeed/internal/event_publisher"
	"ftfeed/apps/ftfeed/internal/feed"
	"ftfeed/apps/ftfeed/internal/notify"
	"ftfeed/apps/ftfeed/internal/observability"
	"ftfeed/apps/ftfeed/internal/repository"
	"ftfeed/apps/ftfeed/internal/session"
)

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	// Load configuration from environment variables
	cfg := config.NewConfig()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting application with configuration",
		zap.String("rpc_url", cfg.RpcURL),
		zap.String("l1_rpc_url", cfg.L1RpcURL),
		zap.String("trade_ws_url", cfg.TradeWSURL),
		zap.String("profile_api_url", cfg.ProfileAPIURL),
		zap.Bool("export_enabled", cfg.ExportEnabled()),
		zap.Bool("require_wallet", cfg.RequireWallet),
		zap.Duration("profile_cooldown", cfg.ProfileCooldown),
		zap.Int("api_port", cfg.APIPort),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	contractRegistry, err := contracts.NewRegistry(cfg.MarketplaceAddress, cfg.BridgeAddress)
	if err != nil {
		logger.Fatal("Failed to load contracts", zap.Error(err))
	}

	l2Client, err := chain.Dial(ctx, cfg.RpcURL, cfg.RPCTimeout, metrics)
	if err != nil {
		logger.Fatal("Failed to connect to L2", zap.Error(err))
	}
	defer l2Client.Close()

	l1Client, err := chain.Dial(ctx, cfg.L1RpcURL, cfg.RPCTimeout, metrics)
	if err != nil {
		logger.Fatal("Failed to connect to L1", zap.Error(err))
	}
	defer l1Client.Close()

	deps := feed.Dependencies{
		Config:   cfg,
		L2:       l2Client,
		L1:       l1Client,
		Registry: contractRegistry,
		Logger:   logger,
		Metrics:  metrics,
	}

	if cfg.TradeWSURL != "" {
		streamClient, err := chain.Dial(ctx, cfg.TradeWSURL, 0, metrics)
		if err != nil {
			logger.Fatal("Failed to connect to trade stream", zap.Error(err))
		}
		defer streamClient.Close()
		deps.Stream = streamClient
	}

	var sinks session.SinkFactory
	if cfg.ExportEnabled() {
		// Connect to database
		db, err := sql.Open("postgres", cfg.DbURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		// Initialize database tables
		if err := repository.InitMigration(ctx, db); err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}

		outboxRepository := repository.NewOutboxRepository(db, logger)
		deps.Exporter = outboxRepository

		eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, event_publisher.Config{
			Topic:             cfg.KafkaTopic,
			NotificationTopic: cfg.KafkaNotificationTopic,
			Interval:          cfg.PublishInterval,
		}, outboxRepository, logger, metrics)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
		defer eventPublisher.Close()

		// Start event publisher in background
		go eventPublisher.StartPublishing(ctx)

		if cfg.KafkaNotificationTopic != "" {
			sinks = func(sessionID, wallet string) notify.Sink {
				return eventPublisher.NotificationSink(sessionID, wallet)
			}
		}
	}

	feeds := feed.NewManager(ctx, deps)
	sessions := session.NewManager(ctx, feeds, sinks, logger, metrics)

	// Create and start API server
	apiServer := api.NewServer(cfg.APIPort, sessions, metrics, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	// Create a context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown API server gracefully
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	sessions.Close()
	feeds.Shutdown()
	cancel()

	logger.Info("Application shutdown complete")
}
