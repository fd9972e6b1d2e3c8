package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tickflow-systems/tickflow-stack/common/broker"
	"github.com/tickflow-systems/tickflow-stack/common/logging"
	"github.com/tickflow-systems/tickflow-stack/common/obsv"
	"github.com/tickflow-systems/tickflow-stack/ingester/internal/config"
	"github.com/tickflow-systems/tickflow-stack/ingester/internal/feed"
	"github.com/tickflow-systems/tickflow-stack/ingester/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Stage("ingester"))
	logging.SetDefault(logger)

	slog.Info("Starting ingester",
		slog.String("endpoint", cfg.Feed.Endpoint),
		slog.String("symbol", cfg.Feed.Symbol),
		slog.String("raw_topic", cfg.Kafka.RawTopic),
		slog.Int("metrics_port", cfg.Metrics.Port),
	)

	// Initialize observability (metrics registry + /metrics exposition)
	obs, err := obsv.Init("ingester", cfg.Metrics.Port, logger)
	if err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}

	// Initialize Kafka publisher
	publisher, err := broker.NewPublisher(broker.Config{
		Brokers:        cfg.Kafka.Brokers,
		PublishTimeout: cfg.Kafka.PublishTimeout,
		ClientID:       "tickflow-ingester",
	}, logger.Logger)
	if err != nil {
		log.Fatalf("Failed to create Kafka publisher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the trade feed
	tradeFeed, err := feed.Dial(ctx, cfg.Feed.Endpoint, cfg.Feed.Symbol)
	if err != nil {
		log.Fatalf("Failed to connect to trade feed: %v", err)
	}
	slog.Info("Connected to trade feed", slog.String("stream", tradeFeed.Stream()))

	ingester := service.NewIngester(tradeFeed, publisher, cfg.Kafka.RawTopic, cfg.Feed.Symbol, obs)

	runErr := make(chan error, 1)
	go func() {
		runErr <- ingester.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("Shutting down", slog.String("signal", sig.String()))
		cancel()
		tradeFeed.Close() // unblocks the feed read
		<-runErr
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Ingestion loop failed", logging.Error(err))
			exitCode = 1
		}
	}

	if err := publisher.Close(); err != nil {
		slog.Error("Failed to close publisher", logging.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := obs.Close(shutdownCtx); err != nil {
		slog.Error("Failed to stop metrics server", logging.Error(err))
	}

	slog.Info("Ingester stopped")
	os.Exit(exitCode)
}
