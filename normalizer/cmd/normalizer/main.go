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
	"github.com/tickflow-systems/tickflow-stack/normalizer/internal/config"
	"github.com/tickflow-systems/tickflow-stack/normalizer/internal/service"
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
	).With(logging.Stage("normalizer"))
	logging.SetDefault(logger)

	slog.Info("Starting normalizer",
		slog.String("raw_topic", cfg.Kafka.RawTopic),
		slog.String("norm_topic", cfg.Kafka.NormTopic),
		slog.String("consumer_group", cfg.Kafka.ConsumerGroup),
		slog.Int("metrics_port", cfg.Metrics.Port),
	)

	// Initialize observability (metrics registry + /metrics exposition)
	obs, err := obsv.Init("normalizer", cfg.Metrics.Port, logger)
	if err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}

	brokerCfg := broker.Config{
		Brokers:        cfg.Kafka.Brokers,
		ConsumerGroup:  cfg.Kafka.ConsumerGroup,
		PublishTimeout: cfg.Kafka.PublishTimeout,
		ClientID:       "tickflow-normalizer",
	}

	subscriber, err := broker.NewSubscriber(brokerCfg, logger.Logger)
	if err != nil {
		log.Fatalf("Failed to create Kafka subscriber: %v", err)
	}

	publisher, err := broker.NewPublisher(brokerCfg, logger.Logger)
	if err != nil {
		log.Fatalf("Failed to create Kafka publisher: %v", err)
	}

	normalizer := service.NewNormalizer(subscriber, publisher, cfg.Kafka.RawTopic, cfg.Kafka.NormTopic, obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- normalizer.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		slog.Info("Shutting down", slog.String("signal", sig.String()))
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Normalization loop failed", logging.Error(err))
			exitCode = 1
		}
	}

	if err := subscriber.Close(); err != nil {
		slog.Error("Failed to close subscriber", logging.Error(err))
	}
	if err := publisher.Close(); err != nil {
		slog.Error("Failed to close publisher", logging.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := obs.Close(shutdownCtx); err != nil {
		slog.Error("Failed to stop metrics server", logging.Error(err))
	}

	slog.Info("Normalizer stopped")
	os.Exit(exitCode)
}
