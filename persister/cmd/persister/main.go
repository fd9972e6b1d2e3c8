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
	"github.com/tickflow-systems/tickflow-stack/persister/internal/config"
	"github.com/tickflow-systems/tickflow-stack/persister/internal/service"
	"github.com/tickflow-systems/tickflow-stack/persister/internal/sink"
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
	).With(logging.Stage("persister"))
	logging.SetDefault(logger)

	slog.Info("Starting persister",
		slog.String("norm_topic", cfg.Kafka.NormTopic),
		slog.String("consumer_group", cfg.Kafka.ConsumerGroup),
		slog.String("sink_host", cfg.Sink.Host),
		slog.Int("sink_port", cfg.Sink.Port),
		slog.Int("metrics_port", cfg.Metrics.Port),
	)

	// Initialize observability (metrics registry + /metrics exposition)
	obs, err := obsv.Init("persister", cfg.Metrics.Port, logger)
	if err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}

	// Optional schema bootstrap over the sink's Postgres wire interface.
	// Failure is not fatal: ILP auto-creates the table on first write.
	if cfg.Bootstrap.Enabled {
		bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := sink.EnsureSchema(bootstrapCtx, sink.BootstrapConfig{
			Host:     cfg.Bootstrap.Host,
			Port:     cfg.Bootstrap.Port,
			User:     cfg.Bootstrap.User,
			Password: cfg.Bootstrap.Password,
			Database: cfg.Bootstrap.Database,
		})
		bootstrapCancel()
		if err != nil {
			slog.Warn("Schema bootstrap failed; relying on ILP auto-create", logging.Error(err))
		} else {
			slog.Info("Trades table ensured")
		}
	}

	// Open the persistent sink connection; failure here is fatal.
	writer, err := sink.NewWriter(sink.Config{
		Host:        cfg.Sink.Host,
		Port:        cfg.Sink.Port,
		DialTimeout: cfg.Sink.DialTimeout,
	}, obs.Log)
	if err != nil {
		log.Fatalf("Failed to connect to sink: %v", err)
	}

	brokerCfg := broker.Config{
		Brokers:       cfg.Kafka.Brokers,
		ConsumerGroup: cfg.Kafka.ConsumerGroup,
		ClientID:      "tickflow-persister",
	}

	subscriber, err := broker.NewSubscriber(brokerCfg, logger.Logger)
	if err != nil {
		log.Fatalf("Failed to create Kafka subscriber: %v", err)
	}

	// Watermark client for lag sampling; bounded by its own timeout so a
	// slow broker cannot stall message handling.
	watermarks, err := broker.NewWatermarks(cfg.Kafka.Brokers, cfg.Lag.Timeout, "tickflow-persister-lag")
	if err != nil {
		log.Fatalf("Failed to create watermark client: %v", err)
	}

	persister := service.NewPersister(subscriber, writer, cfg.Kafka.NormTopic, watermarks, cfg.Lag.Interval, obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- persister.Run(ctx)
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
			slog.Error("Persistence loop failed", logging.Error(err))
			exitCode = 1
		}
	}

	if err := subscriber.Close(); err != nil {
		slog.Error("Failed to close subscriber", logging.Error(err))
	}
	if err := watermarks.Close(); err != nil {
		slog.Error("Failed to close watermark client", logging.Error(err))
	}
	if err := writer.Close(); err != nil {
		slog.Error("Failed to close sink connection", logging.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := obs.Close(shutdownCtx); err != nil {
		slog.Error("Failed to stop metrics server", logging.Error(err))
	}

	slog.Info("Persister stopped")
	os.Exit(exitCode)
}
