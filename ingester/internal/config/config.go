package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Feed    FeedConfig    `mapstructure:"feed"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type FeedConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Symbol   string `mapstructure:"symbol"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	RawTopic       string        `mapstructure:"raw_topic"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("feed.endpoint", "wss://stream.binance.com:9443/ws")
	v.SetDefault("feed.symbol", "BTCUSDT")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.raw_topic", "ticks.raw")
	v.SetDefault("kafka.publish_timeout", "5s")
	v.SetDefault("metrics.port", 9101)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tickflow/ingester")
	}

	// Environment variables override (INGESTER_KAFKA_RAW_TOPIC etc.)
	v.SetEnvPrefix("INGESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Kafka.RawTopic == "" {
		return fmt.Errorf("kafka.raw_topic is required")
	}
	if c.Feed.Symbol == "" {
		return fmt.Errorf("feed.symbol is required")
	}
	if c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be positive")
	}
	return nil
}
