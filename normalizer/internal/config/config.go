package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	RawTopic       string        `mapstructure:"raw_topic"`
	NormTopic      string        `mapstructure:"norm_topic"`
	ConsumerGroup  string        `mapstructure:"consumer_group"`
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

	// Set defaults. The group id names this stage's role as producer to the
	// downstream topic, a convention inherited from the first deployment.
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.raw_topic", "ticks.raw")
	v.SetDefault("kafka.norm_topic", "ticks.norm")
	v.SetDefault("kafka.consumer_group", "producer-stage")
	v.SetDefault("kafka.publish_timeout", "5s")
	v.SetDefault("metrics.port", 9102)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tickflow/normalizer")
	}

	// Environment variables override (NORMALIZER_KAFKA_NORM_TOPIC etc.)
	v.SetEnvPrefix("NORMALIZER")
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
	if c.Kafka.RawTopic == "" || c.Kafka.NormTopic == "" {
		return fmt.Errorf("kafka.raw_topic and kafka.norm_topic are required")
	}
	if c.Kafka.RawTopic == c.Kafka.NormTopic {
		return fmt.Errorf("kafka.raw_topic and kafka.norm_topic must differ")
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("kafka.consumer_group is required")
	}
	if c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be positive")
	}
	return nil
}
