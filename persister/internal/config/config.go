package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Lag       LagConfig       `mapstructure:"lag"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	NormTopic     string   `mapstructure:"norm_topic"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type SinkConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// BootstrapConfig controls the optional schema bootstrap over QuestDB's
// Postgres wire interface. When disabled, the first ILP write auto-creates
// the table with inferred column types.
type BootstrapConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type LagConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
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

	// Set defaults. Ports 9009/8812 are QuestDB's ILP and PGWire listeners.
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.norm_topic", "ticks.norm")
	v.SetDefault("kafka.consumer_group", "consumer-stage")
	v.SetDefault("sink.host", "localhost")
	v.SetDefault("sink.port", 9009)
	v.SetDefault("sink.dial_timeout", "5s")
	v.SetDefault("bootstrap.enabled", true)
	v.SetDefault("bootstrap.host", "localhost")
	v.SetDefault("bootstrap.port", 8812)
	v.SetDefault("bootstrap.user", "admin")
	v.SetDefault("bootstrap.password", "quest")
	v.SetDefault("bootstrap.database", "qdb")
	v.SetDefault("lag.interval", "5s")
	v.SetDefault("lag.timeout", "2s")
	v.SetDefault("metrics.port", 9103)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tickflow/persister")
	}

	// Environment variables override (PERSISTER_SINK_HOST etc.)
	v.SetEnvPrefix("PERSISTER")
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
	if c.Kafka.NormTopic == "" {
		return fmt.Errorf("kafka.norm_topic is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("kafka.consumer_group is required")
	}
	if c.Sink.Host == "" || c.Sink.Port <= 0 {
		return fmt.Errorf("sink.host and sink.port are required")
	}
	if c.Lag.Interval <= 0 {
		return fmt.Errorf("lag.interval must be positive")
	}
	if c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be positive")
	}
	return nil
}
