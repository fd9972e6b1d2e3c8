package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "wss://stream.binance.com:9443/ws", cfg.Feed.Endpoint)
	assert.Equal(t, "BTCUSDT", cfg.Feed.Symbol)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ticks.raw", cfg.Kafka.RawTopic)
	assert.Equal(t, 5*time.Second, cfg.Kafka.PublishTimeout)
	assert.Equal(t, 9101, cfg.Metrics.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INGESTER_FEED_SYMBOL", "ETHUSDT")
	t.Setenv("INGESTER_KAFKA_RAW_TOPIC", "ticks.raw.test")
	t.Setenv("INGESTER_METRICS_PORT", "19101")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Feed.Symbol)
	assert.Equal(t, "ticks.raw.test", cfg.Kafka.RawTopic)
	assert.Equal(t, 19101, cfg.Metrics.Port)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
feed:
  symbol: SOLUSDT
kafka:
  brokers:
    - kafka-1:9092
    - kafka-2:9092
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "SOLUSDT", cfg.Feed.Symbol)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "ticks.raw", cfg.Kafka.RawTopic, "unset keys keep their defaults")
}

func TestLoad_RejectsEmptySymbol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feed:\n  symbol: \"\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed.symbol")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
