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

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ticks.norm", cfg.Kafka.NormTopic)
	assert.Equal(t, "consumer-stage", cfg.Kafka.ConsumerGroup)

	assert.Equal(t, "localhost", cfg.Sink.Host)
	assert.Equal(t, 9009, cfg.Sink.Port)
	assert.Equal(t, 5*time.Second, cfg.Sink.DialTimeout)

	assert.True(t, cfg.Bootstrap.Enabled)
	assert.Equal(t, 8812, cfg.Bootstrap.Port)
	assert.Equal(t, "qdb", cfg.Bootstrap.Database)

	assert.Equal(t, 5*time.Second, cfg.Lag.Interval)
	assert.Equal(t, 2*time.Second, cfg.Lag.Timeout)
	assert.Equal(t, 9103, cfg.Metrics.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PERSISTER_SINK_HOST", "questdb.internal")
	t.Setenv("PERSISTER_SINK_PORT", "19009")
	t.Setenv("PERSISTER_BOOTSTRAP_ENABLED", "false")
	t.Setenv("PERSISTER_LAG_INTERVAL", "30s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "questdb.internal", cfg.Sink.Host)
	assert.Equal(t, 19009, cfg.Sink.Port)
	assert.False(t, cfg.Bootstrap.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Lag.Interval)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sink:
  host: questdb-0
  port: 9009
lag:
  interval: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "questdb-0", cfg.Sink.Host)
	assert.Equal(t, 10*time.Second, cfg.Lag.Interval)
	assert.Equal(t, "consumer-stage", cfg.Kafka.ConsumerGroup, "unset keys keep their defaults")
}

func TestLoad_RejectsInvalidSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sink:\n  port: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink")
}

func TestLoad_RejectsNonPositiveLagInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lag:\n  interval: 0s\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lag.interval")
}
