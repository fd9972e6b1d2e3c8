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
	assert.Equal(t, "ticks.raw", cfg.Kafka.RawTopic)
	assert.Equal(t, "ticks.norm", cfg.Kafka.NormTopic)
	assert.Equal(t, "producer-stage", cfg.Kafka.ConsumerGroup)
	assert.Equal(t, 5*time.Second, cfg.Kafka.PublishTimeout)
	assert.Equal(t, 9102, cfg.Metrics.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NORMALIZER_KAFKA_CONSUMER_GROUP", "normalizer-canary")
	t.Setenv("NORMALIZER_KAFKA_NORM_TOPIC", "ticks.norm.canary")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "normalizer-canary", cfg.Kafka.ConsumerGroup)
	assert.Equal(t, "ticks.norm.canary", cfg.Kafka.NormTopic)
}

func TestLoad_RejectsIdenticalTopics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
kafka:
  raw_topic: ticks.raw
  norm_topic: ticks.raw
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestLoad_RejectsEmptyConsumerGroup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kafka:\n  consumer_group: \"\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consumer_group")
}
