// Package broker constructs the Kafka publishers and subscribers the stages
// coordinate through. It wraps watermill-kafka so stage code only deals with
// watermill messages, and exposes a thin sarama client for partition
// high-watermark queries (lag sampling).
package broker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MetadataPartitionKey marks the Kafka message key used for partition
// routing. Stages set it to the tick symbol so one symbol stays on one
// partition and ordering holds end to end.
const MetadataPartitionKey = "partition_key"

// Config holds the Kafka connection settings for one stage.
type Config struct {
	// Brokers is the bootstrap address list.
	Brokers []string

	// ConsumerGroup identifies the stage's consumer group. Empty for
	// publish-only stages.
	ConsumerGroup string

	// PublishTimeout bounds how long a publish may wait for broker acks.
	PublishTimeout time.Duration

	// ClientID is reported to the broker for quota/debug purposes.
	ClientID string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Brokers:        []string{"localhost:9092"},
		PublishTimeout: 5 * time.Second,
		ClientID:       "tickflow",
	}
}

// SetPartitionKey routes msg by key when published through this package.
func SetPartitionKey(msg *message.Message, key string) {
	msg.Metadata.Set(MetadataPartitionKey, key)
}

func marshaler() kafka.MarshalerUnmarshaler {
	return kafka.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
		if key := msg.Metadata.Get(MetadataPartitionKey); key != "" {
			return key, nil
		}
		return msg.UUID, nil
	})
}

// Logger adapts a slog.Logger to watermill's logging contract.
func Logger(log *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(log)
}

// NewPublisher creates a Kafka publisher whose delivery attempts are bounded
// by cfg.PublishTimeout. A publish that cannot be acknowledged in time
// returns an error; the caller decides whether the message is lost.
func NewPublisher(cfg Config, log *slog.Logger) (message.Publisher, error) {
	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	if cfg.ClientID != "" {
		saramaCfg.ClientID = cfg.ClientID
	}
	if cfg.PublishTimeout > 0 {
		saramaCfg.Producer.Timeout = cfg.PublishTimeout
		saramaCfg.Net.DialTimeout = cfg.PublishTimeout
		saramaCfg.Net.WriteTimeout = cfg.PublishTimeout
	}

	pub, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             marshaler(),
			OverwriteSaramaConfig: saramaCfg,
		},
		Logger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return pub, nil
}

// NewSubscriber creates a consumer-group subscriber. Offsets advance on read
// and are durably committed only when the stage acks a message; the commit
// itself is asynchronous (sarama's auto-commit loop), so acking never blocks
// the consume loop.
func NewSubscriber(cfg Config, log *slog.Logger) (message.Subscriber, error) {
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}

	saramaCfg := kafka.DefaultSaramaSubscriberConfig()
	if cfg.ClientID != "" {
		saramaCfg.ClientID = cfg.ClientID
	}

	sub, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           marshaler(),
			OverwriteSaramaConfig: saramaCfg,
			ConsumerGroup:         cfg.ConsumerGroup,
		},
		Logger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka subscriber: %w", err)
	}
	return sub, nil
}

// PartitionOffset reports the partition and offset a consumed message was
// read from. ok is false for messages that did not come from Kafka (tests
// use in-memory pub/sub).
func PartitionOffset(msg *message.Message) (partition int32, offset int64, ok bool) {
	partition, pOK := kafka.MessagePartitionFromCtx(msg.Context())
	offset, oOK := kafka.MessagePartitionOffsetFromCtx(msg.Context())
	return partition, offset, pOK && oOK
}

// Watermarks queries partition high watermarks. Calls are bounded by the
// network timeouts given at construction; a hung broker fails the query, not
// the stage.
type Watermarks struct {
	client sarama.Client
}

// NewWatermarks connects a metadata client to the brokers with all network
// operations bounded by timeout.
func NewWatermarks(brokers []string, timeout time.Duration, clientID string) (*Watermarks, error) {
	saramaCfg := sarama.NewConfig()
	if clientID != "" {
		saramaCfg.ClientID = clientID
	}
	if timeout > 0 {
		saramaCfg.Net.DialTimeout = timeout
		saramaCfg.Net.ReadTimeout = timeout
		saramaCfg.Net.WriteTimeout = timeout
		saramaCfg.Metadata.Retry.Max = 1
	}

	client, err := sarama.NewClient(brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create watermark client: %w", err)
	}
	return &Watermarks{client: client}, nil
}

// HighWaterMark returns the newest available offset on a partition.
func (w *Watermarks) HighWaterMark(topic string, partition int32) (int64, error) {
	hwm, err := w.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, fmt.Errorf("get high watermark for %s[%d]: %w", topic, partition, err)
	}
	return hwm, nil
}

// Close releases the underlying client.
func (w *Watermarks) Close() error {
	return w.client.Close()
}
