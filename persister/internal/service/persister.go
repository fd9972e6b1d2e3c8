// Package service implements the persistence stage: normalized ticks off the
// norm topic, encoded as line protocol and written to the sink, with
// end-to-end latency and consumer lag telemetry.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tickflow-systems/tickflow-stack/common/broker"
	"github.com/tickflow-systems/tickflow-stack/common/envelope"
	"github.com/tickflow-systems/tickflow-stack/common/logging"
	"github.com/tickflow-systems/tickflow-stack/common/models"
	"github.com/tickflow-systems/tickflow-stack/common/obsv"
	"github.com/tickflow-systems/tickflow-stack/persister/internal/ilp"
)

// LineWriter is the sink connection. Its implementation owns the
// reconnect-once retry policy.
type LineWriter interface {
	WriteLine(line []byte) error
}

// WatermarkQuerier reports the newest available offset on a partition.
type WatermarkQuerier interface {
	HighWaterMark(topic string, partition int32) (int64, error)
}

// Persister consumes the norm topic and writes each tick to the sink.
// Strictly sequential: one message handled to completion before the next.
type Persister struct {
	subscriber message.Subscriber
	sink       LineWriter
	topic      string
	obs        *obsv.Handle
	lag        *lagSampler
}

// NewPersister wires the persistence stage. watermarks may be nil, which
// disables lag sampling (tests, or brokers without a metadata client).
func NewPersister(subscriber message.Subscriber, sink LineWriter, topic string, watermarks WatermarkQuerier, lagInterval time.Duration, obs *obsv.Handle) *Persister {
	p := &Persister{
		subscriber: subscriber,
		sink:       sink,
		topic:      topic,
		obs:        obs,
	}
	if watermarks != nil {
		p.lag = newLagSampler(watermarks, topic, obs, lagInterval)
	}
	return p
}

// Run consumes until ctx is canceled or the subscription closes.
func (p *Persister) Run(ctx context.Context) error {
	messages, err := p.subscriber.Subscribe(ctx, p.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", p.topic, err)
	}

	p.obs.Log.Info("persistence loop started", logging.Topic(p.topic))

	for msg := range messages {
		p.handle(msg)
		// Lag sampling runs inline between iterations, gated by wall clock,
		// so it never preempts message handling.
		p.lag.maybeSample(msg)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("subscription to %s closed unexpectedly", p.topic)
}

func (p *Persister) handle(msg *message.Message) {
	p.obs.Metrics.Consumed.Inc()

	// End-to-end latency against the produce timestamp stamped at ingestion.
	// A missing header falls back to now and yields a zero reading.
	nowNs := time.Now().UnixNano()
	producedNs, ok := envelope.ProduceTimestamp(msg)
	if !ok {
		producedNs = nowNs
	}
	p.obs.Metrics.E2ELatency.Observe(float64(nowNs-producedNs) / 1e6)

	var tick models.NormalizedTick
	if err := json.Unmarshal(msg.Payload, &tick); err != nil {
		p.obs.Metrics.Dropped.Inc()
		p.obs.Log.Error("dropping undecodable normalized tick",
			logging.Error(err),
			logging.MessageID(envelope.MessageID(msg)),
		)
		p.commit(msg)
		return
	}

	line := ilp.Encode(tick, envelope.MessageID(msg))

	err := obsv.Timed(p.obs.Metrics.SinkWrite, func() error {
		return p.sink.WriteLine(line)
	})
	if err != nil {
		// The writer already reconnected and retried once. No requeue: the
		// message is abandoned and the offset advances.
		p.obs.Metrics.Dropped.Inc()
		p.obs.Log.Error("abandoning tick after failed sink write",
			logging.Error(err),
			logging.MessageID(envelope.MessageID(msg)),
			logging.Symbol(tick.Symbol),
		)
		p.commit(msg)
		return
	}

	p.commit(msg)
}

// commit acks the message; the broker commits the marked offset
// asynchronously.
func (p *Persister) commit(msg *message.Message) {
	t0 := time.Now()
	msg.Ack()
	p.obs.Metrics.CommitLatency.Observe(obsv.MillisSince(t0))
}

// lagSampler publishes consumer lag at most once per interval. It shares the
// stage's single flow of control; each sample costs one bounded watermark
// query.
type lagSampler struct {
	watermarks WatermarkQuerier
	topic      string
	obs        *obsv.Handle
	interval   time.Duration
	last       time.Time

	// seams for tests
	now      func() time.Time
	position func(*message.Message) (partition int32, offset int64, ok bool)
}

func newLagSampler(watermarks WatermarkQuerier, topic string, obs *obsv.Handle, interval time.Duration) *lagSampler {
	return &lagSampler{
		watermarks: watermarks,
		topic:      topic,
		obs:        obs,
		interval:   interval,
		now:        time.Now,
		position:   broker.PartitionOffset,
	}
}

func (s *lagSampler) maybeSample(msg *message.Message) {
	if s == nil {
		return
	}
	if s.now().Sub(s.last) < s.interval {
		return
	}
	// Gate on the attempt, not on success: a failing watermark query must
	// not re-fire on every message.
	s.last = s.now()

	partition, offset, ok := s.position(msg)
	if !ok {
		return
	}

	hwm, err := s.watermarks.HighWaterMark(s.topic, partition)
	if err != nil {
		s.obs.Log.Warn("watermark query failed",
			logging.Error(err),
			logging.Partition(partition),
		)
		return
	}

	lag := hwm - (offset + 1)
	if lag < 0 {
		lag = 0
	}
	s.obs.Metrics.ConsumerLag.Set(float64(lag))
}
