// Package service implements the normalization stage: raw exchange ticks in,
// canonical ticks out, lineage headers carried across the hop unchanged.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tickflow-systems/tickflow-stack/common/broker"
	"github.com/tickflow-systems/tickflow-stack/common/envelope"
	"github.com/tickflow-systems/tickflow-stack/common/logging"
	"github.com/tickflow-systems/tickflow-stack/common/models"
	"github.com/tickflow-systems/tickflow-stack/common/obsv"
)

// Normalizer consumes the raw topic and republishes canonicalized ticks to
// the norm topic. One message is processed to completion before the next is
// taken, preserving per-partition order.
type Normalizer struct {
	subscriber message.Subscriber
	publisher  message.Publisher
	rawTopic   string
	normTopic  string
	obs        *obsv.Handle
}

// NewNormalizer wires the normalization stage.
func NewNormalizer(subscriber message.Subscriber, publisher message.Publisher, rawTopic, normTopic string, obs *obsv.Handle) *Normalizer {
	return &Normalizer{
		subscriber: subscriber,
		publisher:  publisher,
		rawTopic:   rawTopic,
		normTopic:  normTopic,
		obs:        obs,
	}
}

// Run consumes until ctx is canceled or the subscription closes. A closed
// message channel with a live context means the broker driver died; that
// surfaces as an error instead of being swallowed.
func (n *Normalizer) Run(ctx context.Context) error {
	messages, err := n.subscriber.Subscribe(ctx, n.rawTopic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.rawTopic, err)
	}

	n.obs.Log.Info("normalization loop started",
		logging.Topic(n.rawTopic),
		"norm_topic", n.normTopic,
	)

	for msg := range messages {
		n.handle(msg)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("subscription to %s closed unexpectedly", n.rawTopic)
}

func (n *Normalizer) handle(msg *message.Message) {
	n.obs.Metrics.Consumed.Inc()

	// Empty and non-text payloads are skipped, not dropped: they never
	// carried a decodable tick, so they do not count as parse failures.
	if len(msg.Payload) == 0 || !utf8.Valid(msg.Payload) {
		n.obs.Log.Warn("skipping message with empty or non-text payload",
			logging.MessageID(envelope.MessageID(msg)),
		)
		n.commit(msg)
		return
	}

	var raw models.RawTick
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		n.obs.Metrics.Dropped.Inc()
		n.obs.Log.Error("dropping undecodable raw tick",
			logging.Error(err),
			logging.MessageID(envelope.MessageID(msg)),
		)
		// Committing here is deliberate: a poison message must not be
		// redelivered forever.
		n.commit(msg)
		return
	}

	norm := models.Normalize(raw)
	payload, err := json.Marshal(norm)
	if err != nil {
		n.obs.Metrics.Dropped.Inc()
		n.obs.Log.Error("dropping tick that failed to encode", logging.Error(err))
		n.commit(msg)
		return
	}

	// The outgoing message keeps the lineage id as its UUID and carries the
	// original headers verbatim; fresh values are generated only if absent.
	out := message.NewMessage(envelope.MessageID(msg), payload)
	envelope.Propagate(msg, out)
	broker.SetPartitionKey(out, norm.Symbol)

	err = obsv.Timed(n.obs.Metrics.ProduceLatency, func() error {
		return n.publisher.Publish(n.normTopic, out)
	})
	if err != nil {
		// Not retried; the offset still advances so the stage keeps moving.
		n.obs.Log.Error("publish normalized tick failed, message lost",
			logging.Error(err),
			logging.Topic(n.normTopic),
			logging.MessageID(envelope.MessageID(msg)),
		)
	} else {
		n.obs.Metrics.Produced.Inc()
	}

	n.commit(msg)
}

// commit acks the message, which marks its offset for the broker's
// asynchronous commit loop. Fire and forget: durability of the commit is not
// guaranteed before the next poll.
func (n *Normalizer) commit(msg *message.Message) {
	t0 := time.Now()
	msg.Ack()
	n.obs.Metrics.CommitLatency.Observe(obsv.MillisSince(t0))
}
