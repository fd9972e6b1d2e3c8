// Package service implements the ingestion stage: one frame at a time from
// the trade feed into the raw topic, each wrapped in a freshly stamped
// envelope.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tickflow-systems/tickflow-stack/common/broker"
	"github.com/tickflow-systems/tickflow-stack/common/envelope"
	"github.com/tickflow-systems/tickflow-stack/common/logging"
	"github.com/tickflow-systems/tickflow-stack/common/models"
	"github.com/tickflow-systems/tickflow-stack/common/obsv"
)

// FrameReader yields text frames from the feed connection, one at a time.
type FrameReader interface {
	ReadText() ([]byte, error)
}

// Ingester bridges the external feed to the raw topic. It processes frames
// strictly sequentially: a frame is handled to completion before the next
// one is read, so no backpressure machinery is needed beyond the loop itself.
type Ingester struct {
	feed      FrameReader
	publisher message.Publisher
	topic     string
	symbol    string
	obs       *obsv.Handle
}

// NewIngester wires the ingestion stage. The publisher is expected to bound
// its own delivery attempts; a failed publish loses the frame by design.
func NewIngester(feed FrameReader, publisher message.Publisher, topic, symbol string, obs *obsv.Handle) *Ingester {
	return &Ingester{
		feed:      feed,
		publisher: publisher,
		topic:     topic,
		symbol:    symbol,
		obs:       obs,
	}
}

// Run reads frames until ctx is canceled or the feed connection fails.
// A feed failure is returned to the caller; restarting the stage is the
// supervisor's job.
func (i *Ingester) Run(ctx context.Context) error {
	i.obs.Log.Info("ingestion loop started",
		logging.Topic(i.topic),
		logging.Symbol(i.symbol),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := i.feed.ReadText()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed connection lost: %w", err)
		}

		i.handleFrame(frame)
	}
}

// handleFrame validates, stamps and publishes one frame. All failure modes
// log and return; the loop never stops on a single bad frame.
func (i *Ingester) handleFrame(frame []byte) {
	// Decode only to validate; the payload published downstream is the
	// original frame, untouched.
	var tick models.RawTick
	if err := json.Unmarshal(frame, &tick); err != nil {
		i.obs.Log.Warn("discarding frame that is not a trade event", logging.Error(err))
		return
	}

	msg := envelope.New(frame)
	broker.SetPartitionKey(msg, i.symbol)

	err := obsv.Timed(i.obs.Metrics.ProduceLatency, func() error {
		return i.publisher.Publish(i.topic, msg)
	})
	if err != nil {
		// Not retried: the message is lost. The latency observation above
		// already recorded the failed attempt.
		i.obs.Log.Error("publish failed, message lost",
			logging.Error(err),
			logging.Topic(i.topic),
			logging.MessageID(envelope.MessageID(msg)),
		)
		return
	}

	i.obs.Metrics.Produced.Inc()
}
