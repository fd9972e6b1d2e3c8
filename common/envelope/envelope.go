// Package envelope defines the lineage header contract carried by every
// message in the pipeline. A message id and a produce timestamp are stamped
// once, at ingestion, and travel as transport metadata (never inside the
// payload body) so downstream stages can measure end-to-end latency and trace
// individual ticks.
package envelope

import (
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Transport header keys. Values must be readable as UTF-8; absence is
// tolerated with fallback generation.
const (
	HeaderMessageID        = "msg_id"
	HeaderProduceTimestamp = "ts_produce_ns"
)

// New wraps payload in a freshly stamped envelope: a UUID v4 message id and
// the current wall-clock time in nanoseconds, both attached as transport
// headers. The watermill message UUID doubles as the lineage id.
func New(payload []byte) *message.Message {
	id := uuid.NewString()
	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(HeaderMessageID, id)
	msg.Metadata.Set(HeaderProduceTimestamp, strconv.FormatInt(time.Now().UnixNano(), 10))
	return msg
}

// MessageID returns the lineage id of msg, falling back to the transport
// UUID when the header is missing.
func MessageID(msg *message.Message) string {
	if id := msg.Metadata.Get(HeaderMessageID); id != "" {
		return id
	}
	return msg.UUID
}

// ProduceTimestamp returns the produce timestamp header in nanoseconds.
// ok is false when the header is absent or not a decimal string.
func ProduceTimestamp(msg *message.Message) (ns int64, ok bool) {
	raw := msg.Metadata.Get(HeaderProduceTimestamp)
	if raw == "" {
		return 0, false
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ns, true
}

// Propagate copies the lineage headers from src onto dst unchanged so the
// envelope survives a republish hop. Missing headers are regenerated as a
// defensive fallback; latency readings derived from regenerated timestamps
// measure only the remaining hops.
func Propagate(src, dst *message.Message) {
	id := src.Metadata.Get(HeaderMessageID)
	if id == "" {
		id = uuid.NewString()
	}
	ts := src.Metadata.Get(HeaderProduceTimestamp)
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		ts = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	dst.Metadata.Set(HeaderMessageID, id)
	dst.Metadata.Set(HeaderProduceTimestamp, ts)
}
