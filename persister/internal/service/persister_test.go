package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickflow-systems/tickflow-stack/common/envelope"
	"github.com/tickflow-systems/tickflow-stack/common/logging"
	"github.com/tickflow-systems/tickflow-stack/common/models"
	"github.com/tickflow-systems/tickflow-stack/common/obsv"
	"github.com/tickflow-systems/tickflow-stack/persister/internal/ilp"
)

// captureSink records written lines; err fails every write.
type captureSink struct {
	mu    sync.Mutex
	lines [][]byte
	err   error
}

func (s *captureSink) WriteLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, append([]byte(nil), line...))
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

func (s *captureSink) line(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines[i]
}

// fakeWatermarks serves a scripted high watermark and counts queries.
type fakeWatermarks struct {
	hwm     int64
	err     error
	queries int
}

func (w *fakeWatermarks) HighWaterMark(topic string, partition int32) (int64, error) {
	w.queries++
	if w.err != nil {
		return 0, w.err
	}
	return w.hwm, nil
}

func newTestObs(t *testing.T) *obsv.Handle {
	t.Helper()
	obs, err := obsv.Init("test", 0, logging.New(slog.LevelError, "text"))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = obs.Close(ctx)
	})
	return obs
}

func startPersister(t *testing.T, sink LineWriter, obs *obsv.Handle) *gochannel.GoChannel {
	t.Helper()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())

	p := NewPersister(pubsub, sink, "ticks.norm", nil, 0, obs)
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("persistence loop did not stop")
		}
		_ = pubsub.Close()
	})

	return pubsub
}

func normalizedMessage(t *testing.T, tick models.NormalizedTick) *message.Message {
	t.Helper()
	payload, err := json.Marshal(tick)
	require.NoError(t, err)
	return envelope.New(payload)
}

func TestRun_WritesEncodedLineAndCommits(t *testing.T) {
	obs := newTestObs(t)
	sink := &captureSink{}
	pubsub := startPersister(t, sink, obs)

	tick := models.NormalizedTick{
		TsMs:    1700000000000,
		Symbol:  "BTCUSDT",
		Price:   101.5,
		Qty:     0.002,
		TradeID: 42,
	}
	msg := normalizedMessage(t, tick)
	require.NoError(t, pubsub.Publish("ticks.norm", msg))

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	want := ilp.Encode(tick, envelope.MessageID(msg))
	assert.Equal(t, string(want), string(sink.line(0)))

	assert.Equal(t, 1.0, testutil.ToFloat64(obs.Metrics.Consumed))
	assert.Equal(t, 0.0, testutil.ToFloat64(obs.Metrics.Dropped))
}

func TestRun_DropsUndecodablePayload(t *testing.T) {
	obs := newTestObs(t)
	sink := &captureSink{}
	pubsub := startPersister(t, sink, obs)

	require.NoError(t, pubsub.Publish("ticks.norm", envelope.New([]byte("{broken"))))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(obs.Metrics.Dropped) == 1.0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, sink.count())
}

func TestRun_AbandonsTickOnSinkFailureAndKeepsGoing(t *testing.T) {
	obs := newTestObs(t)
	sink := &captureSink{err: errors.New("sink down")}
	pubsub := startPersister(t, sink, obs)

	require.NoError(t, pubsub.Publish("ticks.norm",
		normalizedMessage(t, models.NormalizedTick{Symbol: "BTCUSDT", TsMs: 1})))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(obs.Metrics.Dropped) == 1.0
	}, 2*time.Second, 10*time.Millisecond)

	// Sink recovers; the next tick goes through.
	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	require.NoError(t, pubsub.Publish("ticks.norm",
		normalizedMessage(t, models.NormalizedTick{Symbol: "BTCUSDT", TsMs: 2})))

	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(obs.Metrics.Consumed))
}

func TestLagSampler_ComputesLag(t *testing.T) {
	obs := newTestObs(t)
	wm := &fakeWatermarks{hwm: 15}

	s := newLagSampler(wm, "ticks.norm", obs, 5*time.Second)
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }
	s.position = func(*message.Message) (int32, int64, bool) { return 0, 9, true }

	s.maybeSample(message.NewMessage("id", nil))

	assert.Equal(t, 1, wm.queries)
	// hwm 15, last consumed offset 9: next offset is 10, so 5 behind.
	assert.Equal(t, 5.0, testutil.ToFloat64(obs.Metrics.ConsumerLag))
}

func TestLagSampler_ThrottlesToInterval(t *testing.T) {
	obs := newTestObs(t)
	wm := &fakeWatermarks{hwm: 10}

	s := newLagSampler(wm, "ticks.norm", obs, 5*time.Second)
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }
	s.position = func(*message.Message) (int32, int64, bool) { return 0, 0, true }

	msg := message.NewMessage("id", nil)
	s.maybeSample(msg)
	s.maybeSample(msg)
	s.maybeSample(msg)
	assert.Equal(t, 1, wm.queries, "within the interval only one query fires")

	clock = clock.Add(5 * time.Second)
	s.maybeSample(msg)
	assert.Equal(t, 2, wm.queries)
}

func TestLagSampler_FlooredAtZero(t *testing.T) {
	obs := newTestObs(t)
	wm := &fakeWatermarks{hwm: 5}

	s := newLagSampler(wm, "ticks.norm", obs, time.Nanosecond)
	s.position = func(*message.Message) (int32, int64, bool) { return 0, 9, true }

	s.maybeSample(message.NewMessage("id", nil))

	assert.Equal(t, 0.0, testutil.ToFloat64(obs.Metrics.ConsumerLag))
}

func TestLagSampler_QueryFailureDoesNotRefirePerMessage(t *testing.T) {
	obs := newTestObs(t)
	wm := &fakeWatermarks{err: errors.New("broker timeout")}

	s := newLagSampler(wm, "ticks.norm", obs, 5*time.Second)
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }
	s.position = func(*message.Message) (int32, int64, bool) { return 0, 0, true }

	msg := message.NewMessage("id", nil)
	s.maybeSample(msg)
	s.maybeSample(msg)
	assert.Equal(t, 1, wm.queries, "a failing query is still gated by the interval")
}

func TestLagSampler_SkipsMessagesWithoutPartitionMetadata(t *testing.T) {
	obs := newTestObs(t)
	wm := &fakeWatermarks{hwm: 10}

	s := newLagSampler(wm, "ticks.norm", obs, time.Nanosecond)

	// In-memory messages carry no Kafka position, so the default position
	// lookup reports !ok and no query is made.
	s.maybeSample(message.NewMessage("id", nil))
	assert.Zero(t, wm.queries)
}

func TestNilLagSampler_IsSafe(t *testing.T) {
	var s *lagSampler
	s.maybeSample(message.NewMessage("id", nil))
}
