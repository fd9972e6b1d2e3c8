// Package obsv is the process-wide observability facility for the pipeline.
// Init is called once per stage and returns an explicit handle carrying the
// structured logger, the stage's Prometheus registry and the pipeline metric
// set; nothing in this package is ambient global state.
package obsv

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tickflow-systems/tickflow-stack/common/logging"
)

// latencyBuckets cover sub-millisecond local writes up to multi-second
// broker timeouts. All pipeline histograms are recorded in milliseconds.
var latencyBuckets = []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Metrics is the metric surface shared by all stages. Every stage registers
// the full set so dashboards can address any stage uniformly; a stage simply
// never touches the series that do not apply to it.
type Metrics struct {
	Produced prometheus.Counter
	Consumed prometheus.Counter
	Dropped  prometheus.Counter
	Dupes    prometheus.Counter

	ProduceLatency prometheus.Histogram
	CommitLatency  prometheus.Histogram
	SinkWrite      prometheus.Histogram
	E2ELatency     prometheus.Histogram

	ConsumerLag prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Produced: factory.NewCounter(prometheus.CounterOpts{
			Name: "produced_total",
			Help: "Messages produced",
		}),
		Consumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "consumed_total",
			Help: "Messages consumed",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropped_total",
			Help: "Messages dropped",
		}),
		Dupes: factory.NewCounter(prometheus.CounterOpts{
			Name: "dupes_total",
			Help: "Duplicate messages",
		}),
		ProduceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "produce_latency_ms",
			Help:    "Kafka produce latency",
			Buckets: latencyBuckets,
		}),
		CommitLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "commit_latency_ms",
			Help:    "Kafka commit latency",
			Buckets: latencyBuckets,
		}),
		SinkWrite: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "questdb_write_ms",
			Help:    "QuestDB write latency",
			Buckets: latencyBuckets,
		}),
		E2ELatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "e2e_latency_ms",
			Help:    "E2E latency producer->consumer",
			Buckets: latencyBuckets,
		}),
		ConsumerLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "consumer_lag",
			Help: "Kafka consumer lag",
		}),
	}
}

// Handle bundles the per-stage observability state. It is created once in
// main and injected into the stage constructor; Close shuts the exposition
// server down on the way out.
type Handle struct {
	Log     *logging.Logger
	Metrics *Metrics

	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
}

// Init builds the stage registry, binds the /metrics exposition endpoint on
// the given port and starts serving it in the background. A port that cannot
// be bound is a startup error; callers treat it as fatal.
func Init(stage string, port int, log *logging.Logger) (*Handle, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind metrics port %d: %w", port, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	h := &Handle{
		Log:      log.With(logging.Stage(stage)),
		Metrics:  newMetrics(reg),
		registry: reg,
		server:   &http.Server{Handler: mux},
		listener: ln,
	}

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.Log.Error("metrics server stopped", logging.Error(err))
		}
	}()

	return h, nil
}

// Registry exposes the stage registry, mainly for tests.
func (h *Handle) Registry() *prometheus.Registry {
	return h.registry
}

// Addr returns the bound address of the metrics listener.
func (h *Handle) Addr() string {
	return h.listener.Addr().String()
}

// Close shuts down the metrics exposition server.
func (h *Handle) Close(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// MillisSince returns the elapsed time since t0 in milliseconds.
func MillisSince(t0 time.Time) float64 {
	return float64(time.Since(t0)) / float64(time.Millisecond)
}

// Timed measures fn and records the elapsed milliseconds on obs. The
// observation is recorded whether or not fn fails, so failed attempts still
// show up in the latency distribution.
func Timed(obs prometheus.Observer, fn func() error) error {
	t0 := time.Now()
	err := fn()
	obs.Observe(MillisSince(t0))
	return err
}
