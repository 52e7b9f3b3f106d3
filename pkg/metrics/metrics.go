// Package metrics exports gateway activity as Prometheus metrics.
//
// Metrics collected (namespace "gateway" by default):
//   - gateway_connections_open: Gauge of open connections
//   - gateway_connections_closed_total: Counter of closed connections by close code
//   - gateway_frames_received_total: Counter of inbound frames by kind
//   - gateway_sessions_identified_total: Counter of successful IDENTIFYs
//   - gateway_sessions_resumed_total: Counter of successful RESUMEs
//   - gateway_resume_replayed_events: Histogram of events replayed per RESUME
//   - gateway_sessions_purged_total: Counter of sessions removed from the registry
//   - gateway_events_dispatched_total: Counter of application events by type
//   - gateway_event_deliveries_total: Counter of per-session dispatches
//   - gateway_sessions_active / gateway_sessions_detached: Gauges read from registry stats
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(metrics.WithRegistry(reg))
//	gw, _ := gateway.New(cfg, verifier, gateway.WithObserver(m))
//	m.TrackStats(func() gateway.Stats { return gw.Stats() })
//	srvCfg.MetricsHandler = m.Handler()
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/gateway/pkg/gateway"
	"github.com/vango-dev/gateway/pkg/protocol"
)

// Config configures the metrics observer.
type Config struct {
	// Namespace is the metrics namespace (default: "gateway").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// ReplayBuckets are the histogram buckets for replayed events.
	ReplayBuckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the metrics observer.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace:     "gateway",
		ReplayBuckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		Registry:      prometheus.DefaultRegisterer,
	}
}

// Observer records gateway lifecycle events. It implements
// gateway.Observer.
type Observer struct {
	config  Config
	factory promauto.Factory

	connectionsOpen   prometheus.Gauge
	connectionsClosed *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	identified        prometheus.Counter
	resumed           prometheus.Counter
	replayed          prometheus.Histogram
	purged            prometheus.Counter
	dispatched        *prometheus.CounterVec
	deliveries        prometheus.Counter
}

var _ gateway.Observer = (*Observer)(nil)

// New registers the gateway metrics and returns an observer for them.
// It panics if the metrics are already registered with the registry.
func New(opts ...Option) *Observer {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registry)

	o := &Observer{config: config, factory: factory}
	o.connectionsOpen = factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "connections_open",
		Help:        "Number of open gateway connections",
		ConstLabels: config.ConstLabels,
	})
	o.connectionsClosed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "connections_closed_total",
		Help:        "Total closed connections by close code",
		ConstLabels: config.ConstLabels,
	}, []string{"code", "reason"})
	o.framesReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "frames_received_total",
		Help:        "Total inbound frames by operation",
		ConstLabels: config.ConstLabels,
	}, []string{"kind"})
	o.identified = factory.NewCounter(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "sessions_identified_total",
		Help:        "Total sessions created by IDENTIFY",
		ConstLabels: config.ConstLabels,
	})
	o.resumed = factory.NewCounter(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "sessions_resumed_total",
		Help:        "Total successful RESUMEs",
		ConstLabels: config.ConstLabels,
	})
	o.replayed = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "resume_replayed_events",
		Help:        "Dispatches replayed per RESUME",
		ConstLabels: config.ConstLabels,
		Buckets:     config.ReplayBuckets,
	})
	o.purged = factory.NewCounter(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "sessions_purged_total",
		Help:        "Total sessions removed from the registry",
		ConstLabels: config.ConstLabels,
	})
	o.dispatched = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "events_dispatched_total",
		Help:        "Total application events by type",
		ConstLabels: config.ConstLabels,
	}, []string{"type"})
	o.deliveries = factory.NewCounter(prometheus.CounterOpts{
		Namespace:   config.Namespace,
		Subsystem:   config.Subsystem,
		Name:        "event_deliveries_total",
		Help:        "Total per-session dispatches of application events",
		ConstLabels: config.ConstLabels,
	})
	return o
}

// TrackStats exports registry gauges read from stats at scrape time.
func (o *Observer) TrackStats(stats func() gateway.Stats) {
	gauge := func(name, help string, value func(gateway.Stats) int64) {
		o.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   o.config.Namespace,
			Subsystem:   o.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: o.config.ConstLabels,
		}, func() float64 { return float64(value(stats())) })
	}
	gauge("sessions_active", "Registered sessions with a connection",
		func(s gateway.Stats) int64 { return int64(s.Active) })
	gauge("sessions_detached", "Registered sessions waiting to be resumed",
		func(s gateway.Stats) int64 { return int64(s.Detached) })
	gauge("sessions_peak", "Highest concurrent session count",
		func(s gateway.Stats) int64 { return s.Peak })
}

// Handler serves the registry the observer was created with.
func (o *Observer) Handler() http.Handler {
	if g, ok := o.config.Registry.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

func (o *Observer) ConnectionOpened() {
	o.connectionsOpen.Inc()
}

func (o *Observer) ConnectionClosed(code protocol.CloseCode) {
	o.connectionsOpen.Dec()
	o.connectionsClosed.WithLabelValues(strconv.Itoa(int(code)), code.String()).Inc()
}

func (o *Observer) FrameReceived(kind protocol.Kind) {
	o.framesReceived.WithLabelValues(kind.String()).Inc()
}

func (o *Observer) SessionIdentified() {
	o.identified.Inc()
}

func (o *Observer) SessionResumed(replayed int) {
	o.resumed.Inc()
	o.replayed.Observe(float64(replayed))
}

func (o *Observer) SessionPurged() {
	o.purged.Inc()
}

func (o *Observer) EventDispatched(eventType string, sessions int) {
	o.dispatched.WithLabelValues(eventType).Inc()
	o.deliveries.Add(float64(sessions))
}
