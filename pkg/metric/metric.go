package metric

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the process-level collectors for the lifetime manager
// and the actor topics. Domain code updates these through Default(); demos
// expose them over promhttp.
type Metrics struct {
	// Lifetime manager metrics
	TrackedLive     prometheus.Gauge
	TrackedTotal    prometheus.Counter
	OwnedGoroutines prometheus.Gauge
	ShutdownLatched prometheus.Gauge

	// Subprocess metrics
	SubprocessesSpawned prometheus.Counter
	SubprocessesKilled  prometheus.Counter

	// Actor topic metrics
	EventsEmitted   *prometheus.CounterVec
	EventsDelivered prometheus.Counter
	SubscribersLive prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all collectors. The collectors
// are not registered; call Register with the target registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		TrackedLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lifetime",
			Subsystem: "tracked",
			Name:      "live",
			Help:      "Number of currently live tracked entities",
		}),
		TrackedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lifetime",
			Subsystem: "tracked",
			Name:      "registered_total",
			Help:      "Total number of tracked entity registrations",
		}),
		OwnedGoroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lifetime",
			Subsystem: "manager",
			Name:      "owned_goroutines",
			Help:      "Number of goroutines the manager will join on exit",
		}),
		ShutdownLatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lifetime",
			Subsystem: "manager",
			Name:      "shutdown_latched",
			Help:      "1 once the shutdown signal has latched",
		}),
		SubprocessesSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lifetime",
			Subsystem: "subprocess",
			Name:      "spawned_total",
			Help:      "Total number of tracked subprocesses spawned",
		}),
		SubprocessesKilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lifetime",
			Subsystem: "subprocess",
			Name:      "killed_total",
			Help:      "Total number of subprocesses terminated by the shutdown signal",
		}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifetime",
			Subsystem: "actor",
			Name:      "events_emitted_total",
			Help:      "Total number of events emitted, by topic name",
		}, []string{"topic"}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lifetime",
			Subsystem: "actor",
			Name:      "events_delivered_total",
			Help:      "Total number of events delivered to subscriber actors",
		}),
		SubscribersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lifetime",
			Subsystem: "actor",
			Name:      "subscribers_live",
			Help:      "Number of live subscriber actors",
		}),
	}
}

// Register registers all collectors with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.TrackedLive,
		m.TrackedTotal,
		m.OwnedGoroutines,
		m.ShutdownLatched,
		m.SubprocessesSpawned,
		m.SubprocessesKilled,
		m.EventsEmitted,
		m.EventsDelivered,
		m.SubscribersLive,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide Metrics instance, registered against the
// default prometheus registerer on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics()
		// Registration against the default registerer can only conflict
		// with itself; the sync.Once makes that impossible.
		_ = defaultMetrics.Register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}
