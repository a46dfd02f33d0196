package engine

import "github.com/prometheus/client_golang/prometheus"

// metricsCollector publishes the engine's lifetime counters as
// Prometheus metrics. It is registered lazily (Register) rather than
// through the default global registry, so embedding a generation into a
// host process never panics on a duplicate-registration collision.
type metricsCollector struct {
	cyclesStarted    prometheus.Counter
	cyclesCompleted  prometheus.Counter
	sweptObjects     prometheus.Counter
	sweptBytes       prometheus.Counter
	liveObjects      prometheus.Gauge
	liveBytes        prometheus.Gauge
	cycleDuration    prometheus.Histogram
	stopTheWorldTime prometheus.Histogram
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zengc_cycles_started_total",
			Help: "Total number of GC cycles started.",
		}),
		cyclesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zengc_cycles_completed_total",
			Help: "Total number of GC cycles completed.",
		}),
		sweptObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zengc_swept_objects_total",
			Help: "Total number of objects reclaimed by sweep.",
		}),
		sweptBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zengc_swept_bytes_total",
			Help: "Total number of bytes reclaimed by sweep.",
		}),
		liveObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zengc_live_objects",
			Help: "Number of objects that survived the most recent sweep.",
		}),
		liveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zengc_live_bytes",
			Help: "Number of bytes that survived the most recent sweep.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zengc_cycle_duration_seconds",
			Help:    "Wall-clock duration of a complete GC cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		stopTheWorldTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zengc_stop_the_world_seconds",
			Help:    "Cumulative stop-the-world time within one GC cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Collectors returns every metric this collector owns, for callers that
// want to register them with their own prometheus.Registerer.
func (m *metricsCollector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cyclesStarted, m.cyclesCompleted,
		m.sweptObjects, m.sweptBytes,
		m.liveObjects, m.liveBytes,
		m.cycleDuration, m.stopTheWorldTime,
	}
}

// Register adds every metric this collector owns to reg.
func (m *metricsCollector) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
