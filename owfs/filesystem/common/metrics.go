package common

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "overwatch"

// WatchMetrics holds the Prometheus collectors for the polling engine.
// A nil *WatchMetrics is valid and records nothing.
type WatchMetrics struct {
	ticksTotal          prometheus.Counter
	updatesTotal        *prometheus.CounterVec
	scanDuration        prometheus.Histogram
	eventsTotal         *prometheus.CounterVec
	deliveriesTotal     *prometheus.CounterVec
	handlerPanicsTotal  prometheus.Counter
	snapshotsActive     prometheus.Gauge
	subscriptionsActive prometheus.Gauge
}

// NewWatchMetrics registers the engine collectors with reg.
// When reg is nil a private registry is used so multiple engines can coexist.
func NewWatchMetrics(reg prometheus.Registerer) *WatchMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &WatchMetrics{
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks",
		}),
		updatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_updates_total",
			Help:      "Snapshot update attempts by result",
		}, []string{"result"}),
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_update_duration_seconds",
			Help:      "Time spent scanning and diffing one snapshot",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_detected_total",
			Help:      "Change events detected by the diff engine",
		}, []string{"kind"}),
		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_delivered_total",
			Help:      "Change events delivered to subscriptions after filtering",
		}, []string{"kind"}),
		handlerPanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_panics_total",
			Help:      "Subscription handlers that panicked",
		}),
		snapshotsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "snapshots",
			Help:      "Number of snapshots in the scheduler table",
		}),
		subscriptionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscriptions",
			Help:      "Number of registered subscriptions",
		}),
	}
}

// Update result labels
const (
	UpdateOK      = "ok"
	UpdateSkipped = "skipped"
	UpdateDeleted = "deleted"
	UpdateFailed  = "failed"
)

func (m *WatchMetrics) Tick() {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
}

// ObserveUpdate records one snapshot update attempt
func (m *WatchMetrics) ObserveUpdate(start time.Time, result string) {
	if m == nil {
		return
	}
	m.updatesTotal.WithLabelValues(result).Inc()
	if result == UpdateOK {
		m.scanDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *WatchMetrics) EventDetected(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

func (m *WatchMetrics) EventDelivered(kind string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(kind).Inc()
}

func (m *WatchMetrics) HandlerPanicked() {
	if m == nil {
		return
	}
	m.handlerPanicsTotal.Inc()
}

func (m *WatchMetrics) SetSnapshots(n int) {
	if m == nil {
		return
	}
	m.snapshotsActive.Set(float64(n))
}

func (m *WatchMetrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptionsActive.Set(float64(n))
}

// Collectors exposes the underlying collectors for tests
func (m *WatchMetrics) Collectors() (ticks prometheus.Counter, updates, detected, delivered *prometheus.CounterVec) {
	return m.ticksTotal, m.updatesTotal, m.eventsTotal, m.deliveriesTotal
}

// Gauges exposes the table size gauges for tests
func (m *WatchMetrics) Gauges() (snapshots, subscriptions prometheus.Gauge) {
	return m.snapshotsActive, m.subscriptionsActive
}
