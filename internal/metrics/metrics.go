// Package metrics exposes Prometheus collectors for the cache, retry and
// realtime layers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the layer reports.
type Metrics struct {
	// CacheLookups counts lookups by tier (memory, storage) and result (hit, miss).
	CacheLookups *prometheus.CounterVec
	// CacheEvictions counts LRU evictions from the memory tier.
	CacheEvictions prometheus.Counter
	// CacheDroppedWrites counts persistent writes discarded after a failure.
	CacheDroppedWrites prometheus.Counter
	// Retries counts retries by error class.
	Retries *prometheus.CounterVec
	// RealtimeState is 1 for the channel's current state and 0 for the others.
	RealtimeState *prometheus.GaugeVec
	// RealtimeReconnects counts scheduled reconnects.
	RealtimeReconnects prometheus.Counter
	// Notifications counts notifications by outcome (received, shown, suppressed).
	Notifications *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_cache_lookups_total",
				Help: "Cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_cache_evictions_total",
			Help: "Entries evicted from the memory tier",
		}),
		CacheDroppedWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_cache_dropped_writes_total",
			Help: "Persistent tier writes dropped after a failure",
		}),
		Retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_retries_total",
				Help: "Retried operations by error class",
			},
			[]string{"class"},
		),
		RealtimeState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aegis_realtime_state",
				Help: "Current realtime connection state",
			},
			[]string{"state"},
		),
		RealtimeReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_realtime_reconnects_total",
			Help: "Scheduled realtime reconnect attempts",
		}),
		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_notifications_total",
				Help: "Notifications by dispatch outcome",
			},
			[]string{"outcome"},
		),
	}
}

// CacheLookup records a lookup in tier.
func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// Eviction records an LRU eviction.
func (m *Metrics) Eviction() {
	if m == nil {
		return
	}
	m.CacheEvictions.Inc()
}

// DroppedWrite records a discarded persistent write.
func (m *Metrics) DroppedWrite() {
	if m == nil {
		return
	}
	m.CacheDroppedWrites.Inc()
}

// Retry records a retry of a failure classified as class.
func (m *Metrics) Retry(class string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(class).Inc()
}

// State marks current as the active realtime state among all.
func (m *Metrics) State(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.RealtimeState.WithLabelValues(s).Set(v)
	}
}

// Reconnect records a scheduled reconnect.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.RealtimeReconnects.Inc()
}

// Notification records a dispatch outcome.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}
