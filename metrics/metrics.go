package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of the data-access core. All
// consumers treat a nil *Metrics as "metrics disabled".
type Metrics struct {
	// Server channel metrics
	RequestsTotal   *prometheus.CounterVec
	RequestErrors   prometheus.Counter
	ReconnectsTotal prometheus.Counter
	BytesSent       prometheus.Counter
	BytesReceived   prometheus.Counter

	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheEntriesTotal   prometheus.Gauge
}

// New creates and registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "comm",
			Name:      "requests_total",
			Help:      "Total number of protocol requests by command code",
		}, []string{"command"}),
		RequestErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "comm",
			Name:      "request_errors_total",
			Help:      "Total number of failed protocol requests",
		}),
		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "comm",
			Name:      "reconnects_total",
			Help:      "Total number of reconnection attempts",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "comm",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to the server socket",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "comm",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from the server socket",
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		CacheEvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scada",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of cache evictions",
		}),
		CacheEntriesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "scada",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cache entries",
		}),
	}
}
