package remote

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type serviceMetrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connections prometheus.Gauge
}

func newServiceMetrics() *serviceMetrics {
	return &serviceMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labmodular",
				Subsystem: "remote",
				Name:      "requests_total",
				Help:      "Remote requests served, by operation and result code.",
			},
			[]string{"op", "module", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "labmodular",
				Subsystem: "remote",
				Name:      "request_duration_seconds",
				Help:      "Remote request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op", "module"},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "labmodular",
				Subsystem: "remote",
				Name:      "connections",
				Help:      "Open remote connections.",
			},
		),
	}
}

func (m *serviceMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.duration, m.connections}
}

func (m *serviceMetrics) record(op MessageType, module, code string, d time.Duration) {
	if code == "" {
		code = "ok"
	}
	m.requests.WithLabelValues(op.String(), module, code).Inc()
	m.duration.WithLabelValues(op.String(), module).Observe(d.Seconds())
}
