// Package metrics exposes the prometheus collectors for the real-time layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketplace"

// Metrics groups the collectors registered on a dedicated registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	WSConnections     prometheus.Gauge
	WSRooms           prometheus.Gauge
	WSMessages        *prometheus.CounterVec // by direction, type
	SSESubscribers    prometheus.Gauge
	SSEEvents         *prometheus.CounterVec // by outcome: delivered, dropped, replayed
	Uploads           *prometheus.CounterVec // by outcome
	UploadBytes       prometheus.Histogram
	HTTPRequests      *prometheus.CounterVec // by method, route, status
	HTTPRequestLength *prometheus.HistogramVec
}

// New creates and registers every collector, plus the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Open websocket connections.",
		}),
		WSRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "rooms",
			Help: "Chat rooms with at least one subscriber.",
		}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "messages_total",
			Help: "Websocket frames by direction and envelope type.",
		}, []string{"direction", "type"}),
		SSESubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sse", Name: "subscribers",
			Help: "Open notification streams.",
		}),
		SSEEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sse", Name: "events_total",
			Help: "Notification events by outcome.",
		}, []string{"outcome"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chat", Name: "uploads_total",
			Help: "Chat image uploads by outcome.",
		}, []string{"outcome"}),
		UploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "chat", Name: "upload_bytes",
			Help:    "Size of accepted chat images.",
			Buckets: prometheus.ExponentialBuckets(16<<10, 2, 9),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestLength: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WSConnections, m.WSRooms, m.WSMessages,
		m.SSESubscribers, m.SSEEvents,
		m.Uploads, m.UploadBytes,
		m.HTTPRequests, m.HTTPRequestLength,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetWSConnections(n int) {
	if m != nil {
		m.WSConnections.Set(float64(n))
	}
}

func (m *Metrics) SetWSRooms(n int) {
	if m != nil {
		m.WSRooms.Set(float64(n))
	}
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m != nil {
		m.WSMessages.WithLabelValues(direction, msgType).Inc()
	}
}

func (m *Metrics) SSESubscriberDelta(delta int) {
	if m != nil {
		m.SSESubscribers.Add(float64(delta))
	}
}

func (m *Metrics) SSEEvent(outcome string) {
	if m != nil {
		m.SSEEvents.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Upload(outcome string, size int64) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(outcome).Inc()
	if outcome == "accepted" {
		m.UploadBytes.Observe(float64(size))
	}
}
