// Package observability provides Prometheus metrics for the feed service.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "ftfeed"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Chain metrics
	RPCCallLatency *prometheus.HistogramVec
	PollIterations *prometheus.CounterVec

	// Event metrics
	EventsDecoded  *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	EventsAdmitted *prometheus.CounterVec
	PendingEvents  *prometheus.GaugeVec

	// Profile metrics
	ProfileFetches      *prometheus.CounterVec
	ProfileFetchLatency prometheus.Histogram
	ProfilesStored      prometheus.Gauge

	// Session metrics
	ActiveSessions    prometheus.Gauge
	ActiveFeeds       *prometheus.GaugeVec
	NotificationsSent *prometheus.CounterVec

	// Export metrics
	OutboxEvents *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers every metric with reg. Passing a fresh prometheus.NewRegistry()
// keeps tests isolated from the default registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "Chain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		PollIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "poller",
			Name:      "iterations_total",
			Help:      "Total number of poll iterations by loop and status",
		}, []string{"loop", "status"}),

		EventsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "decoded_total",
			Help:      "Total number of events decoded from logs",
		}, []string{"kind"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events dropped by reason",
		}, []string{"kind", "reason"}),
		EventsAdmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "admitted_total",
			Help:      "Total number of events admitted for display",
		}, []string{"kind"}),
		PendingEvents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "pending",
			Help:      "Current number of events waiting for profiles",
		}, []string{"kind"}),

		ProfileFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "profile",
			Name:      "fetches_total",
			Help:      "Total number of profile fetch attempts by result",
		}, []string{"result"}),
		ProfileFetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "profile",
			Name:      "fetch_latency_seconds",
			Help:      "Profile service request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ProfilesStored: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "profile",
			Name:      "stored",
			Help:      "Current number of profiles in the store",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Current number of open sessions",
		}),
		ActiveFeeds: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "feed",
			Name:      "active",
			Help:      "Running feeds by tier",
		}, []string{"tier"}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Total number of notifications delivered by sink",
		}, []string{"sink"}),

		OutboxEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "export",
			Name:      "outbox_events_total",
			Help:      "Total number of outbox events by status",
		}, []string{"status"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		}, []string{"method", "code"}),

		gatherer: reg,
	}
}

// NewNopMetrics returns metrics bound to a private registry.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveRPC records the latency of one chain call.
func (m *Metrics) ObserveRPC(method string, start time.Time) {
	m.RPCCallLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// Handler serves the metrics of this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
