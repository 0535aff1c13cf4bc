// Package metrics owns the Prometheus registry for the gateway.
// All components record through the single Metrics value so the /v2/metrics
// endpoint exposes one consistent view.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all gateway Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Proxy surface
	RequestsTotal    *prometheus.CounterVec // labels: service, code
	UpstreamDuration *prometheus.HistogramVec
	RateLimitedTotal *prometheus.CounterVec // labels: class
	RateLimitErrors  prometheus.Counter

	// Circuit breakers: 0=closed, 1=half-open, 2=open
	BreakerState    *prometheus.GaugeVec
	BreakerRejected *prometheus.CounterVec

	// Event relay
	RelayConnections   prometheus.Gauge
	RelayRooms         prometheus.Gauge
	RelayDelivered     prometheus.Counter
	RelayDropped       prometheus.Counter
	RelaySlowConsumers prometheus.Counter
}

// New creates the gateway metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthpay_gateway_requests_total",
			Help: "Requests handled by the proxy surface, by upstream service and response code",
		}, []string{"service", "code"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthpay_gateway_upstream_duration_seconds",
			Help:    "Upstream call latency through the circuit breaker",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthpay_gateway_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by limit class",
		}, []string{"class"}),
		RateLimitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthpay_gateway_rate_limit_errors_total",
			Help: "Rate limit store failures that resulted in a fail-open allow",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "healthpay_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"service"}),
		BreakerRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthpay_circuit_breaker_rejected_total",
			Help: "Calls rejected while a breaker was open",
		}, []string{"service"}),
		RelayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthpay_relay_connections",
			Help: "Currently connected WebSocket clients",
		}),
		RelayRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "healthpay_relay_rooms",
			Help: "Rooms with at least one subscriber",
		}),
		RelayDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthpay_relay_events_delivered_total",
			Help: "Events pushed to subscribed connections",
		}),
		RelayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthpay_relay_events_dropped_total",
			Help: "Events dropped because a connection buffer was full",
		}),
		RelaySlowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "healthpay_relay_slow_consumers_total",
			Help: "Connections dropped for not keeping up with fan-out",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.UpstreamDuration,
		m.RateLimitedTotal,
		m.RateLimitErrors,
		m.BreakerState,
		m.BreakerRejected,
		m.RelayConnections,
		m.RelayRooms,
		m.RelayDelivered,
		m.RelayDropped,
		m.RelaySlowConsumers,
	)

	return m
}

// Handler returns the HTTP handler serving the registry in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
