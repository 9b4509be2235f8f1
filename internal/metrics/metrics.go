package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rockbandpay"

// Metrics groups every collector the POS processes export. Pass the
// result of New to the components; a nil *Metrics disables recording.
type Metrics struct {
	BackendRequests *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
	PushEvents      *prometheus.CounterVec
	Refetches       *prometheus.CounterVec
	Reconnects      prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec

	reg *prometheus.Registry
}

func New(service string) *Metrics {
	m := &Metrics{
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "backend_requests_total",
			Help:      "Requests sent to the POS backend.",
		}, []string{"route", "status"}),
		BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "backend_request_duration_ms",
			Help:      "POS backend latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		PushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "push_events_total",
			Help:      "Push events received, by type and outcome.",
		}, []string{"type", "outcome"}),
		Refetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "board_refetches_total",
			Help:      "Board partition refetches, by partition and outcome.",
		}, []string{"partition", "outcome"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "push_reconnects_total",
			Help:      "Reconnect attempts of the push channel.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		reg: prometheus.NewRegistry(),
	}
	m.reg.MustRegister(
		m.BackendRequests, m.BackendLatency, m.PushEvents, m.Refetches,
		m.Reconnects, m.HTTPRequests, m.HTTPLatency,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveBackend(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(route, statusLabel(status)).Inc()
	m.BackendLatency.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObservePush(eventType, outcome string) {
	if m == nil {
		return
	}
	m.PushEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveRefetch(partition string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Refetches.WithLabelValues(partition, outcome).Inc()
}

func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) ObserveHTTP(handler string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(handler, statusLabel(status)).Inc()
	m.HTTPLatency.WithLabelValues(handler).Observe(float64(d.Milliseconds()))
}

// status 0 means the request never got a response.
func statusLabel(status int) string {
	if status == 0 {
		return "transport_error"
	}
	return strconv.Itoa(status)
}
