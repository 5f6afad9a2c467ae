// Package metrics vends the Prometheus instrumentation shared by the wave services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

// Metrics holds the collectors of one service. Each instance owns its registry so that several
// services, or tests, can live in one process.
type Metrics struct {
	reg *prometheus.Registry

	RequestsTotal *prometheus.CounterVec
	ReqDuration   *prometheus.HistogramVec
	InFlight      prometheus.Gauge
	// WaveOps counts wave operations by outcome, i.e., the error code or "ok"
	WaveOps *prometheus.CounterVec
}

const OutcomeOK = "ok"

func New(service string) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "wave", Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"route", "method", "status"},
		),
		ReqDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wave",
				Name:      "http_request_duration_seconds",
				Help:      "Request duration seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: "wave", Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
		),
		WaveOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "wave", Name: "operations_total", Help: "Wave operations by outcome"},
			[]string{"op", "outcome"},
		),
	}
	m.reg.MustRegister(
		m.RequestsTotal,
		m.ReqDuration,
		m.InFlight,
		m.WaveOps,
		version.NewCollector(service),
		prometheus.NewGoCollector(),
	)
	return m
}

// ObserveRequest records a served request
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.ReqDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// CountOp records the outcome of a wave operation
func (m *Metrics) CountOp(op, outcome string) {
	m.WaveOps.WithLabelValues(op, outcome).Inc()
}

// Handler serves the collectors of m in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
