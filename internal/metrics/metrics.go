package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auto-fib/pkg/models"
)

// Calculation outcomes
const (
	OutcomeOK               = "ok"
	OutcomeInsufficientData = "insufficient_data"
	OutcomeInvalidPrice     = "invalid_price_data"
	OutcomeFetchError       = "fetch_error"
	OutcomeTimeout          = "timeout"
	OutcomeError            = "error"
)

// Metrics holds the Prometheus collectors of the analyzer and the API
type Metrics struct {
	registry *prometheus.Registry

	Calculations  *prometheus.CounterVec   // labels: outcome
	Signals       *prometheus.CounterVec   // labels: symbol, signal
	FetchDuration *prometheus.HistogramVec // labels: source
	SinkErrors    *prometheus.CounterVec   // labels: sink
	WSClients     prometheus.Gauge
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autofib_calculations_total",
			Help: "Fibonacci calculations by outcome",
		}, []string{"outcome"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autofib_signals_total",
			Help: "Signals emitted by symbol and signal",
		}, []string{"symbol", "signal"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autofib_fetch_duration_seconds",
			Help:    "Historical bar fetch latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autofib_sink_errors_total",
			Help: "Failed analysis deliveries by sink",
		}, []string{"sink"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autofib_ws_clients",
			Help: "Connected websocket clients",
		}),
	}

	m.registry.MustRegister(
		m.Calculations,
		m.Signals,
		m.FetchDuration,
		m.SinkErrors,
		m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the registry for tests and custom handlers
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records how long a source took to answer
func (m *Metrics) ObserveFetch(source string, d time.Duration) {
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveCalculation counts a calculation outcome
func (m *Metrics) ObserveCalculation(outcome string) {
	m.Calculations.WithLabelValues(outcome).Inc()
}

// ObserveSignal counts an emitted signal
func (m *Metrics) ObserveSignal(symbol string, signal models.Signal) {
	m.Signals.WithLabelValues(symbol, string(signal)).Inc()
}

// ObserveSinkError counts a failed delivery
func (m *Metrics) ObserveSinkError(sink string) {
	m.SinkErrors.WithLabelValues(sink).Inc()
}
