// Package metrics exports engine and feeder counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/friendbet/internal/domain"
)

const namespace = "friendbet"

// Metrics implements engine.Observer on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	settlements *prometheus.CounterVec
	fees        prometheus.Counter
	quotes      prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Lifecycle operations by name and result.",
		}, []string{"op", "result"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settled bets by direction and winning side.",
		}, []string{"direction", "winner"}),
		fees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_collected_units_total",
			Help:      "Protocol fees paid out on claim, in base units.",
		}),
		quotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feeder_quotes_total",
			Help:      "Oracle quotes written to the price cache.",
		}),
	}
	m.registry.MustRegister(
		m.operations,
		m.settlements,
		m.fees,
		m.quotes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOperation counts an operation outcome. Failures are labeled with
// the domain error kind.
func (m *Metrics) ObserveOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// ObserveSettlement counts a settlement by direction and winning side.
func (m *Metrics) ObserveSettlement(dir domain.Direction, betterWon bool) {
	winner := "matcher"
	if betterWon {
		winner = "better"
	}
	m.settlements.WithLabelValues(dir.String(), winner).Inc()
}

// AddFees adds collected fees.
func (m *Metrics) AddFees(fee uint64) {
	m.fees.Add(float64(fee))
}

// AddQuotes counts quotes stored by the feeder.
func (m *Metrics) AddQuotes(n int) {
	m.quotes.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
