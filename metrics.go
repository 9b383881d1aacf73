package apmz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the agent's own bookkeeping as Prometheus metrics.
// A nil *Metrics records nothing.
type Metrics struct {
	registry prometheus.Registerer

	spansStarted   prometheus.Counter
	spansDropped   prometheus.Counter
	transactions   *prometheus.CounterVec
	replaced       prometheus.Counter
	errorsReported prometheus.Counter
	filterFailures prometheus.Counter
	eventsFiltered prometheus.Counter
	eventsRejected prometheus.Counter
}

// NewMetrics registers the agent metrics with registry. A nil registry gets
// a private one.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		spansStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "spans_started_total",
			Help:      "Spans recorded under a transaction.",
		}),
		spansDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "spans_dropped_total",
			Help:      "Spans not recorded because the transaction reached its span limit.",
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "transactions_ended_total",
			Help:      "Transactions ended, by sampling decision.",
		}, []string{"sampled"}),
		replaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "transactions_replaced_total",
			Help:      "Transactions discarded because another was started on the same execution context.",
		}),
		errorsReported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "errors_reported_total",
			Help:      "Errors and messages reported.",
		}),
		filterFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "filter_failures_total",
			Help:      "Filter callbacks that panicked.",
		}),
		eventsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "events_filtered_total",
			Help:      "Payloads dropped by a filter.",
		}),
		eventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      "events_rejected_total",
			Help:      "Events the serializer did not recognize.",
		}),
	}

	registry.MustRegister(
		m.spansStarted,
		m.spansDropped,
		m.transactions,
		m.replaced,
		m.errorsReported,
		m.filterFailures,
		m.eventsFiltered,
		m.eventsRejected,
	)
	return m
}

// observeCollector exports the collector's drop counter.
func (m *Metrics) observeCollector(c *Collector) {
	if m == nil || c == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "apmz",
		Name:        "collector_dropped_total",
		Help:        "Finished events dropped because the collector buffer was full.",
		ConstLabels: prometheus.Labels{"collector": c.name},
	}, func() float64 {
		return float64(c.DroppedCount())
	}))
}

func (m *Metrics) spanStarted() {
	if m != nil {
		m.spansStarted.Inc()
	}
}

func (m *Metrics) spanDropped() {
	if m != nil {
		m.spansDropped.Inc()
	}
}

func (m *Metrics) transactionEnded(sampled bool) {
	if m == nil {
		return
	}
	label := "false"
	if sampled {
		label = "true"
	}
	m.transactions.WithLabelValues(label).Inc()
}

func (m *Metrics) transactionReplaced() {
	if m != nil {
		m.replaced.Inc()
	}
}

func (m *Metrics) errorReported() {
	if m != nil {
		m.errorsReported.Inc()
	}
}

func (m *Metrics) filterFailed() {
	if m != nil {
		m.filterFailures.Inc()
	}
}

func (m *Metrics) eventFiltered() {
	if m != nil {
		m.eventsFiltered.Inc()
	}
}

func (m *Metrics) eventRejected() {
	if m != nil {
		m.eventsRejected.Inc()
	}
}
