package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the ledger core.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	transfersCommitted *prometheus.CounterVec
	operationsRejected *prometheus.CounterVec
	idempotentReplays  prometheus.Counter
	fanOutRecipients   prometheus.Histogram
}

// New creates a dedicated Prometheus registry and registers all application
// metrics in it. Using a private registry avoids "duplicate collector"
// panics when New is called more than once (e.g. in tests).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		transfersCommitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transfers_committed_total",
				Help: "Total transfer rows committed, by workflow.",
			},
			[]string{"workflow"},
		),
		operationsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_rejected_total",
				Help: "Total operations rejected, by reason.",
			},
			[]string{"reason"},
		),
		idempotentReplays: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_idempotent_replays_total",
				Help: "Total retried calls answered from the recorded result.",
			},
		),
		fanOutRecipients: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_fanout_recipients",
				Help:    "Recipient counts of committed fan-out batches.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
	}
}

// IncrTransfersCommitted adds committed transfer rows for a workflow.
func (m *Metrics) IncrTransfersCommitted(workflow string, rows int) {
	m.transfersCommitted.WithLabelValues(workflow).Add(float64(rows))
}

// IncrRejected increments the rejection counter for a reason.
func (m *Metrics) IncrRejected(reason string) {
	m.operationsRejected.WithLabelValues(reason).Inc()
}

// IncrReplay increments the idempotent replay counter.
func (m *Metrics) IncrReplay() {
	m.idempotentReplays.Inc()
}

// ObserveFanOut records the recipient count of a committed fan-out.
func (m *Metrics) ObserveFanOut(recipients int) {
	m.fanOutRecipients.Observe(float64(recipients))
}
