package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the host does to the runtime graph and the history. A
// nil *Metrics is valid and records nothing.
type Metrics struct {
	GraphOps      *prometheus.CounterVec
	Nodes         prometheus.Gauge
	Connections   prometheus.Gauge
	Transactions  prometheus.Counter
	Undos         prometheus.Counter
	Redos         prometheus.Counter
	Flushes       prometheus.Counter
	FlushInterval prometheus.Gauge
	Failures      prometheus.Counter
}

const (
	opAddNode          = "add_node"
	opRemoveNode       = "remove_node"
	opAddConnection    = "add_connection"
	opRemoveConnection = "remove_connection"
)

// NewMetrics registers the metrics with reg. Use prometheus.NewRegistry() in
// tests to avoid clashes with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GraphOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soundmachine_graph_operations_total",
			Help: "Structural changes applied to the runtime audio graph.",
		}, []string{"op"}),
		Nodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "soundmachine_graph_nodes",
			Help: "Processor instances in the runtime audio graph.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "soundmachine_graph_connections",
			Help: "Edges in the runtime audio graph.",
		}),
		Transactions: f.NewCounter(prometheus.CounterOpts{
			Name: "soundmachine_history_transactions_total",
			Help: "Undo transactions started.",
		}),
		Undos: f.NewCounter(prometheus.CounterOpts{
			Name: "soundmachine_history_undos_total",
			Help: "Transactions undone.",
		}),
		Redos: f.NewCounter(prometheus.CounterOpts{
			Name: "soundmachine_history_redos_total",
			Help: "Transactions redone.",
		}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Name: "soundmachine_parameter_flushes_total",
			Help: "Parameter values copied from the audio side into the project.",
		}),
		FlushInterval: f.NewGauge(prometheus.GaugeOpts{
			Name: "soundmachine_parameter_flush_interval_seconds",
			Help: "Current interval of the parameter flush task.",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "soundmachine_processor_instantiation_failures_total",
			Help: "Processors that could not be instantiated.",
		}),
	}
}

func (m *Metrics) graphOp(op string) {
	if m != nil {
		m.GraphOps.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) graphSize(nodes, connections int) {
	if m != nil {
		m.Nodes.Set(float64(nodes))
		m.Connections.Set(float64(connections))
	}
}

func (m *Metrics) transaction() {
	if m != nil {
		m.Transactions.Inc()
	}
}

func (m *Metrics) undo() {
	if m != nil {
		m.Undos.Inc()
	}
}

func (m *Metrics) redo() {
	if m != nil {
		m.Redos.Inc()
	}
}

func (m *Metrics) flushed(n int) {
	if m != nil {
		m.Flushes.Add(float64(n))
	}
}

func (m *Metrics) flushInterval(seconds float64) {
	if m != nil {
		m.FlushInterval.Set(seconds)
	}
}

func (m *Metrics) failure() {
	if m != nil {
		m.Failures.Inc()
	}
}
