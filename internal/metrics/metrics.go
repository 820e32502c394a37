package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const Namespace = "beegfs_mirror"

// Metrics holds every collector of a node. Each node owns its registry so
// several nodes can live in one test process.
type Metrics struct {
	Registry *prometheus.Registry

	OpsProcessed     *prometheus.CounterVec
	OpDuration       *prometheus.HistogramVec
	Forwards         *prometheus.CounterVec
	Dedup            *prometheus.CounterVec
	StateTransitions *prometheus.CounterVec

	ResyncJobs    *prometheus.CounterVec
	ResyncRunning *prometheus.GaugeVec
	ResyncSynced  *prometheus.CounterVec
	ResyncErrors  *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		OpsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "executor",
				Name:      "ops_total",
				Help:      "Operations processed, by type and role.",
			}, []string{"op", "role"}),

		OpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "executor",
				Name:      "op_duration_seconds",
				Help:      "Time from dispatch to dedup store, including forwarding.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			}, []string{"op"}),

		Forwards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "executor",
				Name:      "forwards_total",
				Help:      "Forwarding outcomes towards the secondary.",
			}, []string{"result"}),

		Dedup: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "session",
				Name:      "dedup_total",
				Help:      "Sequence dedup decisions.",
			}, []string{"kind"}),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nodes",
				Name:      "consistency_transitions_total",
				Help:      "Consistency state changes, by new state.",
			}, []string{"state"}),

		ResyncJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "resync",
				Name:      "jobs_total",
				Help:      "Finished resync jobs, by final state.",
			}, []string{"state"}),

		ResyncRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "resync",
				Name:      "running",
				Help:      "1 while a resync job runs for the group.",
			}, []string{"group"}),

		ResyncSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "resync",
				Name:      "synced_total",
				Help:      "Objects synced, by kind.",
			}, []string{"kind"}),

		ResyncErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "resync",
				Name:      "errors_total",
				Help:      "Resync errors, by phase.",
			}, []string{"phase"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OpsProcessed,
		m.OpDuration,
		m.Forwards,
		m.Dedup,
		m.StateTransitions,
		m.ResyncJobs,
		m.ResyncRunning,
		m.ResyncSynced,
		m.ResyncErrors,
	)
	return m
}
