// Package metrics exposes the consensus core's Prometheus instrumentation:
// DAG size and pruning counters, proposer attempt/submission counters,
// PBFT round/step gauges, and vote tally counters. Collectors are
// built with prometheus.New* and registered individually against an
// injected prometheus.Registerer rather than promauto's package-global
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the consensus core's full instrumentation set.
type Metrics struct {
	DagBlocksTotal     prometheus.Counter
	DagBlocksPruned    prometheus.Counter
	DagBlocksRejected  prometheus.Counter
	DagFrontierLevel   prometheus.Gauge

	ProposerAttempts     prometheus.Counter
	ProposerSubmissions  prometheus.Counter
	ProposerPreemptions  prometheus.Counter

	PbftPeriod prometheus.Gauge
	PbftRound  prometheus.Gauge
	PbftStep   prometheus.Gauge
	PbftFinalizations prometheus.Counter

	VoteInserts   prometheus.Counter
	VoteRejected  prometheus.Counter
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		DagBlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_dag_blocks_total",
			Help: "Total DAG blocks accepted by the DAG manager.",
		}),
		DagBlocksPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_dag_blocks_pruned_total",
			Help: "Total DAG blocks removed by expiry pruning.",
		}),
		DagBlocksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_dag_blocks_rejected_total",
			Help: "Total duplicate DAG blocks ignored by the DAG manager (VerifyBlock rejections are not counted).",
		}),
		DagFrontierLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagledger_dag_frontier_level",
			Help: "Highest level among blocks admitted to the DAG.",
		}),
		ProposerAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_proposer_attempts_total",
			Help: "Total proposer main-loop passes.",
		}),
		ProposerSubmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_proposer_submissions_total",
			Help: "Total DAG blocks submitted by this node's proposer.",
		}),
		ProposerPreemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_proposer_preemptions_total",
			Help: "Total VDF computations abandoned due to frontier progress.",
		}),
		PbftPeriod: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagledger_pbft_period",
			Help: "Current PBFT period.",
		}),
		PbftRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagledger_pbft_round",
			Help: "Current PBFT round within the period.",
		}),
		PbftStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagledger_pbft_step",
			Help: "Current PBFT step (0=propose,1=soft-vote,2=cert-vote,3=next-vote).",
		}),
		PbftFinalizations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_pbft_finalizations_total",
			Help: "Total periods finalized.",
		}),
		VoteInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_vote_inserts_total",
			Help: "Total votes accepted by the vote manager.",
		}),
		VoteRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_vote_rejected_total",
			Help: "Total votes rejected (bad signature, duplicate cert vote, ineligible voter).",
		}),
	}

	collectors := []prometheus.Collector{
		m.DagBlocksTotal, m.DagBlocksPruned, m.DagBlocksRejected, m.DagFrontierLevel,
		m.ProposerAttempts, m.ProposerSubmissions, m.ProposerPreemptions,
		m.PbftPeriod, m.PbftRound, m.PbftStep, m.PbftFinalizations,
		m.VoteInserts, m.VoteRejected,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler returns the HTTP handler serving reg's collected metrics in
// the Prometheus text exposition format, for mounting at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
