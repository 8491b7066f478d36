// Package metrics provides Prometheus collectors for runs, waves and consensus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wavequorum"

var (
	// WorkerCalls counts WorkerPort calls by how they were tallied.
	// Labels: result (vote, error, timeout, discarded, panic)
	WorkerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "calls_total",
			Help:      "Total number of worker calls by tally result",
		},
		[]string{"result"},
	)

	// ConsensusOutcomes counts finished consensus runs.
	// Labels: outcome (Won, Exhausted, AllDiscarded, Cancelled)
	ConsensusOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "outcomes_total",
			Help:      "Total number of consensus runs by outcome",
		},
		[]string{"outcome"},
	)

	ConsensusDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "duration_seconds",
			Help:      "Duration of consensus runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	// Waves counts resolved waves.
	// Labels: result (committed, rolled_back)
	Waves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "waves_total",
			Help:      "Total number of resolved waves",
		},
		[]string{"result"},
	)

	// TaskOutcomes counts terminal task outcomes.
	// Labels: state, reason
	TaskOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_outcomes_total",
			Help:      "Total number of terminal task outcomes",
		},
		[]string{"state", "reason"},
	)
)

// Worker call tally results.
const (
	CallVote      = "vote"
	CallError     = "error"
	CallTimeout   = "timeout"
	CallDiscarded = "discarded"
	CallPanic     = "panic"
)

// Wave results.
const (
	WaveCommitted  = "committed"
	WaveRolledBack = "rolled_back"
)
