package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quizduel"

var (
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "battle",
		Name:      "phase_transitions_total",
		Help:      "Number of battle phase transitions.",
	}, []string{"from", "to"})

	// RoundsResolved counts resolved rounds by outcome: correct, incorrect, timeout or fallback.
	RoundsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "battle",
		Name:      "rounds_resolved_total",
		Help:      "Number of resolved rounds by outcome.",
	}, []string{"outcome"})

	LateVerdicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "battle",
		Name:      "late_verdicts_total",
		Help:      "Number of verdicts dropped because their round was already resolved.",
	})

	SnapshotsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "snapshots_rejected_total",
		Help:      "Number of pushed battle snapshots dropped as malformed.",
	})
)
