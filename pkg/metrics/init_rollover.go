package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRolloverMetrics() {
	r.RolloverStepsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_rollover_steps_total",
			Help: "Total number of member replace steps",
		},
		[]string{"strategy", "result"},
	)

	r.RolloverStepDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphdb_rollover_step_duration_seconds",
			Help:    "Duration of member replace steps in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"strategy"},
	)

	r.RolloverStoppedMembers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphdb_rollover_stopped_members",
			Help: "Number of members currently stopped by the coordinator",
		},
	)

	r.RolloverMigratedMembers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "graphdb_rollover_migrated_members",
			Help: "Number of members running the target version",
		},
	)

	r.RolloverProbeRoundsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_rollover_probe_rounds_total",
			Help: "Total number of workload probe rounds",
		},
		[]string{"result"},
	)

	r.RolloverValidationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_rollover_validations_total",
			Help: "Total number of final store validations",
		},
		[]string{"result"},
	)

	r.RolloverRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphdb_rollover_runs_total",
			Help: "Total number of migration runs",
		},
		[]string{"result"},
	)
}
