package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_deploys_total",
			Help: "Total number of deploy attempts by environment, strategy and status",
		},
		[]string{"environment", "strategy", "status"},
	)

	DeployDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cascade_deploy_duration_seconds",
			Help:    "Deploy duration in seconds, from validation to final status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"environment", "strategy"},
	)

	// Rollback metrics
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_rollbacks_total",
			Help: "Total number of rollbacks by environment, mode and status",
		},
		[]string{"environment", "mode", "status"},
	)

	// Health verification metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_health_checks_total",
			Help: "Total number of service health verifications by result",
		},
		[]string{"service", "result"},
	)

	// Canary metrics
	CanaryDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_canary_decisions_total",
			Help: "Total number of canary evaluations by environment, service and decision",
		},
		[]string{"environment", "service", "decision"},
	)

	// Backup metrics
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_backups_total",
			Help: "Total number of database backups by environment and status",
		},
		[]string{"environment", "status"},
	)

	// Retention metrics, refreshed by the maintenance loop
	SnapshotsRetained = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_snapshots_retained",
			Help: "Deployment state snapshots currently retained per environment",
		},
		[]string{"environment"},
	)

	BackupsRetained = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cascade_backups_retained",
			Help: "Backup records currently retained per environment",
		},
		[]string{"environment"},
	)

	RecordsPruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cascade_records_pruned_total",
			Help: "History records removed by retention pruning, by environment and kind",
		},
		[]string{"environment", "kind"},
	)

	MaintenanceRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cascade_maintenance_runs_total",
			Help: "Total number of completed maintenance passes",
		},
	)
)

func init() {
	prometheus.MustRegister(DeploysTotal)
	prometheus.MustRegister(DeployDuration)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(CanaryDecisions)
	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(SnapshotsRetained)
	prometheus.MustRegister(BackupsRetained)
	prometheus.MustRegister(RecordsPruned)
	prometheus.MustRegister(MaintenanceRuns)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
