/*
Package metrics provides Prometheus metrics and process health reporting
for cascade.

All collectors are package-level and registered with the default registry at
init, so any component can record observations without carrying a registry
around. The maintenance process serves them through Handler() on /metrics.

# Metric categories

Deployment: attempts by environment/strategy/status, duration histogram.
Rollback: runs by environment/mode/status. Health: per-service verification
results. Canary: evaluation decisions. Backup: dump attempts per
environment. Retention: gauges for records currently kept, refreshed on
every maintenance pass, plus a counter of pruned records.

# Health endpoints

Components register themselves with RegisterComponent and flip their state
with UpdateComponent. HealthHandler serves the aggregate on /healthz: one
unhealthy component makes the whole answer a 503. LivenessHandler always
answers 200 while the process runs.

Timer wraps the measure-then-observe pattern for duration histograms:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DeployDuration, env, strategy)
*/
package metrics
