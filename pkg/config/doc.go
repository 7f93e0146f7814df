/*
Package config loads and validates the Cascade platform configuration.

The configuration file declares the deployment targets (environments and
their namespaces), the managed services that every rollout moves together,
the tunable timeouts and rollout policy knobs, and the endpoints of the
external collaborators (image registry, Prometheus, notification webhook).

# File Format

	dataDir: /var/lib/cascade
	log:
	  level: info
	  json: true

	environments:
	  - name: staging
	    namespace: platform-staging
	  - name: production
	    namespace: platform-production
	    protected: true
	    database:
	      deployment: postgres
	      credentialsSecret: postgres-credentials
	      backupDir: /var/backups

	services:
	  - name: auth
	    repository: registry.example.com/platform/auth
	    port: 8080
	    healthPath: /healthz
	  - name: gateway
	    repository: registry.example.com/platform/gateway
	    port: 8080

	defaults:
	  rolloutTimeout: 300s
	  healthTimeout: 300s
	  emergencyHealthTimeout: 60s
	  canaryFraction: 0.1
	  canaryObservation: 5m
	  maxUnavailable: "25%"
	  maxSurge: "25%"
	  keepStates: 10

	integrations:
	  registry:
	    url: https://registry.example.com
	  prometheus: http://prometheus.monitoring:9090
	  webhookURL: https://hooks.example.com/cascade
	  testCommand: ["make", "smoke-test"]

Durations are Go duration strings ("300s", "5m"). Every omitted default is
filled in by Load; the documented defaults match the values above.

# Validation

Load rejects configurations with duplicate environment or service names,
missing namespaces or repositories, out-of-range ports, and a canary
fraction outside (0, 1). Protected environments additionally require
explicit confirmation before any deploy or rollback (enforced by
pkg/deployer, not here).
*/
package config
