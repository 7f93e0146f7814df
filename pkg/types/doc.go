/*
Package types defines the core data structures used throughout Cascade.

This package contains the fundamental types that represent Cascade's domain
model: deployment snapshots, backup pointers, rollout attempts, canary
evaluations, and the enumerations that drive strategy selection and rollback
behavior. All other packages depend on these types for orchestration logic,
state persistence, and operator-facing output.

# Core Types

Rollout Control:
  - Strategy: blue-green, rolling, or canary rollout
  - RolloutAttempt: transient record of one deployment execution
  - AttemptStatus: running, succeeded, failed, rolled-back
  - UpdateStrategy: pod replacement policy (rolling-update or recreate)

Rollback State:
  - DeploymentState: immutable snapshot of an environment's topology
  - ServiceRecord: per-service image and replica counts at snapshot time
  - BackupRecord: pointer to a pre-deploy database backup
  - RollbackMode: normal (strict health) or emergency (speed first)

Canary Analysis:
  - CanaryEvaluation: canary vs baseline metric comparison
  - Decision: promote or abort

# Lifecycle

A DeploymentState is created immediately before every deployment attempt
and persisted before any cluster mutation, so a crash mid-deploy always
leaves a usable rollback target. Snapshots are append-only: each deploy
creates a new one and nothing ever mutates an existing one. The same holds
for BackupRecord. RolloutAttempt and CanaryEvaluation are in-memory only,
owned by the coordinator and the canary strategy respectively.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants for safety and clarity:
	  type Strategy string
	  const (
	      StrategyRolling Strategy = "rolling"
	  )

Validation:

	DeploymentState.Validate enforces the snapshot invariants (exactly one
	record per service, ready <= desired) at the point of persistence.

# Integration Points

This package integrates with:

  - pkg/statestore: persists DeploymentState and BackupRecord to bbolt
  - pkg/deployer: owns RolloutAttempt for the duration of one deploy
  - pkg/strategy: threads Strategy and UpdateStrategy into the backend
  - pkg/rollback: consumes DeploymentState snapshots and RollbackMode
  - pkg/canary: produces CanaryEvaluation values
*/
package types
