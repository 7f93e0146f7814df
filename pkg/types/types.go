package types

import (
	"fmt"
	"time"
)

// Strategy defines how a new version is rolled out across services
type Strategy string

const (
	StrategyBlueGreen Strategy = "blue-green"
	StrategyRolling   Strategy = "rolling"
	StrategyCanary    Strategy = "canary"
)

// ParseStrategy converts a user-supplied strategy name into a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBlueGreen, StrategyRolling, StrategyCanary:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (must be one of %s, %s, %s)",
			s, StrategyBlueGreen, StrategyRolling, StrategyCanary)
	}
}

// AttemptStatus represents the state of a rollout attempt
type AttemptStatus string

const (
	AttemptRunning    AttemptStatus = "running"
	AttemptSucceeded  AttemptStatus = "succeeded"
	AttemptFailed     AttemptStatus = "failed"
	AttemptRolledBack AttemptStatus = "rolled-back"
)

// RolloutAttempt is the transient record of one deployment execution.
// It lives only for the duration of a single Deploy call and is surfaced
// through logs and notifications, never persisted.
type RolloutAttempt struct {
	ID            string
	Environment   string
	TargetVersion string
	Strategy      Strategy
	StartedAt     time.Time
	Status        AttemptStatus
}

// ServiceRecord captures the observed state of one service at snapshot time
type ServiceRecord struct {
	Name            string `json:"name"`
	Image           string `json:"image"`
	DesiredReplicas int32  `json:"desiredReplicas"`
	ReadyReplicas   int32  `json:"readyReplicas"`
}

// DeploymentState is an immutable snapshot of an environment's running
// topology, captured immediately before every deployment attempt and used
// as the rollback target. Snapshots are never mutated after creation; each
// deploy appends a new one.
type DeploymentState struct {
	ID          string          `json:"id"`
	Environment string          `json:"environment"`
	CapturedAt  time.Time       `json:"capturedAt"`
	Services    []ServiceRecord `json:"services"`
}

// Validate checks the snapshot invariants: exactly one record per service
// name and ready replicas never exceeding desired replicas.
func (s *DeploymentState) Validate() error {
	if s.Environment == "" {
		return fmt.Errorf("deployment state has no environment")
	}
	if len(s.Services) == 0 {
		return fmt.Errorf("deployment state for %s has no services", s.Environment)
	}
	seen := make(map[string]bool, len(s.Services))
	for _, svc := range s.Services {
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service record %q in snapshot", svc.Name)
		}
		seen[svc.Name] = true
		if svc.ReadyReplicas > svc.DesiredReplicas {
			return fmt.Errorf("service %q has %d ready replicas but only %d desired",
				svc.Name, svc.ReadyReplicas, svc.DesiredReplicas)
		}
	}
	return nil
}

// Service returns the record for the named service, if present
func (s *DeploymentState) Service(name string) (ServiceRecord, bool) {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceRecord{}, false
}

// BackupRecord points at a database backup taken before a deployment.
// LocationRef is opaque to everything except the backup service that
// created it (for the Postgres binding it is the dump path inside the
// database pod).
type BackupRecord struct {
	ID          string    `json:"id"`
	Environment string    `json:"environment"`
	CreatedAt   time.Time `json:"createdAt"`
	LocationRef string    `json:"locationRef"`
}

// Decision is the outcome of a canary analysis
type Decision string

const (
	DecisionPromote Decision = "promote"
	DecisionAbort   Decision = "abort"
)

// CanaryEvaluation compares a canary deployment against its baseline for
// one service. Created and discarded within a single canary run.
type CanaryEvaluation struct {
	Service           string
	CanaryErrorRate   float64 // percent
	BaselineErrorRate float64 // percent
	CanaryLatencyMs   float64
	BaselineLatencyMs float64
	Decision          Decision

	// LatencySkipped records that the baseline produced no latency data,
	// so the latency bound was never applied to this run
	LatencySkipped bool
}

// RollbackMode selects how aggressively a rollback restores service
type RollbackMode string

const (
	// RollbackNormal waits for full health confirmation per service and
	// aborts on the first failure.
	RollbackNormal RollbackMode = "normal"

	// RollbackEmergency favors speed of recovery: the update strategy is
	// forced to recreate, health timeouts are short, and a health failure
	// is a warning rather than an abort.
	RollbackEmergency RollbackMode = "emergency"
)

// UpdateStrategyType selects how the cluster replaces pods on an image change
type UpdateStrategyType string

const (
	UpdateRollingUpdate UpdateStrategyType = "rolling-update"
	UpdateRecreate      UpdateStrategyType = "recreate"
)

// UpdateStrategy controls pod replacement during an image change.
// MaxUnavailable and MaxSurge are percentages ("25%") and only apply to
// rolling updates.
type UpdateStrategy struct {
	Type           UpdateStrategyType
	MaxUnavailable string
	MaxSurge       string
}

// ImageRef builds a full image reference from a repository and version tag
func ImageRef(repository, version string) string {
	return repository + ":" + version
}
