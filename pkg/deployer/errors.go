package deployer

import (
	"errors"
	"fmt"
)

// Kind classifies where in the pipeline an operation failed
type Kind string

const (
	// KindPrecondition covers bad inputs and failed lookups before any
	// cluster mutation: unknown environment, malformed version, unknown
	// strategy, missing image, held lease
	KindPrecondition Kind = "precondition"
	// KindPreflight is a failed test suite, overridable with force
	KindPreflight Kind = "preflight"
	// KindBackup is a failed pre-deploy database backup
	KindBackup Kind = "backup"
	// KindSnapshot means the rollback target could not be captured or
	// persisted
	KindSnapshot Kind = "snapshot"
	// KindStrategy is a failure inside the strategy run
	KindStrategy Kind = "strategy"
	// KindHealthCheck is a failed post-deploy verification
	KindHealthCheck Kind = "health-check"
	// KindRollback is a failure of an explicit rollback operation
	KindRollback Kind = "rollback"
	// KindConfirmation means a protected environment was targeted without
	// an approval flag
	KindConfirmation Kind = "confirmation"
)

// Outcome tells the operator what state the environment was left in.
// The three failure responses differ materially: unchanged needs a fix and
// a retry, rolled-back needs investigation, rollback-failed needs hands on
// the cluster right now.
type Outcome string

const (
	// OutcomeUnchanged means no cluster mutation happened
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeRolledBack means the deploy failed and the environment was
	// returned to its pre-deploy snapshot
	OutcomeRolledBack Outcome = "rolled-back"
	// OutcomeRollbackFailed means the deploy failed and so did the
	// automatic rollback; the environment is degraded
	OutcomeRollbackFailed Outcome = "rollback-failed"
	// OutcomeRollbackSkipped means the deploy failed partway and the
	// automatic rollback was suppressed with force
	OutcomeRollbackSkipped Outcome = "rollback-skipped"
)

// ErrConfirmationRequired is wrapped by operations that target a protected
// environment without an approval flag
var ErrConfirmationRequired = errors.New("protected environment requires confirmation")

// DeployError is the typed failure of a coordinator operation
type DeployError struct {
	Kind    Kind
	Service string // triggering service, when one could be identified
	Outcome Outcome
	Err     error
}

func (e *DeployError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failure on %s (%s): %v", e.Kind, e.Service, e.Outcome, e.Err)
	}
	return fmt.Sprintf("%s failure (%s): %v", e.Kind, e.Outcome, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }

// IsKind reports whether err is a DeployError of the given kind
func IsKind(err error, kind Kind) bool {
	var derr *DeployError
	return errors.As(err, &derr) && derr.Kind == kind
}
