package notify

import (
	"context"
	"errors"
	"time"
)

// Severity classifies how urgently an event needs eyes
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event kinds emitted over a deployment lifecycle
const (
	KindDeployStarted     = "deploy.started"
	KindDeploySucceeded   = "deploy.succeeded"
	KindDeployFailed      = "deploy.failed"
	KindRollbackStarted   = "rollback.started"
	KindRollbackSucceeded = "rollback.succeeded"
	KindRollbackFailed    = "rollback.failed"
	KindCanaryPromoted    = "canary.promoted"
	KindCanaryAborted     = "canary.aborted"
	KindBackupCreated     = "backup.created"
	KindRestoreCompleted  = "restore.completed"
	KindRestoreFailed     = "restore.failed"
)

// Event is one lifecycle notification
type Event struct {
	Timestamp   time.Time         `json:"timestamp"`
	Severity    Severity          `json:"severity"`
	Kind        string            `json:"kind"`
	Environment string            `json:"environment"`
	AttemptID   string            `json:"attemptId,omitempty"`
	Version     string            `json:"version,omitempty"`
	Message     string            `json:"message"`
	Details     map[string]string `json:"details,omitempty"`
}

// Notifier delivers events to one destination. Delivery failures must not
// affect the deployment that emitted the event; callers log and move on.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every notifier, trying all of them even when
// earlier ones fail
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
