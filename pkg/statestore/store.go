package statestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/cascade-sh/cascade/pkg/types"
)

// ErrNotFound is returned when an environment has no recorded history,
// or a requested snapshot id does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for deployment history persistence.
// Histories are append-only per environment: snapshots and backup records
// are immutable once saved, and "latest" always means the record with the
// highest id. Pruning is a separate maintenance operation and never runs
// inside deploy or rollback paths.
type Store interface {
	// Deployment state snapshots
	SaveState(state *types.DeploymentState) error
	LatestState(environment string) (*types.DeploymentState, error)
	StateByID(environment, id string) (*types.DeploymentState, error)
	StateHistory(environment string, limit int) ([]*types.DeploymentState, error)
	PruneStates(environment string, keep int) (int, error)

	// Database backup records
	SaveBackup(record *types.BackupRecord) error
	LatestBackup(environment string) (*types.BackupRecord, error)
	BackupHistory(environment string, limit int) ([]*types.BackupRecord, error)
	PruneBackups(environment string, keep int) (int, error)

	// Utility
	Close() error
}

// NewID derives a sortable record id from a timestamp. Ids are zero-padded
// UnixNano so lexicographic bucket order equals chronological order and
// "latest" is simply the highest key.
func NewID(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}
