package statestore

import (
	"fmt"
	"testing"
	"time"

	"github.com/cascade-sh/cascade/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testState(env string, capturedAt time.Time, image string) *types.DeploymentState {
	return &types.DeploymentState{
		Environment: env,
		CapturedAt:  capturedAt,
		Services: []types.ServiceRecord{
			{Name: "auth", Image: image, DesiredReplicas: 3, ReadyReplicas: 3},
			{Name: "gateway", Image: image, DesiredReplicas: 2, ReadyReplicas: 2},
		},
	}
}

func TestSaveAndLatestState(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		state := testState("staging", base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("auth:v1.0.%d", i))
		require.NoError(t, store.SaveState(state))
		assert.NotEmpty(t, state.ID)
	}

	latest, err := store.LatestState("staging")
	require.NoError(t, err)
	assert.Equal(t, "auth:v1.0.2", latest.Services[0].Image)
	assert.Equal(t, NewID(base.Add(2*time.Minute)), latest.ID)
}

func TestLatestStateNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LatestState("staging")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStateByID(t *testing.T) {
	store := newTestStore(t)
	state := testState("staging", time.Now().UTC(), "auth:v1.0.0")
	require.NoError(t, store.SaveState(state))

	got, err := store.StateByID("staging", state.ID)
	require.NoError(t, err)
	assert.Equal(t, state.Services, got.Services)

	_, err = store.StateByID("staging", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.StateByID("production", state.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStateHistoryOrder(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		state := testState("staging", base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("auth:v1.0.%d", i))
		require.NoError(t, store.SaveState(state))
	}

	history, err := store.StateHistory("staging", 0)
	require.NoError(t, err)
	require.Len(t, history, 5)

	// Most recent first
	assert.Equal(t, "auth:v1.0.4", history[0].Services[0].Image)
	assert.Equal(t, "auth:v1.0.0", history[4].Services[0].Image)

	limited, err := store.StateHistory("staging", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "auth:v1.0.4", limited[0].Services[0].Image)
	assert.Equal(t, "auth:v1.0.3", limited[1].Services[0].Image)
}

func TestStateHistoryEmptyEnvironment(t *testing.T) {
	store := newTestStore(t)

	history, err := store.StateHistory("staging", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEnvironmentsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()

	require.NoError(t, store.SaveState(testState("staging", base, "auth:v2.0.0")))
	require.NoError(t, store.SaveState(testState("production", base.Add(time.Minute), "auth:v1.0.0")))

	staging, err := store.LatestState("staging")
	require.NoError(t, err)
	assert.Equal(t, "auth:v2.0.0", staging.Services[0].Image)

	production, err := store.LatestState("production")
	require.NoError(t, err)
	assert.Equal(t, "auth:v1.0.0", production.Services[0].Image)
}

func TestSaveStateRejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveState(&types.DeploymentState{Environment: "staging"})
	assert.Error(t, err)

	err = store.SaveState(&types.DeploymentState{
		Environment: "staging",
		Services: []types.ServiceRecord{
			{Name: "auth", Image: "auth:v1", DesiredReplicas: 1, ReadyReplicas: 2},
		},
	})
	assert.Error(t, err)
}

func TestSavedStateIsImmutable(t *testing.T) {
	store := newTestStore(t)
	state := testState("staging", time.Now().UTC(), "auth:v1.0.0")
	require.NoError(t, store.SaveState(state))

	// Mutating the caller's copy must not affect the stored snapshot
	state.Services[0].Image = "auth:tampered"

	got, err := store.LatestState("staging")
	require.NoError(t, err)
	assert.Equal(t, "auth:v1.0.0", got.Services[0].Image)
}

func TestPruneStates(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		require.NoError(t, store.SaveState(testState("staging", base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("auth:v1.0.%d", i))))
	}

	pruned, err := store.PruneStates("staging", 3)
	require.NoError(t, err)
	assert.Equal(t, 4, pruned)

	history, err := store.StateHistory("staging", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)

	// The newest records survive
	assert.Equal(t, "auth:v1.0.6", history[0].Services[0].Image)
	assert.Equal(t, "auth:v1.0.4", history[2].Services[0].Image)

	// Pruning again is a no-op
	pruned, err = store.PruneStates("staging", 3)
	require.NoError(t, err)
	assert.Zero(t, pruned)

	// Unknown environment is a no-op, not an error
	pruned, err = store.PruneStates("qa", 3)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestBackupRecords(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		record := &types.BackupRecord{
			Environment: "production",
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			LocationRef: fmt.Sprintf("/var/backups/production-%d.dump", i),
		}
		require.NoError(t, store.SaveBackup(record))
		assert.NotEmpty(t, record.ID)
	}

	latest, err := store.LatestBackup("production")
	require.NoError(t, err)
	assert.Equal(t, "/var/backups/production-2.dump", latest.LocationRef)

	history, err := store.BackupHistory("production", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "/var/backups/production-2.dump", history[0].LocationRef)

	_, err = store.LatestBackup("staging")
	assert.ErrorIs(t, err, ErrNotFound)

	pruned, err := store.PruneBackups("production", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)
}

func TestSaveBackupRequiresEnvironment(t *testing.T) {
	store := newTestStore(t)
	err := store.SaveBackup(&types.BackupRecord{LocationRef: "/tmp/x.dump"})
	assert.Error(t, err)
}

func TestNewIDSortable(t *testing.T) {
	earlier := NewID(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	later := NewID(time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC))

	assert.Len(t, earlier, 20)
	assert.Less(t, earlier, later)
}
