package deployer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-sh/cascade/pkg/backup"
	"github.com/cascade-sh/cascade/pkg/canary"
	"github.com/cascade-sh/cascade/pkg/cluster/clustertest"
	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/health"
	"github.com/cascade-sh/cascade/pkg/notify"
	"github.com/cascade-sh/cascade/pkg/rollback"
	"github.com/cascade-sh/cascade/pkg/statestore"
	"github.com/cascade-sh/cascade/pkg/strategy"
	"github.com/cascade-sh/cascade/pkg/types"
)

type stubRegistry struct {
	missing map[string]bool
	err     error
}

func (s *stubRegistry) TagExists(ctx context.Context, repository, version string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return !s.missing[repository], nil
}

type stubTests struct {
	mu   sync.Mutex
	err  error
	runs int
}

func (s *stubTests) Run(ctx context.Context, env config.Environment, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	return s.err
}

type stubBackupService struct {
	mu          sync.Mutex
	backups     int
	restores    []string
	backupErr   error
	restoreErrs []error
}

func (s *stubBackupService) Backup(ctx context.Context, env config.Environment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backupErr != nil {
		return "", s.backupErr
	}
	s.backups++
	return fmt.Sprintf("/var/backups/%s-%d.dump", env.Name, s.backups), nil
}

func (s *stubBackupService) Restore(ctx context.Context, env config.Environment, locationRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restores = append(s.restores, locationRef)
	if len(s.restoreErrs) > 0 {
		err := s.restoreErrs[0]
		s.restoreErrs = s.restoreErrs[1:]
		return err
	}
	return nil
}

type stubMetricsProbe struct {
	samples map[string]canary.Sample
}

func (s *stubMetricsProbe) Sample(ctx context.Context, namespace, deployment string, window time.Duration) (canary.Sample, error) {
	return s.samples[deployment], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ctx context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recordingNotifier) find(kind string) (notify.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return notify.Event{}, false
}

func testConfig() *config.Config {
	return &config.Config{
		Environments: []config.Environment{
			{Name: "staging", Namespace: "staging"},
			{Name: "production", Namespace: "production", Protected: true, Database: config.Database{
				Deployment: "postgres", Container: "postgres", CredentialsSecret: "postgres-credentials", BackupDir: "/var/backups",
			}},
		},
		Services: []config.Service{
			{Name: "api", Repository: "registry.example.com/acme/api", Container: "api", Port: 8080, HealthPath: "/healthz"},
			{Name: "worker", Repository: "registry.example.com/acme/worker", Container: "worker", Port: 8080, HealthPath: "/healthz"},
			{Name: "gateway", Repository: "registry.example.com/acme/gateway", Container: "gateway", Port: 8080, HealthPath: "/healthz"},
		},
		Defaults: config.Defaults{
			RolloutTimeout:         config.Duration(time.Second),
			HealthTimeout:          config.Duration(time.Second),
			EmergencyHealthTimeout: config.Duration(20 * time.Millisecond),
			ReadinessInterval:      config.Duration(time.Millisecond),
			ProbeAttempts:          2,
			ProbeInterval:          config.Duration(time.Millisecond),
			CanaryFraction:         0.25,
			CanaryObservation:      config.Duration(time.Millisecond),
			MaxUnavailable:         "25%",
			MaxSurge:               "25%",
			KeepStates:             10,
			KeepBackups:            5,
			LeaseDuration:          config.Duration(15 * time.Minute),
		},
	}
}

type harness struct {
	cfg      *config.Config
	fake     *clustertest.Fake
	locker   *clustertest.FakeLocker
	registry *stubRegistry
	tests    *stubTests
	service  *stubBackupService
	notifier *recordingNotifier
	store    statestore.Store
	probe    canary.MetricsProbe
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	fake := clustertest.NewFake()
	for i, svc := range cfg.Services {
		fake.Seed(svc.Name, types.ImageRef(svc.Repository, "1.3.0"), int32(i+2))
	}
	store, err := statestore.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &harness{
		cfg:      cfg,
		fake:     fake,
		locker:   &clustertest.FakeLocker{},
		registry: &stubRegistry{},
		tests:    &stubTests{},
		service:  &stubBackupService{},
		notifier: &recordingNotifier{},
		store:    store,
	}
}

func (h *harness) coordinator() *Coordinator {
	checker := health.NewChecker(h.fake, health.Config{
		ReadinessInterval: time.Millisecond,
		ProbeAttempts:     2,
		ProbeInterval:     time.Millisecond,
	})
	var analyzer *canary.Analyzer
	if h.probe != nil {
		analyzer = canary.NewAnalyzer(h.probe, canary.Policy{Window: time.Millisecond})
	}
	backups := backup.NewCoordinator(h.service, h.store)
	return NewCoordinator(Deps{
		Config:     h.cfg,
		Backend:    h.fake,
		Locker:     h.locker,
		Registry:   h.registry,
		Strategies: strategy.NewEngine(h.fake, checker, analyzer, h.cfg.Defaults),
		Rollback:   rollback.NewEngine(h.fake, checker, h.store, backups, h.cfg),
		Checker:    checker,
		Backups:    backups,
		Store:      h.store,
		Tests:      h.tests,
		Notifier:   h.notifier,
	})
}

func TestDeployRollingSucceeds(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	result, err := c.Deploy(context.Background(), "staging", "1.4.0", "rolling", Options{})
	require.NoError(t, err)

	assert.Equal(t, types.AttemptSucceeded, result.Attempt.Status)
	for _, svc := range h.cfg.Services {
		assert.Equal(t, types.ImageRef(svc.Repository, "1.4.0"), h.fake.Image(svc.Name))
	}
	assert.Equal(t, 1, h.tests.runs)
	assert.Len(t, result.Plan, 3)
	assert.Equal(t, strategy.PhaseDone, result.Report.Phase)

	// staging has no database, so no backup and no backup event
	assert.Equal(t, 0, h.service.backups)
	assert.Empty(t, result.BackupID)

	assert.Equal(t, []string{notify.KindDeployStarted, notify.KindDeploySucceeded}, h.notifier.kinds())
	assert.Equal(t, []string{"staging/cascade-deploy-staging"}, h.locker.Acquired)
	assert.Equal(t, []string{"staging/cascade-deploy-staging"}, h.locker.Released)
}

func TestDeployCapturesSnapshotBeforeMutating(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "blue-green", Options{})
	require.NoError(t, err)

	// the persisted snapshot must hold the pre-deploy images, not the new ones
	state, err := h.store.LatestState("staging")
	require.NoError(t, err)
	require.Len(t, state.Services, 3)
	for _, rec := range state.Services {
		assert.Contains(t, rec.Image, ":1.3.0", "snapshot of %s taken after mutation", rec.Name)
	}
}

func TestDeployRollsBackOnStrategyFailure(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail("WaitForRollout", "worker", errors.New("progress deadline exceeded"))
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "blue-green", Options{})
	require.Error(t, err)

	var derr *DeployError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindStrategy, derr.Kind)
	assert.Equal(t, OutcomeRolledBack, derr.Outcome)
	assert.Equal(t, "worker", derr.Service)

	// every service is back on the old version, including api which had
	// already moved
	for _, svc := range h.cfg.Services {
		assert.Equal(t, types.ImageRef(svc.Repository, "1.3.0"), h.fake.Image(svc.Name))
	}

	kinds := h.notifier.kinds()
	assert.Contains(t, kinds, notify.KindDeployFailed)
	assert.Contains(t, kinds, notify.KindRollbackStarted)
	assert.Contains(t, kinds, notify.KindRollbackSucceeded)
}

func TestDeployRollsBackOnPostDeployHealthFailure(t *testing.T) {
	h := newHarness(t)
	// the new gateway passes its first probe during the rollout, then
	// degrades before the final verification pass
	var mu sync.Mutex
	probes := 0
	h.fake.ProbeFn = func(service, image string) (int, string) {
		mu.Lock()
		defer mu.Unlock()
		if service != "gateway" || image != "registry.example.com/acme/gateway:1.4.0" {
			return 200, "ok"
		}
		probes++
		if probes > 1 {
			return 503, "unavailable"
		}
		return 200, "ok"
	}
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "rolling", Options{})
	require.Error(t, err)

	var derr *DeployError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindHealthCheck, derr.Kind)
	assert.Equal(t, OutcomeRolledBack, derr.Outcome)
	assert.Equal(t, "gateway", derr.Service)
	assert.Equal(t, "registry.example.com/acme/gateway:1.3.0", h.fake.Image("gateway"))
}

func TestDeployCanaryPromoteFailureLeavesNoShadow(t *testing.T) {
	h := newHarness(t)
	h.probe = &stubMetricsProbe{samples: map[string]canary.Sample{
		"api":        {ErrorRatePercent: 0.2, LatencyMs: 100},
		"api-canary": {ErrorRatePercent: 0.3, LatencyMs: 110},
	}}
	// the canary passes analysis, then the switch of the main deployment fails
	h.fake.Fail("SetImage", "api", errors.New("apiserver unavailable"))
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "canary", Options{})
	require.Error(t, err)

	var derr *DeployError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindStrategy, derr.Kind)
	assert.Equal(t, OutcomeRolledBack, derr.Outcome)
	assert.Equal(t, "api", derr.Service)

	// the snapshot was captured before the shadow existed, so the automatic
	// rollback cannot remove it; the strategy has to tear it down itself
	assert.False(t, h.fake.Exists("api-canary"))
	for _, svc := range h.cfg.Services {
		assert.Equal(t, types.ImageRef(svc.Repository, "1.3.0"), h.fake.Image(svc.Name))
	}

	kinds := h.notifier.kinds()
	assert.Contains(t, kinds, notify.KindCanaryPromoted)
	assert.Contains(t, kinds, notify.KindRollbackSucceeded)
}

func TestDeployForceSkipsRollback(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail("SetImage", "worker", errors.New("conflict"))
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "blue-green", Options{Force: true})
	require.Error(t, err)

	var derr *DeployError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, OutcomeRollbackSkipped, derr.Outcome)

	// api keeps the new version; nothing was rolled back
	assert.Equal(t, "registry.example.com/acme/api:1.4.0", h.fake.Image("api"))
	assert.NotContains(t, h.notifier.kinds(), notify.KindRollbackStarted)
}

func TestDeployReportsDegradedWhenRollbackFails(t *testing.T) {
	h := newHarness(t)
	h.fake.Fail("WaitForRollout", "worker", errors.New("progress deadline exceeded"))
	// first SetImage(api) is the deploy, second is the rollback
	h.fake.Fail("SetImage", "api", nil, errors.New("apiserver unavailable"))
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "blue-green", Options{})
	require.Error(t, err)

	var derr *DeployError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, OutcomeRollbackFailed, derr.Outcome)
	assert.Contains(t, err.Error(), "automatic rollback failed")

	event, ok := h.notifier.find(notify.KindRollbackFailed)
	require.True(t, ok)
	assert.Equal(t, notify.SeverityCritical, event.Severity)
}

func TestDeployBackupFailureLeavesClusterUntouched(t *testing.T) {
	h := newHarness(t)
	h.service.backupErr = errors.New("pg_dump: connection refused")
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "production", "1.4.0", "rolling", Options{AutoApprove: true})
	require.Error(t, err)

	var derr *DeployError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindBackup, derr.Kind)
	assert.Equal(t, OutcomeUnchanged, derr.Outcome)
	assert.Equal(t, 0, h.fake.MutationCount())
	assert.Contains(t, h.notifier.kinds(), notify.KindDeployFailed)
}

func TestDeployRecordsBackupForDatabaseEnvironment(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	result, err := c.Deploy(context.Background(), "production", "1.4.0", "rolling", Options{AutoApprove: true})
	require.NoError(t, err)

	assert.Equal(t, 1, h.service.backups)
	assert.NotEmpty(t, result.BackupID)
	event, ok := h.notifier.find(notify.KindBackupCreated)
	require.True(t, ok)
	assert.Equal(t, "/var/backups/production-1.dump", event.Details["location"])
}

func TestDeployRejectsUnknownEnvironment(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "nonesuch", "1.4.0", "rolling", Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))
	assert.Equal(t, 0, h.fake.MutationCount())
	assert.Empty(t, h.locker.Acquired)
}

func TestDeployRejectsMalformedVersion(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "latest!", "rolling", Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))
	assert.Equal(t, 0, h.fake.MutationCount())
}

func TestDeployRejectsUnknownStrategy(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "teleport", Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))
	assert.Equal(t, 0, h.fake.MutationCount())
}

func TestDeployMissingImageFailsPreflight(t *testing.T) {
	h := newHarness(t)
	h.registry.missing = map[string]bool{"registry.example.com/acme/worker": true}
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "rolling", Options{})
	require.Error(t, err)

	var derr *DeployError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindPrecondition, derr.Kind)
	assert.Equal(t, "worker", derr.Service)
	assert.Equal(t, OutcomeUnchanged, derr.Outcome)
	assert.Equal(t, 0, h.fake.MutationCount())
	assert.Equal(t, 0, h.tests.runs)
}

func TestDeployTestFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.tests.err = errors.New("test command failed: exit status 1")
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "rolling", Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPreflight))
	assert.Equal(t, 0, h.fake.MutationCount())
}

func TestDeployForceOverridesTestFailure(t *testing.T) {
	h := newHarness(t)
	h.tests.err = errors.New("test command failed: exit status 1")
	c := h.coordinator()

	result, err := c.Deploy(context.Background(), "staging", "1.4.0", "rolling", Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, types.AttemptSucceeded, result.Attempt.Status)
}

func TestDeploySkipTestsNeverRunsThem(t *testing.T) {
	h := newHarness(t)
	h.tests.err = errors.New("would fail if run")
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "rolling", Options{SkipTests: true})
	require.NoError(t, err)
	assert.Equal(t, 0, h.tests.runs)
}

func TestDeployProtectedEnvironmentNeedsApproval(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "production", "1.4.0", "rolling", Options{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.True(t, IsKind(err, KindConfirmation))
	assert.Equal(t, 0, h.fake.MutationCount())
	assert.Empty(t, h.locker.Acquired)
}

func TestDeployLeaseHeldFailsPrecondition(t *testing.T) {
	h := newHarness(t)
	h.locker.AcquireErr = errors.New("lease cascade-deploy-staging is held by deployer-7f9c")
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "rolling", Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))
	assert.Equal(t, 0, h.fake.MutationCount())
	// nothing was announced for a deploy that never started
	assert.Empty(t, h.notifier.kinds())
}

func TestDryRunMakesNoChanges(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	result, err := c.Deploy(context.Background(), "staging", "1.4.0", "rolling", Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 0, h.fake.MutationCount())
	assert.Empty(t, h.locker.Acquired)
	assert.Equal(t, 0, h.service.backups)
	assert.Empty(t, h.notifier.kinds())

	// nothing persisted either
	_, err = h.store.LatestState("staging")
	assert.ErrorIs(t, err, statestore.ErrNotFound)

	require.Len(t, result.Plan, 3)
	assert.Equal(t, "registry.example.com/acme/api:1.3.0", result.Plan[0].CurrentImage)
	assert.Equal(t, "registry.example.com/acme/api:1.4.0", result.Plan[0].TargetImage)
}

func TestDryRunStillChecksRegistry(t *testing.T) {
	h := newHarness(t)
	h.registry.missing = map[string]bool{"registry.example.com/acme/api": true}
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "staging", "1.4.0", "rolling", Options{DryRun: true})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))
}

func TestDryRunSkipsConfirmation(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.Deploy(context.Background(), "production", "1.4.0", "rolling", Options{DryRun: true})
	require.NoError(t, err)
}

func TestRollbackReplaysLatestSnapshot(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveState(&types.DeploymentState{
		Environment: "staging",
		CapturedAt:  time.Now().UTC(),
		Services: []types.ServiceRecord{
			{Name: "api", Image: "registry.example.com/acme/api:1.2.0", DesiredReplicas: 2, ReadyReplicas: 2},
			{Name: "worker", Image: "registry.example.com/acme/worker:1.2.0", DesiredReplicas: 3, ReadyReplicas: 3},
			{Name: "gateway", Image: "registry.example.com/acme/gateway:1.2.0", DesiredReplicas: 4, ReadyReplicas: 4},
		},
	}))
	c := h.coordinator()

	result, err := c.Rollback(context.Background(), "staging", RollbackOptions{})
	require.NoError(t, err)

	assert.Len(t, result.Services, 3)
	assert.Equal(t, "registry.example.com/acme/api:1.2.0", h.fake.Image("api"))
	assert.Equal(t, int32(3), h.fake.Replicas("worker"))
	assert.Contains(t, h.notifier.kinds(), notify.KindRollbackSucceeded)
	assert.Equal(t, []string{"staging/cascade-deploy-staging"}, h.locker.Acquired)
	assert.Empty(t, h.locker.ForceTaken)
}

func TestRollbackWithoutSnapshotFailsPrecondition(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.Rollback(context.Background(), "staging", RollbackOptions{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))
	assert.Equal(t, 0, h.fake.MutationCount())
}

func TestRollbackToVersionPinsImages(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	result, err := c.Rollback(context.Background(), "staging", RollbackOptions{ToVersion: "1.2.9"})
	require.NoError(t, err)

	assert.Len(t, result.Services, 3)
	for _, svc := range h.cfg.Services {
		assert.Equal(t, types.ImageRef(svc.Repository, "1.2.9"), h.fake.Image(svc.Name))
	}
}

func TestRollbackEmergencyForceTakesHeldLease(t *testing.T) {
	h := newHarness(t)
	// a crashed deploy still holds the lease; emergency recovery evicts it
	// rather than queueing behind it
	h.locker.AcquireErr = errors.New("lease cascade-deploy-staging is held by deployer-7f9c")
	require.NoError(t, h.store.SaveState(&types.DeploymentState{
		Environment: "staging",
		CapturedAt:  time.Now().UTC(),
		Services: []types.ServiceRecord{
			{Name: "api", Image: "registry.example.com/acme/api:1.2.0", DesiredReplicas: 2, ReadyReplicas: 2},
			{Name: "worker", Image: "registry.example.com/acme/worker:1.2.0", DesiredReplicas: 3, ReadyReplicas: 3},
			{Name: "gateway", Image: "registry.example.com/acme/gateway:1.2.0", DesiredReplicas: 4, ReadyReplicas: 4},
		},
	}))
	c := h.coordinator()

	result, err := c.Rollback(context.Background(), "staging", RollbackOptions{Emergency: true})
	require.NoError(t, err)

	assert.Equal(t, types.RollbackEmergency, result.Mode)
	assert.Empty(t, h.locker.Acquired)
	assert.Equal(t, []string{"staging/cascade-deploy-staging"}, h.locker.ForceTaken)
	assert.Equal(t, []string{"staging/cascade-deploy-staging"}, h.locker.Released)
	assert.Equal(t, "registry.example.com/acme/api:1.2.0", h.fake.Image("api"))
}

func TestRollbackEmergencyFailsWhenTakeoverLost(t *testing.T) {
	h := newHarness(t)
	h.locker.ForceErr = errors.New("lease staging/cascade-deploy-staging: lost takeover race")
	c := h.coordinator()

	_, err := c.Rollback(context.Background(), "staging", RollbackOptions{Emergency: true})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))
	assert.Equal(t, 0, h.fake.MutationCount())
}

func TestRollbackRejectsVersionWithEmergency(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.Rollback(context.Background(), "staging", RollbackOptions{ToVersion: "1.2.0", Emergency: true})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))
}

func TestRollbackProtectedEnvironmentNeedsApproval(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.Rollback(context.Background(), "production", RollbackOptions{})
	require.ErrorIs(t, err, ErrConfirmationRequired)
}

func TestRestoreDatabaseNotifiesCompletion(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveBackup(&types.BackupRecord{
		Environment: "production",
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		LocationRef: "/var/backups/production-old.dump",
	}))
	c := h.coordinator()

	record, err := c.RestoreDatabase(context.Background(), "production", true)
	require.NoError(t, err)

	assert.Equal(t, "/var/backups/production-old.dump", record.LocationRef)
	// pre-restore safety backup, then the actual restore
	assert.Equal(t, 1, h.service.backups)
	assert.Equal(t, []string{"/var/backups/production-old.dump"}, h.service.restores)
	assert.Contains(t, h.notifier.kinds(), notify.KindRestoreCompleted)
}

func TestRestoreDatabaseDoubleFaultIsCritical(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveBackup(&types.BackupRecord{
		Environment: "production",
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
		LocationRef: "/var/backups/production-old.dump",
	}))
	h.service.restoreErrs = []error{errors.New("psql: syntax error"), errors.New("psql: connection refused")}
	c := h.coordinator()

	_, err := c.RestoreDatabase(context.Background(), "production", true)
	require.ErrorIs(t, err, rollback.ErrRestoreUnrecoverable)

	event, ok := h.notifier.find(notify.KindRestoreFailed)
	require.True(t, ok)
	assert.Equal(t, notify.SeverityCritical, event.Severity)
}

func TestTakeBackupRequiresDatabase(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	_, err := c.TakeBackup(context.Background(), "staging")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))
}

func TestTakeBackupRecordsAndNotifies(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	record, err := c.TakeBackup(context.Background(), "production")
	require.NoError(t, err)
	require.NotNil(t, record)

	latest, err := h.store.LatestBackup("production")
	require.NoError(t, err)
	assert.Equal(t, record.ID, latest.ID)
	assert.Contains(t, h.notifier.kinds(), notify.KindBackupCreated)
}

func TestStatusMergesLiveAndRecorded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveState(&types.DeploymentState{
		Environment: "staging",
		CapturedAt:  time.Now().UTC(),
		Services: []types.ServiceRecord{
			{Name: "api", Image: "registry.example.com/acme/api:1.3.0", DesiredReplicas: 2, ReadyReplicas: 2},
		},
	}))
	require.NoError(t, h.store.SaveBackup(&types.BackupRecord{
		Environment: "staging",
		CreatedAt:   time.Now().UTC(),
		LocationRef: "/var/backups/staging-1.dump",
	}))
	c := h.coordinator()

	status, err := c.Status(context.Background(), "staging")
	require.NoError(t, err)

	assert.Len(t, status.Services, 3)
	require.NotNil(t, status.LatestState)
	require.NotNil(t, status.LatestBackup)
	assert.Equal(t, "/var/backups/staging-1.dump", status.LatestBackup.LocationRef)
}

func TestStatusToleratesEmptyHistory(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator()

	status, err := c.Status(context.Background(), "staging")
	require.NoError(t, err)
	assert.Len(t, status.Services, 3)
	assert.Nil(t, status.LatestState)
	assert.Nil(t, status.LatestBackup)
}
