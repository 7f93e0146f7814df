package deployer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blang/semver/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/backup"
	"github.com/cascade-sh/cascade/pkg/cluster"
	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/health"
	"github.com/cascade-sh/cascade/pkg/log"
	"github.com/cascade-sh/cascade/pkg/metrics"
	"github.com/cascade-sh/cascade/pkg/notify"
	"github.com/cascade-sh/cascade/pkg/rollback"
	"github.com/cascade-sh/cascade/pkg/statestore"
	"github.com/cascade-sh/cascade/pkg/strategy"
	"github.com/cascade-sh/cascade/pkg/types"
)

// ImageChecker verifies a tag exists in the image registry
type ImageChecker interface {
	TagExists(ctx context.Context, repository, version string) (bool, error)
}

// Options tune one Deploy call
type Options struct {
	SkipTests   bool
	SkipBackup  bool
	DryRun      bool
	Force       bool
	AutoApprove bool
}

// RollbackOptions tune one Rollback call
type RollbackOptions struct {
	// ToVersion pins every service to this version instead of replaying
	// the latest snapshot
	ToVersion   string
	Emergency   bool
	AutoApprove bool
}

// PlanEntry describes the change one service would see
type PlanEntry struct {
	Service      string
	CurrentImage string
	TargetImage  string
	Replicas     int32
}

// Result reports a completed (or dry-run) deploy
type Result struct {
	Attempt  types.RolloutAttempt
	StateID  string
	BackupID string
	Plan     []PlanEntry
	Report   *strategy.Report
}

// EnvironmentStatus is the live and recorded view of one environment
type EnvironmentStatus struct {
	Environment  string
	Services     []types.ServiceRecord
	LatestState  *types.DeploymentState
	LatestBackup *types.BackupRecord
}

// Deps wires the coordinator's collaborators
type Deps struct {
	Config     *config.Config
	Backend    cluster.Backend
	Locker     cluster.Locker
	Registry   ImageChecker
	Strategies *strategy.Engine
	Rollback   *rollback.Engine
	Checker    *health.Checker
	Backups    *backup.Coordinator
	Store      statestore.Store
	Tests      TestRunner
	Notifier   notify.Notifier
}

// Coordinator owns the deployment pipeline end to end: validation, the
// per-environment lease, preflight, backup, snapshot, strategy execution,
// post-deploy verification, and automatic rollback on failure.
type Coordinator struct {
	cfg        *config.Config
	backend    cluster.Backend
	locker     cluster.Locker
	registry   ImageChecker
	strategies *strategy.Engine
	rollback   *rollback.Engine
	checker    *health.Checker
	backups    *backup.Coordinator
	store      statestore.Store
	tests      TestRunner
	notifier   notify.Notifier
	logger     zerolog.Logger
}

func NewCoordinator(deps Deps) *Coordinator {
	return &Coordinator{
		cfg:        deps.Config,
		backend:    deps.Backend,
		locker:     deps.Locker,
		registry:   deps.Registry,
		strategies: deps.Strategies,
		rollback:   deps.Rollback,
		checker:    deps.Checker,
		backups:    deps.Backups,
		store:      deps.Store,
		tests:      deps.Tests,
		notifier:   deps.Notifier,
		logger:     log.WithComponent("deployer"),
	}
}

// Deploy moves an environment to the target version using the named
// strategy. Validation failures return before anything is touched; once
// execution starts, a failure triggers an automatic rollback to the
// pre-deploy snapshot unless force is set.
func (c *Coordinator) Deploy(ctx context.Context, environment, version, strategyName string, opts Options) (*Result, error) {
	env, err := c.cfg.Environment(environment)
	if err != nil {
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged, Err: err}
	}
	if _, err := semver.ParseTolerant(version); err != nil {
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged,
			Err: fmt.Errorf("invalid version %q: %w", version, err)}
	}
	strat, err := types.ParseStrategy(strategyName)
	if err != nil {
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged, Err: err}
	}
	if len(c.cfg.Services) == 0 {
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged,
			Err: fmt.Errorf("no services configured")}
	}

	attempt := types.RolloutAttempt{
		ID:            uuid.NewString(),
		Environment:   env.Name,
		TargetVersion: version,
		Strategy:      strat,
		StartedAt:     time.Now().UTC(),
		Status:        types.AttemptRunning,
	}
	logger := c.logger.With().
		Str("environment", env.Name).
		Str("version", version).
		Str("strategy", string(strat)).
		Str("attempt_id", attempt.ID).
		Logger()

	if opts.DryRun {
		return c.dryRun(ctx, env, version, attempt, logger)
	}

	if env.Protected && !opts.AutoApprove {
		return nil, &DeployError{Kind: KindConfirmation, Outcome: OutcomeUnchanged,
			Err: fmt.Errorf("deploy to %s: %w", env.Name, ErrConfirmationRequired)}
	}

	timer := metrics.NewTimer()
	result, err := c.execute(ctx, env, version, strat, &attempt, opts, logger)
	timer.ObserveDurationVec(metrics.DeployDuration, env.Name, string(strat))
	metrics.DeploysTotal.WithLabelValues(env.Name, string(strat), string(attempt.Status)).Inc()
	return result, err
}

func (c *Coordinator) execute(ctx context.Context, env config.Environment, version string, strat types.Strategy, attempt *types.RolloutAttempt, opts Options, logger zerolog.Logger) (*Result, error) {
	fail := func(derr *DeployError) (*Result, error) {
		attempt.Status = types.AttemptFailed
		logger.Error().Err(derr.Err).Str("kind", string(derr.Kind)).Msg("Deployment failed")
		c.notifyFailure(ctx, env, attempt, derr, notify.SeverityWarning)
		return nil, derr
	}

	lease := leaseName(env.Name)
	if err := c.locker.Acquire(ctx, env.Namespace, lease); err != nil {
		attempt.Status = types.AttemptFailed
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged,
			Err: fmt.Errorf("deploy lease for %s: %w", env.Name, err)}
	}
	defer func() {
		if err := c.locker.Release(context.WithoutCancel(ctx), env.Namespace, lease); err != nil {
			logger.Warn().Err(err).Msg("Failed to release deploy lease")
		}
	}()

	logger.Info().Msg("Starting deployment")
	c.notify(ctx, notify.Event{
		Severity:    notify.SeverityInfo,
		Kind:        notify.KindDeployStarted,
		Environment: env.Name,
		AttemptID:   attempt.ID,
		Version:     version,
		Message:     fmt.Sprintf("Deploying %s to %s with %s strategy", version, env.Name, strat),
	})

	if derr := c.preflightImages(ctx, env, version); derr != nil {
		return fail(derr)
	}
	if !opts.SkipTests {
		if err := c.tests.Run(ctx, env, version); err != nil {
			if !opts.Force {
				return fail(&DeployError{Kind: KindPreflight, Outcome: OutcomeUnchanged, Err: err})
			}
			logger.Warn().Err(err).Msg("Test suite failed, continuing under force")
		}
	}

	var backupID string
	if opts.SkipBackup {
		logger.Warn().Msg("Pre-deploy database backup skipped")
	} else {
		record, err := c.backups.Take(ctx, env)
		if err != nil {
			return fail(&DeployError{Kind: KindBackup, Outcome: OutcomeUnchanged, Err: err})
		}
		if record != nil {
			backupID = record.ID
			c.notify(ctx, notify.Event{
				Severity:    notify.SeverityInfo,
				Kind:        notify.KindBackupCreated,
				Environment: env.Name,
				AttemptID:   attempt.ID,
				Version:     version,
				Message:     fmt.Sprintf("Pre-deploy database backup %s", record.ID),
				Details:     map[string]string{"location": record.LocationRef},
			})
		}
	}

	// The snapshot is the rollback target; it must be on disk before the
	// first mutation so a crash mid-deploy always leaves a usable target.
	state, err := c.captureState(ctx, env)
	if err != nil {
		return fail(&DeployError{Kind: KindSnapshot, Outcome: OutcomeUnchanged, Err: err})
	}
	if err := c.store.SaveState(state); err != nil {
		return fail(&DeployError{Kind: KindSnapshot, Outcome: OutcomeUnchanged,
			Err: fmt.Errorf("failed to persist snapshot: %w", err)})
	}
	logger.Info().Str("state_id", state.ID).Msg("Captured pre-deploy snapshot")

	params := strategy.Params{Environment: env, Services: c.cfg.Services, Version: version}
	report, runErr := c.strategies.Run(ctx, strat, params)
	c.recordEvaluations(ctx, env, attempt, report)
	if runErr != nil {
		return c.failAndRollback(ctx, env, state, attempt, opts, logger,
			&DeployError{Kind: KindStrategy, Service: failingService(runErr), Err: runErr})
	}

	for _, svc := range c.cfg.Services {
		if err := c.checker.WaitHealthy(ctx, env.Namespace, svc.Name, svc.HealthPath, c.cfg.Defaults.HealthTimeout.Std()); err != nil {
			return c.failAndRollback(ctx, env, state, attempt, opts, logger,
				&DeployError{Kind: KindHealthCheck, Service: svc.Name, Err: err})
		}
	}

	attempt.Status = types.AttemptSucceeded
	logger.Info().Str("state_id", state.ID).Msg("Deployment succeeded")
	c.notify(ctx, notify.Event{
		Severity:    notify.SeverityInfo,
		Kind:        notify.KindDeploySucceeded,
		Environment: env.Name,
		AttemptID:   attempt.ID,
		Version:     version,
		Message:     fmt.Sprintf("%s deployed to %s", version, env.Name),
		Details:     map[string]string{"state_id": state.ID},
	})

	return &Result{
		Attempt:  *attempt,
		StateID:  state.ID,
		BackupID: backupID,
		Plan:     c.buildPlan(state, version),
		Report:   report,
	}, nil
}

// failAndRollback handles an execution failure: the environment is partially
// changed, so unless force suppressed it, the pre-deploy snapshot is
// replayed. Rollback runs on an uncancellable context; an operator abort
// must not strand the environment half-deployed.
func (c *Coordinator) failAndRollback(ctx context.Context, env config.Environment, state *types.DeploymentState, attempt *types.RolloutAttempt, opts Options, logger zerolog.Logger, derr *DeployError) (*Result, error) {
	attempt.Status = types.AttemptFailed
	logger.Error().Err(derr.Err).Str("service", derr.Service).Msg("Deployment failed")

	if opts.Force {
		derr.Outcome = OutcomeRollbackSkipped
		logger.Warn().Msg("Automatic rollback skipped under force")
		c.notifyFailure(ctx, env, attempt, derr, notify.SeverityWarning)
		return nil, derr
	}

	c.notifyFailure(ctx, env, attempt, derr, notify.SeverityWarning)
	c.notify(ctx, notify.Event{
		Severity:    notify.SeverityWarning,
		Kind:        notify.KindRollbackStarted,
		Environment: env.Name,
		AttemptID:   attempt.ID,
		Message:     fmt.Sprintf("Rolling %s back to snapshot %s", env.Name, state.ID),
	})

	rbCtx := context.WithoutCancel(ctx)
	if _, rbErr := c.rollback.RollbackToState(rbCtx, env, state, types.RollbackNormal); rbErr != nil {
		metrics.RollbacksTotal.WithLabelValues(env.Name, string(types.RollbackNormal), "failed").Inc()
		derr.Outcome = OutcomeRollbackFailed
		derr.Err = errors.Join(derr.Err, fmt.Errorf("automatic rollback failed: %w", rbErr))
		logger.Error().Err(rbErr).Msg("Automatic rollback failed, environment degraded")
		c.notify(ctx, notify.Event{
			Severity:    notify.SeverityCritical,
			Kind:        notify.KindRollbackFailed,
			Environment: env.Name,
			AttemptID:   attempt.ID,
			Message:     fmt.Sprintf("%s is degraded: deploy failed and rollback to snapshot %s failed", env.Name, state.ID),
		})
		return nil, derr
	}

	metrics.RollbacksTotal.WithLabelValues(env.Name, string(types.RollbackNormal), "succeeded").Inc()
	attempt.Status = types.AttemptRolledBack
	derr.Outcome = OutcomeRolledBack
	logger.Info().Str("state_id", state.ID).Msg("Environment rolled back")
	c.notify(ctx, notify.Event{
		Severity:    notify.SeverityWarning,
		Kind:        notify.KindRollbackSucceeded,
		Environment: env.Name,
		AttemptID:   attempt.ID,
		Message:     fmt.Sprintf("%s restored to snapshot %s", env.Name, state.ID),
	})
	return nil, derr
}

// dryRun performs the read-only half of the pipeline and reports the plan.
// No lease, no backup, no snapshot persist, no mutation.
func (c *Coordinator) dryRun(ctx context.Context, env config.Environment, version string, attempt types.RolloutAttempt, logger zerolog.Logger) (*Result, error) {
	if derr := c.preflightImages(ctx, env, version); derr != nil {
		return nil, derr
	}
	state, err := c.captureState(ctx, env)
	if err != nil {
		return nil, &DeployError{Kind: KindSnapshot, Outcome: OutcomeUnchanged, Err: err}
	}
	plan := c.buildPlan(state, version)
	logger.Info().Int("services", len(plan)).Msg("Dry run complete, no changes made")

	attempt.Status = types.AttemptSucceeded
	return &Result{Attempt: attempt, Plan: plan}, nil
}

// Rollback is the explicit operator-facing rollback: to the latest
// snapshot by default, to a pinned version, or in emergency mode. Emergency
// takes the deploy lease by force so recovery cannot queue behind the
// crashed deploy that may still hold it, while a live mutator is still
// fenced off the environment for the duration.
func (c *Coordinator) Rollback(ctx context.Context, environment string, opts RollbackOptions) (*rollback.Result, error) {
	env, err := c.cfg.Environment(environment)
	if err != nil {
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged, Err: err}
	}
	if opts.ToVersion != "" {
		if opts.Emergency {
			return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged,
				Err: fmt.Errorf("a version rollback and an emergency rollback are mutually exclusive")}
		}
		if _, err := semver.ParseTolerant(opts.ToVersion); err != nil {
			return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged,
				Err: fmt.Errorf("invalid version %q: %w", opts.ToVersion, err)}
		}
	}
	if env.Protected && !opts.AutoApprove {
		return nil, &DeployError{Kind: KindConfirmation, Outcome: OutcomeUnchanged,
			Err: fmt.Errorf("rollback of %s: %w", env.Name, ErrConfirmationRequired)}
	}

	mode := types.RollbackNormal
	lease := leaseName(env.Name)
	if opts.Emergency {
		mode = types.RollbackEmergency
		if err := c.locker.ForceAcquire(ctx, env.Namespace, lease); err != nil {
			return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged,
				Err: fmt.Errorf("deploy lease for %s: %w", env.Name, err)}
		}
	} else if err := c.locker.Acquire(ctx, env.Namespace, lease); err != nil {
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged,
			Err: fmt.Errorf("deploy lease for %s: %w", env.Name, err)}
	}
	defer func() {
		if err := c.locker.Release(context.WithoutCancel(ctx), env.Namespace, lease); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to release deploy lease")
		}
	}()

	var target *types.DeploymentState
	if !opts.Emergency && opts.ToVersion == "" {
		target, err = c.store.LatestState(env.Name)
		if err != nil {
			return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged,
				Err: fmt.Errorf("no snapshot to roll back to: %w", err)}
		}
	}

	c.notify(ctx, notify.Event{
		Severity:    notify.SeverityWarning,
		Kind:        notify.KindRollbackStarted,
		Environment: env.Name,
		Message:     rollbackMessage(env.Name, opts),
	})

	var result *rollback.Result
	var rbErr error
	switch {
	case opts.Emergency:
		result, rbErr = c.rollback.EmergencyRollback(ctx, env)
	case opts.ToVersion != "":
		result, rbErr = c.rollback.RollbackToVersion(ctx, env, opts.ToVersion, mode)
	default:
		result, rbErr = c.rollback.RollbackToState(ctx, env, target, mode)
	}

	if rbErr != nil {
		metrics.RollbacksTotal.WithLabelValues(env.Name, string(mode), "failed").Inc()
		c.notify(ctx, notify.Event{
			Severity:    notify.SeverityCritical,
			Kind:        notify.KindRollbackFailed,
			Environment: env.Name,
			Message:     fmt.Sprintf("Rollback of %s failed: %v", env.Name, rbErr),
		})
		return result, &DeployError{Kind: KindRollback, Outcome: OutcomeRollbackFailed, Err: rbErr}
	}

	metrics.RollbacksTotal.WithLabelValues(env.Name, string(mode), "succeeded").Inc()
	details := map[string]string{"mode": string(mode)}
	if result.StateID != "" {
		details["state_id"] = result.StateID
	}
	if len(result.Warnings) > 0 {
		details["warnings"] = fmt.Sprintf("%d", len(result.Warnings))
	}
	c.notify(ctx, notify.Event{
		Severity:    notify.SeverityInfo,
		Kind:        notify.KindRollbackSucceeded,
		Environment: env.Name,
		Message:     fmt.Sprintf("%s rolled back (%d services)", env.Name, len(result.Services)),
		Details:     details,
	})
	return result, nil
}

// RestoreDatabase is the explicit database rollback path
func (c *Coordinator) RestoreDatabase(ctx context.Context, environment string, autoApprove bool) (*types.BackupRecord, error) {
	env, err := c.cfg.Environment(environment)
	if err != nil {
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged, Err: err}
	}
	if env.Protected && !autoApprove {
		return nil, &DeployError{Kind: KindConfirmation, Outcome: OutcomeUnchanged,
			Err: fmt.Errorf("database restore of %s: %w", env.Name, ErrConfirmationRequired)}
	}

	record, err := c.rollback.RollbackDatabase(ctx, env)
	if err != nil {
		severity := notify.SeverityWarning
		if errors.Is(err, rollback.ErrRestoreUnrecoverable) {
			severity = notify.SeverityCritical
		}
		c.notify(ctx, notify.Event{
			Severity:    severity,
			Kind:        notify.KindRestoreFailed,
			Environment: env.Name,
			Message:     fmt.Sprintf("Database restore for %s failed: %v", env.Name, err),
		})
		return nil, err
	}

	c.notify(ctx, notify.Event{
		Severity:    notify.SeverityInfo,
		Kind:        notify.KindRestoreCompleted,
		Environment: env.Name,
		Message:     fmt.Sprintf("Database restored to backup %s", record.ID),
		Details:     map[string]string{"location": record.LocationRef},
	})
	return record, nil
}

// TakeBackup runs an explicit, pre-emptive database backup
func (c *Coordinator) TakeBackup(ctx context.Context, environment string) (*types.BackupRecord, error) {
	env, err := c.cfg.Environment(environment)
	if err != nil {
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged, Err: err}
	}
	if !env.Database.Configured() {
		return nil, &DeployError{Kind: KindPrecondition, Outcome: OutcomeUnchanged,
			Err: fmt.Errorf("environment %s has no database configured", env.Name)}
	}

	record, err := c.backups.Take(ctx, env)
	if err != nil {
		return nil, err
	}
	c.notify(ctx, notify.Event{
		Severity:    notify.SeverityInfo,
		Kind:        notify.KindBackupCreated,
		Environment: env.Name,
		Message:     fmt.Sprintf("Database backup %s", record.ID),
		Details:     map[string]string{"location": record.LocationRef},
	})
	return record, nil
}

// Status reports the live topology next to the latest recorded snapshot
// and backup
func (c *Coordinator) Status(ctx context.Context, environment string) (*EnvironmentStatus, error) {
	env, err := c.cfg.Environment(environment)
	if err != nil {
		return nil, err
	}
	state, err := c.captureState(ctx, env)
	if err != nil {
		return nil, err
	}

	status := &EnvironmentStatus{Environment: env.Name, Services: state.Services}
	if latest, err := c.store.LatestState(env.Name); err == nil {
		status.LatestState = latest
	} else if !errors.Is(err, statestore.ErrNotFound) {
		return nil, err
	}
	if latest, err := c.store.LatestBackup(env.Name); err == nil {
		status.LatestBackup = latest
	} else if !errors.Is(err, statestore.ErrNotFound) {
		return nil, err
	}
	return status, nil
}

// preflightImages confirms every service's image exists at the target
// version before anything else runs
func (c *Coordinator) preflightImages(ctx context.Context, env config.Environment, version string) *DeployError {
	for _, svc := range c.cfg.Services {
		ok, err := c.registry.TagExists(ctx, svc.Repository, version)
		if err != nil {
			return &DeployError{Kind: KindPrecondition, Service: svc.Name, Outcome: OutcomeUnchanged,
				Err: fmt.Errorf("registry lookup for %s: %w", svc.Repository, err)}
		}
		if !ok {
			return &DeployError{Kind: KindPrecondition, Service: svc.Name, Outcome: OutcomeUnchanged,
				Err: fmt.Errorf("image %s not found in registry", types.ImageRef(svc.Repository, version))}
		}
	}
	return nil
}

// captureState reads the live topology of every managed service
func (c *Coordinator) captureState(ctx context.Context, env config.Environment) (*types.DeploymentState, error) {
	state := &types.DeploymentState{Environment: env.Name, CapturedAt: time.Now().UTC()}
	for _, svc := range c.cfg.Services {
		record, err := c.backend.CurrentState(ctx, env.Namespace, svc.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read current state of %s: %w", svc.Name, err)
		}
		state.Services = append(state.Services, record)
	}
	return state, nil
}

func (c *Coordinator) buildPlan(state *types.DeploymentState, version string) []PlanEntry {
	entries := make([]PlanEntry, 0, len(state.Services))
	for _, rec := range state.Services {
		target := rec.Image
		if svc, err := c.cfg.Service(rec.Name); err == nil {
			target = types.ImageRef(svc.Repository, version)
		}
		entries = append(entries, PlanEntry{
			Service:      rec.Name,
			CurrentImage: rec.Image,
			TargetImage:  target,
			Replicas:     rec.DesiredReplicas,
		})
	}
	return entries
}

// recordEvaluations surfaces canary decisions as metrics and notifications,
// whether or not the run went on to succeed
func (c *Coordinator) recordEvaluations(ctx context.Context, env config.Environment, attempt *types.RolloutAttempt, report *strategy.Report) {
	if report == nil {
		return
	}
	for _, eval := range report.Evaluations {
		metrics.CanaryDecisions.WithLabelValues(env.Name, eval.Service, string(eval.Decision)).Inc()
		kind, severity := notify.KindCanaryPromoted, notify.SeverityInfo
		if eval.Decision == types.DecisionAbort {
			kind, severity = notify.KindCanaryAborted, notify.SeverityWarning
		}
		details := map[string]string{
			"error_rate":          fmt.Sprintf("%.2f", eval.CanaryErrorRate),
			"baseline_error_rate": fmt.Sprintf("%.2f", eval.BaselineErrorRate),
			"latency_ms":          fmt.Sprintf("%.0f", eval.CanaryLatencyMs),
			"baseline_latency_ms": fmt.Sprintf("%.0f", eval.BaselineLatencyMs),
		}
		if eval.LatencySkipped {
			details["latency_skipped"] = "true"
		}
		c.notify(ctx, notify.Event{
			Severity:    severity,
			Kind:        kind,
			Environment: env.Name,
			AttemptID:   attempt.ID,
			Version:     attempt.TargetVersion,
			Message:     fmt.Sprintf("Canary for %s: %s", eval.Service, eval.Decision),
			Details:     details,
		})
	}
}

func (c *Coordinator) notifyFailure(ctx context.Context, env config.Environment, attempt *types.RolloutAttempt, derr *DeployError, severity notify.Severity) {
	details := map[string]string{"kind": string(derr.Kind), "outcome": string(derr.Outcome)}
	if derr.Service != "" {
		details["service"] = derr.Service
	}
	c.notify(ctx, notify.Event{
		Severity:    severity,
		Kind:        notify.KindDeployFailed,
		Environment: env.Name,
		AttemptID:   attempt.ID,
		Version:     attempt.TargetVersion,
		Message:     fmt.Sprintf("Deploy of %s to %s failed: %v", attempt.TargetVersion, env.Name, derr.Err),
		Details:     details,
	})
}

// notify delivers an event and logs delivery failures; they never affect
// the operation that emitted the event
func (c *Coordinator) notify(ctx context.Context, event notify.Event) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn().Err(err).Str("kind", event.Kind).Msg("Notification delivery failed")
	}
}

func failingService(err error) string {
	var serr *strategy.Error
	if errors.As(err, &serr) {
		return serr.Service
	}
	return ""
}

func leaseName(environment string) string {
	return "cascade-deploy-" + environment
}

func rollbackMessage(environment string, opts RollbackOptions) string {
	switch {
	case opts.Emergency:
		return fmt.Sprintf("Emergency rollback of %s to latest snapshot", environment)
	case opts.ToVersion != "":
		return fmt.Sprintf("Rolling %s back to version %s", environment, opts.ToVersion)
	default:
		return fmt.Sprintf("Rolling %s back to latest snapshot", environment)
	}
}
