package rollback

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/backup"
	"github.com/cascade-sh/cascade/pkg/cluster"
	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/health"
	"github.com/cascade-sh/cascade/pkg/log"
	"github.com/cascade-sh/cascade/pkg/statestore"
	"github.com/cascade-sh/cascade/pkg/types"
)

// ErrRestoreUnrecoverable means a database restore failed and the fallback
// restore of the pre-rollback backup failed too. Nothing further is retried;
// an operator has to look at the database.
var ErrRestoreUnrecoverable = errors.New("database restore unrecoverable")

// Result reports what a rollback did
type Result struct {
	Mode     types.RollbackMode
	StateID  string
	Services []string
	Warnings []string
}

// Engine returns environments to a previously captured state. It never
// touches the database on its own; database restores are a separate,
// explicit operation.
type Engine struct {
	backend cluster.Backend
	checker *health.Checker
	store   statestore.Store
	backups *backup.Coordinator
	cfg     *config.Config
	logger  zerolog.Logger
}

func NewEngine(backend cluster.Backend, checker *health.Checker, store statestore.Store, backups *backup.Coordinator, cfg *config.Config) *Engine {
	return &Engine{
		backend: backend,
		checker: checker,
		store:   store,
		backups: backups,
		cfg:     cfg,
		logger:  log.WithComponent("rollback"),
	}
}

// RollbackToState restores every service in the snapshot to its recorded
// image and replica count.
//
// Normal mode waits for full health confirmation per service and aborts on
// the first failure. Emergency mode forces the Recreate update strategy,
// shortens the health window, records health timeouts as warnings instead
// of failures, and keeps going so every service gets its restore attempt.
func (e *Engine) RollbackToState(ctx context.Context, env config.Environment, state *types.DeploymentState, mode types.RollbackMode) (*Result, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("refusing rollback with invalid snapshot: %w", err)
	}
	if state.Environment != env.Name {
		return nil, fmt.Errorf("snapshot %s belongs to %s, not %s", state.ID, state.Environment, env.Name)
	}

	logger := e.logger.With().
		Str("environment", env.Name).
		Str("state_id", state.ID).
		Str("mode", string(mode)).
		Logger()
	logger.Info().Int("services", len(state.Services)).Msg("Rolling back to snapshot")

	result := &Result{Mode: mode, StateID: state.ID}
	var failures []error
	for _, rec := range state.Services {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("rollback cancelled before %s: %w", rec.Name, err)
		}
		warning, err := e.applyRecord(ctx, env, rec, mode)
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		if err != nil {
			if mode == types.RollbackEmergency {
				logger.Error().Err(err).Str("service", rec.Name).Msg("Service restore failed, continuing")
				failures = append(failures, err)
				continue
			}
			return result, err
		}
		result.Services = append(result.Services, rec.Name)
	}

	if len(failures) > 0 {
		return result, fmt.Errorf("emergency rollback left %d of %d services unrestored: %w",
			len(failures), len(state.Services), errors.Join(failures...))
	}
	logger.Info().Strs("services", result.Services).Int("warnings", len(result.Warnings)).Msg("Rollback complete")
	return result, nil
}

// RollbackToVersion repoints every managed service at the given version,
// keeping each service's current replica count.
func (e *Engine) RollbackToVersion(ctx context.Context, env config.Environment, version string, mode types.RollbackMode) (*Result, error) {
	state := &types.DeploymentState{Environment: env.Name}
	for _, svc := range e.cfg.Services {
		current, err := e.backend.CurrentState(ctx, env.Namespace, svc.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s before rollback: %w", svc.Name, err)
		}
		state.Services = append(state.Services, types.ServiceRecord{
			Name:            svc.Name,
			Image:           types.ImageRef(svc.Repository, version),
			DesiredReplicas: current.DesiredReplicas,
		})
	}
	e.logger.Info().Str("environment", env.Name).Str("version", version).Msg("Rolling back to pinned version")
	return e.RollbackToState(ctx, env, state, mode)
}

// EmergencyRollback returns the environment to its most recent snapshot
// with every speed tradeoff enabled.
func (e *Engine) EmergencyRollback(ctx context.Context, env config.Environment) (*Result, error) {
	state, err := e.store.LatestState(env.Name)
	if err != nil {
		return nil, fmt.Errorf("no snapshot to roll %s back to: %w", env.Name, err)
	}
	return e.RollbackToState(ctx, env, state, types.RollbackEmergency)
}

// RollbackDatabase restores the environment's database to the most recent
// recorded backup. A fresh pre-rollback backup is taken first so a failed
// restore is itself recoverable: on restore failure the pre-rollback backup
// is restored exactly once, and a second failure surfaces as
// ErrRestoreUnrecoverable.
func (e *Engine) RollbackDatabase(ctx context.Context, env config.Environment) (*types.BackupRecord, error) {
	if !env.Database.Configured() {
		return nil, fmt.Errorf("environment %s has no database configured", env.Name)
	}
	target, err := e.store.LatestBackup(env.Name)
	if err != nil {
		return nil, fmt.Errorf("no backup to restore for %s: %w", env.Name, err)
	}
	logger := e.logger.With().Str("environment", env.Name).Str("backup_id", target.ID).Logger()

	pre, err := e.backups.Take(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("pre-rollback backup failed, restore aborted: %w", err)
	}
	logger.Info().Str("pre_rollback_id", pre.ID).Msg("Restoring database backup")

	if _, err := e.backups.Restore(ctx, env, target.ID); err != nil {
		logger.Error().Err(err).Msg("Restore failed, returning database to pre-rollback backup")
		if _, fallbackErr := e.backups.Restore(ctx, env, pre.ID); fallbackErr != nil {
			return nil, fmt.Errorf("restore of %s failed (%v), pre-rollback restore of %s also failed (%v): %w",
				target.ID, err, pre.ID, fallbackErr, ErrRestoreUnrecoverable)
		}
		return nil, fmt.Errorf("restore of backup %s failed, database returned to pre-rollback state: %w", target.ID, err)
	}
	logger.Info().Msg("Database restored")
	return target, nil
}

// applyRecord restores one service. The returned warning is non-empty only
// for emergency-mode health timeouts, which do not fail the record.
func (e *Engine) applyRecord(ctx context.Context, env config.Environment, rec types.ServiceRecord, mode types.RollbackMode) (string, error) {
	logger := e.logger.With().
		Str("service", rec.Name).
		Str("image", rec.Image).
		Int32("replicas", rec.DesiredReplicas).
		Logger()
	logger.Info().Msg("Restoring service")

	if mode == types.RollbackEmergency {
		policy := types.UpdateStrategy{Type: types.UpdateRecreate}
		if err := e.backend.SetUpdateStrategy(ctx, env.Namespace, rec.Name, policy); err != nil {
			return "", fmt.Errorf("failed to force recreate strategy on %s: %w", rec.Name, err)
		}
	}
	if err := e.backend.SetImage(ctx, env.Namespace, rec.Name, rec.Image); err != nil {
		return "", fmt.Errorf("failed to restore image on %s: %w", rec.Name, err)
	}
	if err := e.backend.Scale(ctx, env.Namespace, rec.Name, rec.DesiredReplicas); err != nil {
		return "", fmt.Errorf("failed to restore replicas on %s: %w", rec.Name, err)
	}

	timeout := e.cfg.Defaults.HealthTimeout.Std()
	if mode == types.RollbackEmergency {
		timeout = e.cfg.Defaults.EmergencyHealthTimeout.Std()
	}
	if err := e.checker.WaitHealthy(ctx, env.Namespace, rec.Name, e.healthPath(rec.Name), timeout); err != nil {
		if mode == types.RollbackEmergency {
			logger.Warn().Err(err).Msg("Health not confirmed within emergency window")
			return fmt.Sprintf("%s: health not confirmed: %v", rec.Name, err), nil
		}
		return "", fmt.Errorf("service %s unhealthy after rollback: %w", rec.Name, err)
	}
	return "", nil
}

// healthPath falls back to the stock path for services that have left the
// configuration since the snapshot was captured
func (e *Engine) healthPath(service string) string {
	if svc, err := e.cfg.Service(service); err == nil {
		return svc.HealthPath
	}
	return "/healthz"
}
