package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/log"
	"github.com/cascade-sh/cascade/pkg/metrics"
	"github.com/cascade-sh/cascade/pkg/statestore"
)

// DefaultSchedule prunes once a day
const DefaultSchedule = "@daily"

// Runner prunes snapshot and backup history past the configured retention
// on a cron schedule. Pruning only ever runs here, never inside a deploy or
// rollback.
type Runner struct {
	store    statestore.Store
	cfg      *config.Config
	schedule cron.Schedule
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewRunner(store statestore.Store, cfg *config.Config, scheduleSpec string) (*Runner, error) {
	if scheduleSpec == "" {
		scheduleSpec = DefaultSchedule
	}
	schedule, err := cron.Parse(scheduleSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", scheduleSpec, err)
	}
	return &Runner{
		store:    store,
		cfg:      cfg,
		schedule: schedule,
		logger:   log.WithComponent("maintenance"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins the maintenance loop
func (r *Runner) Start() {
	metrics.RegisterComponent("maintenance", true, "waiting for first run")
	go r.run()
}

// Stop stops the loop and waits for an in-flight pass to finish
func (r *Runner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Runner) run() {
	defer close(r.doneCh)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		r.logger.Info().Time("next_run", next).Msg("Maintenance pass scheduled")

		select {
		case <-timer.C:
			if err := r.RunOnce(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("Maintenance pass failed")
			}
		case <-r.stopCh:
			timer.Stop()
			return
		}
	}
}

// RunOnce executes a single maintenance pass over every environment. An
// environment that fails is reported but does not block the others.
func (r *Runner) RunOnce(ctx context.Context) error {
	var errs []error
	for _, env := range r.cfg.Environments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.pruneEnvironment(env.Name); err != nil {
			r.logger.Error().Err(err).Str("environment", env.Name).Msg("Retention pruning failed")
			errs = append(errs, fmt.Errorf("%s: %w", env.Name, err))
		}
	}
	metrics.MaintenanceRuns.Inc()

	err := errors.Join(errs...)
	if err != nil {
		metrics.UpdateComponent("maintenance", false, err.Error())
	} else {
		metrics.UpdateComponent("maintenance", true, "last pass ok")
	}
	return err
}

// pruneEnvironment trims both histories to the retention limits and
// refreshes the per-environment retention gauges
func (r *Runner) pruneEnvironment(environment string) error {
	states, err := r.store.PruneStates(environment, r.cfg.Defaults.KeepStates)
	if err != nil {
		return fmt.Errorf("pruning snapshots: %w", err)
	}
	backups, err := r.store.PruneBackups(environment, r.cfg.Defaults.KeepBackups)
	if err != nil {
		return fmt.Errorf("pruning backup records: %w", err)
	}

	if states > 0 {
		metrics.RecordsPruned.WithLabelValues(environment, "snapshot").Add(float64(states))
	}
	if backups > 0 {
		metrics.RecordsPruned.WithLabelValues(environment, "backup").Add(float64(backups))
	}
	if states > 0 || backups > 0 {
		r.logger.Info().
			Str("environment", environment).
			Int("snapshots", states).
			Int("backups", backups).
			Msg("Pruned history records")
	}

	remaining, err := r.store.StateHistory(environment, 0)
	if err != nil {
		return fmt.Errorf("counting snapshots: %w", err)
	}
	metrics.SnapshotsRetained.WithLabelValues(environment).Set(float64(len(remaining)))

	records, err := r.store.BackupHistory(environment, 0)
	if err != nil {
		return fmt.Errorf("counting backup records: %w", err)
	}
	metrics.BackupsRetained.WithLabelValues(environment).Set(float64(len(records)))
	return nil
}
