package backup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/log"
	"github.com/cascade-sh/cascade/pkg/metrics"
	"github.com/cascade-sh/cascade/pkg/statestore"
	"github.com/cascade-sh/cascade/pkg/types"
)

// Coordinator pairs the backup service with the record store so every dump
// taken is findable later. All backup and restore traffic goes through it.
type Coordinator struct {
	service Service
	store   statestore.Store
	logger  zerolog.Logger
}

func NewCoordinator(service Service, store statestore.Store) *Coordinator {
	return &Coordinator{
		service: service,
		store:   store,
		logger:  log.WithComponent("backup"),
	}
}

// Take backs up the environment's database and records where the dump
// landed. Environments without a configured database skip silently and
// return a nil record.
func (c *Coordinator) Take(ctx context.Context, env config.Environment) (*types.BackupRecord, error) {
	if !env.Database.Configured() {
		c.logger.Debug().Str("environment", env.Name).Msg("No database configured, skipping backup")
		return nil, nil
	}

	location, err := c.service.Backup(ctx, env)
	if err != nil {
		metrics.BackupsTotal.WithLabelValues(env.Name, "failed").Inc()
		return nil, fmt.Errorf("backup of %s: %w", env.Name, err)
	}

	record := &types.BackupRecord{
		Environment: env.Name,
		LocationRef: location,
	}
	if err := c.store.SaveBackup(record); err != nil {
		metrics.BackupsTotal.WithLabelValues(env.Name, "failed").Inc()
		return nil, fmt.Errorf("backup of %s succeeded but recording it failed: %w", env.Name, err)
	}
	metrics.BackupsTotal.WithLabelValues(env.Name, "succeeded").Inc()
	return record, nil
}

// Restore loads the named backup record, or the latest when id is empty,
// and replays it into the environment's database
func (c *Coordinator) Restore(ctx context.Context, env config.Environment, id string) (*types.BackupRecord, error) {
	if !env.Database.Configured() {
		return nil, fmt.Errorf("environment %s has no database configured", env.Name)
	}

	var record *types.BackupRecord
	var err error
	if id == "" {
		record, err = c.store.LatestBackup(env.Name)
	} else {
		record, err = c.backupByID(env.Name, id)
	}
	if err != nil {
		return nil, err
	}

	if err := c.service.Restore(ctx, env, record.LocationRef); err != nil {
		return nil, fmt.Errorf("restore of %s: %w", env.Name, err)
	}
	return record, nil
}

func (c *Coordinator) backupByID(environment, id string) (*types.BackupRecord, error) {
	records, err := c.store.BackupHistory(environment, 0)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.ID == id {
			return record, nil
		}
	}
	return nil, fmt.Errorf("backup %s not found in %s: %w", id, environment, statestore.ErrNotFound)
}
