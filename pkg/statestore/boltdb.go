package statestore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cascade-sh/cascade/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Top-level buckets; each holds one nested bucket per environment
	bucketStates  = []byte("deployment_states")
	bucketBackups = []byte("backup_records")
)

// BoltStore implements Store using BoltDB. Records are stored as JSON under
// a nested bucket per environment, keyed by their timestamp-derived id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the state database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cascade.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create top-level buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketStates, bucketBackups} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveState appends an immutable deployment snapshot to the environment's
// history. If the snapshot carries no id, one is derived from CapturedAt.
func (s *BoltStore) SaveState(state *types.DeploymentState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid deployment state: %w", err)
	}
	if state.CapturedAt.IsZero() {
		state.CapturedAt = time.Now().UTC()
	}
	if state.ID == "" {
		state.ID = NewID(state.CapturedAt)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketStates).CreateBucketIfNotExists([]byte(state.Environment))
		if err != nil {
			return fmt.Errorf("failed to create environment bucket: %w", err)
		}
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put([]byte(state.ID), data)
	})
}

// LatestState returns the most recent snapshot for the environment
func (s *BoltStore) LatestState(environment string) (*types.DeploymentState, error) {
	var state types.DeploymentState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates).Bucket([]byte(environment))
		if b == nil {
			return fmt.Errorf("no deployment history for %s: %w", environment, ErrNotFound)
		}
		k, v := b.Cursor().Last()
		if k == nil {
			return fmt.Errorf("no deployment history for %s: %w", environment, ErrNotFound)
		}
		return json.Unmarshal(v, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// StateByID returns one specific snapshot
func (s *BoltStore) StateByID(environment, id string) (*types.DeploymentState, error) {
	var state types.DeploymentState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates).Bucket([]byte(environment))
		if b == nil {
			return fmt.Errorf("no deployment history for %s: %w", environment, ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("snapshot %s not found in %s: %w", id, environment, ErrNotFound)
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// StateHistory returns snapshots most-recent-first. A limit of zero or less
// returns the full history.
func (s *BoltStore) StateHistory(environment string, limit int) ([]*types.DeploymentState, error) {
	var states []*types.DeploymentState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStates).Bucket([]byte(environment))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(states) >= limit {
				break
			}
			var state types.DeploymentState
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			states = append(states, &state)
		}
		return nil
	})
	return states, err
}

// PruneStates drops all but the newest keep snapshots for the environment
// and returns the number removed
func (s *BoltStore) PruneStates(environment string, keep int) (int, error) {
	return s.prune(bucketStates, environment, keep)
}

// SaveBackup appends an immutable backup record to the environment's
// history. If the record carries no id, one is derived from CreatedAt.
func (s *BoltStore) SaveBackup(record *types.BackupRecord) error {
	if record.Environment == "" {
		return fmt.Errorf("backup record has no environment")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.ID == "" {
		record.ID = NewID(record.CreatedAt)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketBackups).CreateBucketIfNotExists([]byte(record.Environment))
		if err != nil {
			return fmt.Errorf("failed to create environment bucket: %w", err)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.ID), data)
	})
}

// LatestBackup returns the most recent backup record for the environment
func (s *BoltStore) LatestBackup(environment string) (*types.BackupRecord, error) {
	var record types.BackupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups).Bucket([]byte(environment))
		if b == nil {
			return fmt.Errorf("no backup history for %s: %w", environment, ErrNotFound)
		}
		k, v := b.Cursor().Last()
		if k == nil {
			return fmt.Errorf("no backup history for %s: %w", environment, ErrNotFound)
		}
		return json.Unmarshal(v, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// BackupHistory returns backup records most-recent-first
func (s *BoltStore) BackupHistory(environment string, limit int) ([]*types.BackupRecord, error) {
	var records []*types.BackupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBackups).Bucket([]byte(environment))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var record types.BackupRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
		}
		return nil
	})
	return records, err
}

// PruneBackups drops all but the newest keep backup records for the
// environment and returns the number removed
func (s *BoltStore) PruneBackups(environment string, keep int) (int, error) {
	return s.prune(bucketBackups, environment, keep)
}

func (s *BoltStore) prune(bucket []byte, environment string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket).Bucket([]byte(environment))
		if b == nil {
			return nil
		}
		total := b.Stats().KeyN
		excess := total - keep
		if excess <= 0 {
			return nil
		}

		// Oldest keys come first; collect then delete to keep the cursor sane
		victims := make([][]byte, 0, excess)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(victims) < excess; k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			victims = append(victims, key)
		}
		for _, k := range victims {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}
