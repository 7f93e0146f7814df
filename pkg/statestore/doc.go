/*
Package statestore provides BoltDB-backed persistence for Cascade's
deployment history.

The store holds two append-only collections per environment: deployment
state snapshots (the rollback targets) and database backup records. Both
are immutable once saved. Reading "latest" is how the rollback engine finds
its target, so the write path is deliberately simple: one JSON value per
record, keyed so that key order equals time order.

# Architecture

	┌──────────────────── BOLTDB STORE ────────────────────────┐
	│                                                           │
	│  File: <dataDir>/cascade.db                               │
	│                                                           │
	│  deployment_states/                                       │
	│    staging/                                               │
	│      00000000000000000001 → DeploymentState JSON          │
	│      00000000000000000002 → DeploymentState JSON          │
	│    production/                                            │
	│      ...                                                  │
	│                                                           │
	│  backup_records/                                          │
	│    staging/                                               │
	│      00000000000000000001 → BackupRecord JSON             │
	│    production/                                            │
	│      ...                                                  │
	│                                                           │
	│  Keys are zero-padded UnixNano: lexicographic order is    │
	│  chronological order, and Cursor().Last() is "latest".    │
	└───────────────────────────────────────────────────────────┘

# Ordering Guarantees

SaveState must complete before any cluster mutation begins (the deployment
coordinator enforces this), so a crash mid-deploy always leaves a usable
rollback target on disk. BoltDB's single-writer transactions give the
required durability: once SaveState returns, the snapshot is fsynced.

# Retention

Histories grow by one snapshot and at most one backup record per deploy.
PruneStates and PruneBackups drop everything beyond the newest N records;
they are invoked only by the maintenance runner, never by deploy or
rollback logic, so a rollback target can never disappear mid-operation.

# Usage

	store, err := statestore.NewBoltStore("/var/lib/cascade")
	if err != nil { ... }
	defer store.Close()

	err = store.SaveState(&types.DeploymentState{
		Environment: "staging",
		CapturedAt:  time.Now().UTC(),
		Services:    records,
	})

	last, err := store.LatestState("staging")
	if errors.Is(err, statestore.ErrNotFound) {
		// nothing ever deployed here
	}
*/
package statestore
