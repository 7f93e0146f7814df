// Package backup takes and restores database backups around deployments.
//
// Every deploy into an environment with a configured database starts with
// a backup, so a database rollback target always exists. The Postgres
// binding runs pg_dump and pg_restore inside the database pod over exec,
// which needs no database exposure outside the cluster. The Coordinator
// persists a BackupRecord per dump; restore resolves records back to dump
// paths.
//
// Application rollback never touches the database. Restores run only when
// an operator asks for one explicitly.
package backup
