// Package deployer owns the deployment pipeline from operator intent to
// verified rollout.
//
// A Deploy call runs in two stages. Validation rejects bad input
// (unknown environment, malformed version, unknown strategy, missing
// confirmation) before the cluster is touched; a validation error means
// nothing changed. Execution then takes the per-environment lease, checks
// that every image tag exists, runs the smoke-test suite, backs up the
// database, captures a pre-deploy snapshot, and hands off to the strategy
// engine. The snapshot is persisted before the first mutation so there is
// always a rollback target, even after a crash.
//
// Failures during execution trigger an automatic rollback to the snapshot
// unless force was set. Every DeployError carries an Outcome that states
// exactly where the environment was left: unchanged, rolled back, rollback
// failed, or rollback skipped.
//
// Rollback, RestoreDatabase, TakeBackup and Status are the operator-facing
// counterparts: explicit recovery and inspection paths on the same
// collaborators.
package deployer
