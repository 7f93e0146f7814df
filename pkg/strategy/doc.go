// Package strategy executes rollout strategies across an environment.
//
// A strategy run walks the environment's services in declared order and
// moves each one to the target version. The loop is fail-fast: the first
// service that cannot be updated stops the run, and services after it are
// never touched. The coordinator decides what to do with the wreckage;
// this package only reports how far it got.
//
// # Strategies
//
// Blue-green repoints each deployment at the new image, waits for the
// rollout and for in-pod health probes. Rolling does the same after pinning
// the deployment's update policy to bounded gradual replacement. Canary
// carves a fraction of the service's capacity into a shadow deployment
// running the new image, observes it against live traffic, and asks the
// canary analyzer for a promote or abort decision before committing the
// main deployment.
//
// # State machine
//
// Every run advances not-started, per-service, validating, then done or
// failed. Per-service step transitions are timestamped in the run's Report,
// so a failed run shows exactly which service and step gave out.
package strategy
