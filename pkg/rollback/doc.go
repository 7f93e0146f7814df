// Package rollback returns an environment to a previously captured
// deployment state.
//
// The engine replays a snapshot's service records against the cluster:
// image, then replica count, then health confirmation. Re-running the same
// snapshot converges to the same end state, so a rollback interrupted
// halfway can simply be run again.
//
// Normal mode treats any failure as fatal and stops. Emergency mode trades
// caution for speed: pods are recreated instead of surged, the health
// window shrinks, health timeouts become warnings, and every service gets
// its restore attempt even when an earlier one failed.
//
// Database restores never happen automatically. RollbackDatabase is the
// explicit path, and it takes a fresh backup before touching anything so a
// failed restore has somewhere to retreat to.
package rollback
