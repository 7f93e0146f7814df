// Package health verifies that services actually serve after a rollout.
//
// Verification is two-phase. The readiness gate polls pod readiness until
// every desired replica reports ready or the timeout passes. The probe
// phase then hits the service's HTTP health endpoint from inside a pod,
// retrying a fixed number of times, and succeeds on the first 2xx answer.
// Both phases respect context cancellation.
//
// The package also exports the PollUntil and Hold primitives the rest of
// the engine uses for any timed waiting, so nothing else sleeps bare.
package health
