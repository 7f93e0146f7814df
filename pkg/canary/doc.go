// Package canary judges whether a canary release is safe to promote.
//
// During a canary rollout the new version serves a fraction of real traffic
// alongside the baseline. After the observation window the Analyzer samples
// both pod sets from Prometheus and applies a fixed policy: the canary is
// promoted only if its error rate stays at or under an absolute ceiling and
// its p95 latency stays within a factor of the baseline's. Anything else
// aborts the release.
//
// The thresholds are fixed at configuration time and cannot be overridden
// on a per-deploy basis.
package canary
