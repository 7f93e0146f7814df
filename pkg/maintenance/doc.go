// Package maintenance keeps the state store within its retention limits.
//
// A Runner wakes on a cron schedule, trims every environment's snapshot and
// backup history to the configured keep counts, and refreshes the retention
// gauges. The Server exposes /metrics, /healthz and /livez for the
// long-running maintain mode.
package maintenance
