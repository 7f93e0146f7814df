/*
Package log provides structured logging for Cascade using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Usage

Initialize once at process start:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: false, // console output for humans
	})

Components derive child loggers that tag every line:

	logger := log.WithComponent("deployer")
	logger.Info().
		Str("environment", "staging").
		Str("version", "v1.2.3").
		Msg("starting deployment")

Child helpers exist for the fields that recur throughout a rollout:

  - WithComponent("strategy") tags the subsystem
  - WithEnvironment("production") tags the deployment target
  - WithService("gateway") tags the service being updated
  - WithAttempt(id) tags every line of one rollout attempt

# Output Formats

JSON (production, machine-readable):

	{"level":"info","component":"deployer","environment":"staging","time":"...","message":"starting deployment"}

Console (development, human-readable):

	2026-08-24T10:00:00Z INF starting deployment component=deployer environment=staging

# Integration Points

Every Cascade component logs through a component child logger created at
construction time. The global logger is configured exactly once in
cmd/cascade before any component is built.
*/
package log
