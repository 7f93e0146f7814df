package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/log"
	"github.com/cascade-sh/cascade/pkg/metrics"
)

var (
	// ErrNotReady means the readiness gate never passed within the timeout
	ErrNotReady = errors.New("service pods never became ready")

	// ErrProbeFailed means the endpoint probe never returned a 2xx status
	ErrProbeFailed = errors.New("health probe failed")
)

// Backend is the slice of cluster access the checker needs. It is satisfied
// by cluster.Backend.
type Backend interface {
	PodReadiness(ctx context.Context, namespace, service string) (ready, desired int32, err error)
	ExecProbe(ctx context.Context, namespace, service, path string) (status int, body string, err error)
}

// Config tunes the two verification phases
type Config struct {
	// ReadinessInterval is how often pod readiness is re-checked
	ReadinessInterval time.Duration
	// ProbeAttempts is how many endpoint probes to try before giving up
	ProbeAttempts int
	// ProbeInterval is the pause between endpoint probes
	ProbeInterval time.Duration
}

// Checker verifies a service in two phases: first that every desired pod
// reports ready, then that the service's own health endpoint answers with
// a 2xx. The second phase catches processes that start but cannot serve,
// which pod readiness alone misses when probes are misconfigured.
type Checker struct {
	backend Backend
	cfg     Config
	logger  zerolog.Logger
}

func NewChecker(backend Backend, cfg Config) *Checker {
	if cfg.ReadinessInterval <= 0 {
		cfg.ReadinessInterval = 10 * time.Second
	}
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = 10
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	return &Checker{
		backend: backend,
		cfg:     cfg,
		logger:  log.WithComponent("health"),
	}
}

// WaitHealthy blocks until the service passes both phases. The timeout
// bounds the readiness phase; the probe phase is bounded by the configured
// attempt count. The path is the service's HTTP health endpoint.
func (c *Checker) WaitHealthy(ctx context.Context, namespace, service, path string, timeout time.Duration) error {
	logger := c.logger.With().Str("service", service).Logger()

	var desired int32
	err := PollUntil(ctx, c.cfg.ReadinessInterval, timeout, func(ctx context.Context) (bool, error) {
		ready, want, err := c.backend.PodReadiness(ctx, namespace, service)
		if err != nil {
			return false, err
		}
		desired = want
		logger.Debug().Int32("ready", ready).Int32("desired", want).Msg("Readiness check")
		return want == 0 || ready >= want, nil
	})
	if err != nil {
		metrics.HealthChecksTotal.WithLabelValues(service, "unhealthy").Inc()
		if errors.Is(err, ErrTimeout) {
			return fmt.Errorf("service %s not ready after %s: %w", service, timeout, ErrNotReady)
		}
		return fmt.Errorf("service %s readiness: %w", service, err)
	}

	if desired == 0 {
		logger.Warn().Msg("No replicas desired, skipping endpoint probes")
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ProbeAttempts; attempt++ {
		status, body, err := c.backend.ExecProbe(ctx, namespace, service, path)
		switch {
		case err != nil:
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Health probe errored")
		case status >= 200 && status < 300:
			metrics.HealthChecksTotal.WithLabelValues(service, "healthy").Inc()
			logger.Info().Int("status", status).Int("attempts", attempt).Msg("Service healthy")
			return nil
		default:
			lastErr = fmt.Errorf("probe returned status %d", status)
			logger.Warn().Int("status", status).Int("attempt", attempt).Str("body", snippet(body, 200)).Msg("Health probe failed")
		}
		if attempt < c.cfg.ProbeAttempts {
			if err := Hold(ctx, c.cfg.ProbeInterval); err != nil {
				return err
			}
		}
	}
	metrics.HealthChecksTotal.WithLabelValues(service, "unhealthy").Inc()
	return fmt.Errorf("service %s failed %d health probes (last: %v): %w", service, c.cfg.ProbeAttempts, lastErr, ErrProbeFailed)
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
