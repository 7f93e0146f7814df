package canary

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/log"
	"github.com/cascade-sh/cascade/pkg/types"
)

// Sample holds the signals one pod set produced over the observation window
type Sample struct {
	ErrorRatePercent float64
	LatencyMs        float64
}

// MetricsProbe reads traffic metrics for one deployment's pod set
type MetricsProbe interface {
	Sample(ctx context.Context, namespace, deployment string, window time.Duration) (Sample, error)
}

// Policy sets the promotion thresholds
type Policy struct {
	// MaxErrorRatePercent aborts the canary when its error rate exceeds
	// this absolute ceiling
	MaxErrorRatePercent float64
	// MaxLatencyFactor aborts the canary when its p95 latency exceeds
	// the baseline's by more than this factor
	MaxLatencyFactor float64
	// Window is the metric lookback, normally equal to the observation
	// hold so the sample covers exactly the canary's traffic
	Window time.Duration
}

// DefaultPolicy promotes canaries with at most 1% errors and latency
// within 1.5x of baseline over five minutes
func DefaultPolicy() Policy {
	return Policy{
		MaxErrorRatePercent: 1.0,
		MaxLatencyFactor:    1.5,
		Window:              5 * time.Minute,
	}
}

// Analyzer turns metric samples into a promote or abort decision
type Analyzer struct {
	probe  MetricsProbe
	policy Policy
	logger zerolog.Logger
}

func NewAnalyzer(probe MetricsProbe, policy Policy) *Analyzer {
	if policy.MaxErrorRatePercent <= 0 {
		policy.MaxErrorRatePercent = 1.0
	}
	if policy.MaxLatencyFactor <= 0 {
		policy.MaxLatencyFactor = 1.5
	}
	if policy.Window <= 0 {
		policy.Window = 5 * time.Minute
	}
	return &Analyzer{
		probe:  probe,
		policy: policy,
		logger: log.WithComponent("canary"),
	}
}

// Evaluate samples the baseline and canary pod sets and applies the policy.
// The error ceiling is absolute; the latency bound is relative to baseline.
// A baseline with no latency data skips the latency comparison, since a
// freshly scaled service has nothing to compare against; the returned
// evaluation carries the skip so the vacuous gate stays visible.
func (a *Analyzer) Evaluate(ctx context.Context, namespace, service, canaryDeployment string) (types.CanaryEvaluation, error) {
	baseline, err := a.probe.Sample(ctx, namespace, service, a.policy.Window)
	if err != nil {
		return types.CanaryEvaluation{}, fmt.Errorf("failed to sample baseline %s: %w", service, err)
	}
	observed, err := a.probe.Sample(ctx, namespace, canaryDeployment, a.policy.Window)
	if err != nil {
		return types.CanaryEvaluation{}, fmt.Errorf("failed to sample canary %s: %w", canaryDeployment, err)
	}

	eval := types.CanaryEvaluation{
		Service:           service,
		CanaryErrorRate:   observed.ErrorRatePercent,
		BaselineErrorRate: baseline.ErrorRatePercent,
		CanaryLatencyMs:   observed.LatencyMs,
		BaselineLatencyMs: baseline.LatencyMs,
		Decision:          types.DecisionPromote,
	}
	logger := a.logger.With().
		Str("service", service).
		Float64("canary_error_rate", observed.ErrorRatePercent).
		Float64("canary_latency_ms", observed.LatencyMs).
		Float64("baseline_latency_ms", baseline.LatencyMs).
		Logger()

	if observed.ErrorRatePercent > a.policy.MaxErrorRatePercent {
		eval.Decision = types.DecisionAbort
		logger.Warn().Float64("ceiling", a.policy.MaxErrorRatePercent).Msg("Canary error rate over ceiling")
		return eval, nil
	}
	if baseline.LatencyMs > 0 {
		limit := baseline.LatencyMs * a.policy.MaxLatencyFactor
		if observed.LatencyMs > limit {
			eval.Decision = types.DecisionAbort
			logger.Warn().Float64("limit_ms", limit).Msg("Canary latency over baseline limit")
			return eval, nil
		}
	} else {
		eval.LatencySkipped = true
		if observed.LatencyMs > 0 {
			logger.Warn().Msg("No baseline latency data, latency comparison skipped")
		}
	}

	logger.Info().Msg("Canary within policy")
	return eval, nil
}
