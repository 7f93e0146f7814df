package canary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascade-sh/cascade/pkg/types"
)

// fakeProbe returns scripted samples keyed by deployment name
type fakeProbe struct {
	samples map[string]Sample
	err     error
}

func (f *fakeProbe) Sample(ctx context.Context, namespace, deployment string, window time.Duration) (Sample, error) {
	if f.err != nil {
		return Sample{}, f.err
	}
	return f.samples[deployment], nil
}

func TestEvaluateDecisions(t *testing.T) {
	tests := []struct {
		name     string
		baseline Sample
		canary   Sample
		want     types.Decision
	}{
		{
			name:     "clean canary promotes",
			baseline: Sample{ErrorRatePercent: 0.2, LatencyMs: 100},
			canary:   Sample{ErrorRatePercent: 0.3, LatencyMs: 110},
			want:     types.DecisionPromote,
		},
		{
			name:     "error rate at ceiling promotes",
			baseline: Sample{ErrorRatePercent: 0, LatencyMs: 100},
			canary:   Sample{ErrorRatePercent: 1.0, LatencyMs: 100},
			want:     types.DecisionPromote,
		},
		{
			name:     "error rate over ceiling aborts",
			baseline: Sample{ErrorRatePercent: 0, LatencyMs: 100},
			canary:   Sample{ErrorRatePercent: 1.01, LatencyMs: 100},
			want:     types.DecisionAbort,
		},
		{
			name:     "error ceiling is absolute even when baseline is worse",
			baseline: Sample{ErrorRatePercent: 5.0, LatencyMs: 100},
			canary:   Sample{ErrorRatePercent: 2.0, LatencyMs: 100},
			want:     types.DecisionAbort,
		},
		{
			name:     "latency at limit promotes",
			baseline: Sample{LatencyMs: 100},
			canary:   Sample{LatencyMs: 150},
			want:     types.DecisionPromote,
		},
		{
			name:     "latency over limit aborts",
			baseline: Sample{LatencyMs: 100},
			canary:   Sample{LatencyMs: 151},
			want:     types.DecisionAbort,
		},
		{
			name:     "no baseline latency skips comparison",
			baseline: Sample{LatencyMs: 0},
			canary:   Sample{LatencyMs: 900},
			want:     types.DecisionPromote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := &fakeProbe{samples: map[string]Sample{
				"api":        tt.baseline,
				"api-canary": tt.canary,
			}}
			analyzer := NewAnalyzer(probe, DefaultPolicy())

			eval, err := analyzer.Evaluate(context.Background(), "production", "api", "api-canary")
			require.NoError(t, err)
			assert.Equal(t, tt.want, eval.Decision)
		})
	}
}

func TestEvaluatePopulatesComparison(t *testing.T) {
	probe := &fakeProbe{samples: map[string]Sample{
		"api":        {ErrorRatePercent: 0.5, LatencyMs: 80},
		"api-canary": {ErrorRatePercent: 0.7, LatencyMs: 95},
	}}
	analyzer := NewAnalyzer(probe, DefaultPolicy())

	eval, err := analyzer.Evaluate(context.Background(), "production", "api", "api-canary")
	require.NoError(t, err)
	assert.Equal(t, "api", eval.Service)
	assert.Equal(t, 0.5, eval.BaselineErrorRate)
	assert.Equal(t, 0.7, eval.CanaryErrorRate)
	assert.Equal(t, 80.0, eval.BaselineLatencyMs)
	assert.Equal(t, 95.0, eval.CanaryLatencyMs)
	assert.False(t, eval.LatencySkipped)
}

func TestEvaluateRecordsSkippedLatencyGate(t *testing.T) {
	probe := &fakeProbe{samples: map[string]Sample{
		"api":        {ErrorRatePercent: 0.1, LatencyMs: 0},
		"api-canary": {ErrorRatePercent: 0.2, LatencyMs: 900},
	}}
	analyzer := NewAnalyzer(probe, DefaultPolicy())

	eval, err := analyzer.Evaluate(context.Background(), "production", "api", "api-canary")
	require.NoError(t, err)
	assert.Equal(t, types.DecisionPromote, eval.Decision)
	assert.True(t, eval.LatencySkipped)
}

func TestEvaluateProbeError(t *testing.T) {
	boom := errors.New("prometheus unreachable")
	analyzer := NewAnalyzer(&fakeProbe{err: boom}, DefaultPolicy())

	_, err := analyzer.Evaluate(context.Background(), "production", "api", "api-canary")
	assert.ErrorIs(t, err, boom)
}

func TestNewAnalyzerAppliesDefaults(t *testing.T) {
	analyzer := NewAnalyzer(&fakeProbe{}, Policy{})
	assert.Equal(t, 1.0, analyzer.policy.MaxErrorRatePercent)
	assert.Equal(t, 1.5, analyzer.policy.MaxLatencyFactor)
	assert.Equal(t, 5*time.Minute, analyzer.policy.Window)
}
