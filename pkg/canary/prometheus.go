package canary

import (
	"context"
	"fmt"
	"math"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/log"
)

// Query templates keyed on the deployment label, which the metrics pipeline
// attaches from each pod's owning deployment. That label is what separates
// canary traffic from baseline traffic while both serve behind one service.
const (
	errorRateQuery = `100 * (sum(rate(http_requests_total{namespace=%q,deployment=%q,code=~"5.."}[%s])) / sum(rate(http_requests_total{namespace=%q,deployment=%q}[%s])))`
	latencyQuery   = `1000 * histogram_quantile(0.95, sum(rate(http_request_duration_seconds_bucket{namespace=%q,deployment=%q}[%s])) by (le))`
)

// querier is the slice of the Prometheus API the probe uses
type querier interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...promv1.Option) (model.Value, promv1.Warnings, error)
}

// PromProbe samples traffic metrics from a Prometheus server
type PromProbe struct {
	api    querier
	logger zerolog.Logger
}

var _ MetricsProbe = (*PromProbe)(nil)

func NewPromProbe(serverURL string) (*PromProbe, error) {
	client, err := promapi.NewClient(promapi.Config{Address: serverURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return &PromProbe{
		api:    promv1.NewAPI(client),
		logger: log.WithComponent("canary"),
	}, nil
}

func (p *PromProbe) Sample(ctx context.Context, namespace, deployment string, window time.Duration) (Sample, error) {
	rng := model.Duration(window).String()

	errorRate, err := p.scalarQuery(ctx, fmt.Sprintf(errorRateQuery, namespace, deployment, rng, namespace, deployment, rng))
	if err != nil {
		return Sample{}, fmt.Errorf("error rate for %s/%s: %w", namespace, deployment, err)
	}
	latency, err := p.scalarQuery(ctx, fmt.Sprintf(latencyQuery, namespace, deployment, rng))
	if err != nil {
		return Sample{}, fmt.Errorf("latency for %s/%s: %w", namespace, deployment, err)
	}
	return Sample{ErrorRatePercent: errorRate, LatencyMs: latency}, nil
}

// scalarQuery evaluates an instant query and collapses the result to one
// number. An empty vector or a NaN (rate over zero traffic) reads as zero,
// so a canary that received no requests is judged on latency alone.
func (p *PromProbe) scalarQuery(ctx context.Context, query string) (float64, error) {
	result, warnings, err := p.api.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("prometheus query failed: %w", err)
	}
	for _, warning := range warnings {
		p.logger.Warn().Str("warning", warning).Msg("Prometheus query warning")
	}

	switch v := result.(type) {
	case model.Vector:
		if len(v) == 0 {
			p.logger.Debug().Str("query", query).Msg("Query returned no samples")
			return 0, nil
		}
		return sanitize(float64(v[0].Value)), nil
	case *model.Scalar:
		return sanitize(float64(v.Value)), nil
	default:
		return 0, fmt.Errorf("unexpected prometheus result type %s", result.Type())
	}
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
