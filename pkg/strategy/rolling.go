package strategy

import (
	"context"

	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/types"
)

// rollingService pins the deployment's update policy to gradual replacement
// before switching the image, so the cluster replaces pods within the
// configured surge and unavailability bounds instead of all at once.
func (r *run) rollingService(ctx context.Context, svc config.Service) error {
	namespace := r.params.Environment.Namespace

	r.step(svc.Name, StepUpdatePolicy)
	policy := types.UpdateStrategy{
		Type:           types.UpdateRollingUpdate,
		MaxUnavailable: r.engine.defaults.MaxUnavailable,
		MaxSurge:       r.engine.defaults.MaxSurge,
	}
	if err := r.engine.backend.SetUpdateStrategy(ctx, namespace, svc.Name, policy); err != nil {
		return r.fail(svc.Name, StepUpdatePolicy, err)
	}
	return r.switchService(ctx, svc)
}
