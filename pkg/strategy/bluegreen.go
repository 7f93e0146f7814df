package strategy

import (
	"context"

	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/types"
)

// switchService moves one service to the target version wholesale: point
// the deployment at the new image, wait for the rollout to converge, then
// verify health from inside a pod. This is the blue-green strategy; the
// previous replica set stays behind as the cluster's own rollback history.
func (r *run) switchService(ctx context.Context, svc config.Service) error {
	namespace := r.params.Environment.Namespace
	image := types.ImageRef(svc.Repository, r.params.Version)

	r.step(svc.Name, StepSetImage)
	if err := r.engine.backend.SetImage(ctx, namespace, svc.Name, image); err != nil {
		return r.fail(svc.Name, StepSetImage, err)
	}

	r.step(svc.Name, StepRollout)
	if err := r.engine.backend.WaitForRollout(ctx, namespace, svc.Name, r.engine.defaults.RolloutTimeout.Std()); err != nil {
		return r.fail(svc.Name, StepRollout, err)
	}

	r.step(svc.Name, StepHealth)
	if err := r.engine.checker.WaitHealthy(ctx, namespace, svc.Name, svc.HealthPath, r.engine.defaults.HealthTimeout.Std()); err != nil {
		return r.fail(svc.Name, StepHealth, err)
	}
	return nil
}
