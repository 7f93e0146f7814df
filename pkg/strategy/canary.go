package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/health"
	"github.com/cascade-sh/cascade/pkg/types"
)

// CanaryName returns the shadow deployment name for a service
func CanaryName(service string) string {
	return service + "-canary"
}

// canarySplit sizes the canary pod set: the configured fraction of current
// capacity, rounded, never less than one pod
func canarySplit(total int32, fraction float64) int32 {
	n := int32(math.Round(float64(total) * fraction))
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}
	return n
}

// canaryService trials the new image on a slice of live traffic before
// committing the whole service to it. The main deployment is scaled down
// first and the canary created after, sequenced so the two mutations never
// race. On promotion the main deployment moves to the new image at full
// capacity and the canary is retired. On abort, and on any failure while
// the shadow still exists, the shadow is deleted and the main deployment
// returns to its prior replica count: the pre-deploy snapshot predates the
// shadow, so no later rollback can remove it.
func (r *run) canaryService(ctx context.Context, svc config.Service) error {
	namespace := r.params.Environment.Namespace
	image := types.ImageRef(svc.Repository, r.params.Version)
	shadow := CanaryName(svc.Name)

	current, err := r.engine.backend.CurrentState(ctx, namespace, svc.Name)
	if err != nil {
		return r.fail(svc.Name, StepScaleDown, err)
	}
	total := current.DesiredReplicas
	if total < 1 {
		return r.fail(svc.Name, StepScaleDown, fmt.Errorf("service has no replicas to split"))
	}
	canaryReplicas := canarySplit(total, r.engine.defaults.CanaryFraction)
	mainReplicas := total - canaryReplicas

	logger := r.logger.With().Str("service", svc.Name).Logger()
	logger.Info().
		Int32("total", total).
		Int32("canary", canaryReplicas).
		Int32("main", mainReplicas).
		Msg("Splitting traffic for canary")

	r.step(svc.Name, StepScaleDown)
	if err := r.engine.backend.Scale(ctx, namespace, svc.Name, mainReplicas); err != nil {
		return r.fail(svc.Name, StepScaleDown, err)
	}

	r.step(svc.Name, StepCanaryCreate)
	if err := r.engine.backend.CreateShadowDeployment(ctx, namespace, svc.Name, shadow, image, canaryReplicas); err != nil {
		r.restoreMain(ctx, svc.Name, total)
		return r.fail(svc.Name, StepCanaryCreate, err)
	}

	r.step(svc.Name, StepRollout)
	if err := r.engine.backend.WaitForRollout(ctx, namespace, shadow, r.engine.defaults.RolloutTimeout.Std()); err != nil {
		r.abortCanary(ctx, svc.Name, shadow, total)
		return r.fail(svc.Name, StepRollout, err)
	}

	r.step(svc.Name, StepObserve)
	window := r.engine.defaults.CanaryObservation.Std()
	logger.Info().Dur("window", window).Msg("Observing canary traffic")
	if err := health.Hold(ctx, window); err != nil {
		r.abortCanary(ctx, svc.Name, shadow, total)
		return r.fail(svc.Name, StepObserve, err)
	}

	r.step(svc.Name, StepAnalyze)
	eval, err := r.engine.analyzer.Evaluate(ctx, namespace, svc.Name, shadow)
	if err != nil {
		r.abortCanary(ctx, svc.Name, shadow, total)
		return r.fail(svc.Name, StepAnalyze, err)
	}
	r.report.Evaluations = append(r.report.Evaluations, eval)

	if eval.Decision == types.DecisionAbort {
		r.abortCanary(ctx, svc.Name, shadow, total)
		return r.fail(svc.Name, StepAnalyze, fmt.Errorf("canary rejected: error rate %.2f%%, latency %.0fms against baseline %.0fms",
			eval.CanaryErrorRate, eval.CanaryLatencyMs, eval.BaselineLatencyMs))
	}

	r.step(svc.Name, StepSetImage)
	if err := r.engine.backend.SetImage(ctx, namespace, svc.Name, image); err != nil {
		r.abortCanary(ctx, svc.Name, shadow, total)
		return r.fail(svc.Name, StepSetImage, err)
	}
	r.step(svc.Name, StepScaleUp)
	if err := r.engine.backend.Scale(ctx, namespace, svc.Name, total); err != nil {
		r.abortCanary(ctx, svc.Name, shadow, total)
		return r.fail(svc.Name, StepScaleUp, err)
	}
	r.step(svc.Name, StepRollout)
	if err := r.engine.backend.WaitForRollout(ctx, namespace, svc.Name, r.engine.defaults.RolloutTimeout.Std()); err != nil {
		r.abortCanary(ctx, svc.Name, shadow, total)
		return r.fail(svc.Name, StepRollout, err)
	}
	r.step(svc.Name, StepCanaryDelete)
	if err := r.engine.backend.DeleteDeployment(ctx, namespace, shadow); err != nil {
		return r.fail(svc.Name, StepCanaryDelete, err)
	}
	r.step(svc.Name, StepHealth)
	if err := r.engine.checker.WaitHealthy(ctx, namespace, svc.Name, svc.HealthPath, r.engine.defaults.HealthTimeout.Std()); err != nil {
		return r.fail(svc.Name, StepHealth, err)
	}
	return nil
}

// abortCanary deletes the shadow deployment and returns the main one to
// full capacity. The run is already failing, so errors here are logged and
// swallowed; teardown proceeds even when the run's context was cancelled.
func (r *run) abortCanary(ctx context.Context, service, shadow string, replicas int32) {
	cleanup := context.WithoutCancel(ctx)
	r.step(service, StepCanaryDelete)
	if err := r.engine.backend.DeleteDeployment(cleanup, r.params.Environment.Namespace, shadow); err != nil {
		r.logger.Error().Err(err).Str("service", service).Msg("Failed to delete canary deployment")
	}
	r.restoreMain(ctx, service, replicas)
}

// restoreMain scales the main deployment back to its pre-canary count
func (r *run) restoreMain(ctx context.Context, service string, replicas int32) {
	cleanup := context.WithoutCancel(ctx)
	r.step(service, StepScaleUp)
	if err := r.engine.backend.Scale(cleanup, r.params.Environment.Namespace, service, replicas); err != nil {
		r.logger.Error().Err(err).Str("service", service).Msg("Failed to restore main replicas")
	}
}
