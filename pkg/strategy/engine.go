package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/canary"
	"github.com/cascade-sh/cascade/pkg/cluster"
	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/health"
	"github.com/cascade-sh/cascade/pkg/log"
	"github.com/cascade-sh/cascade/pkg/types"
)

// Phase is a state of the per-run state machine
type Phase string

const (
	PhaseNotStarted Phase = "not-started"
	PhasePerService Phase = "per-service"
	PhaseValidating Phase = "validating"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Step names recorded in run transitions
const (
	StepUpdatePolicy = "update-policy"
	StepSetImage     = "set-image"
	StepRollout      = "rollout"
	StepHealth       = "health"
	StepScaleDown    = "scale-down"
	StepScaleUp      = "scale-up"
	StepCanaryCreate = "canary-create"
	StepCanaryDelete = "canary-delete"
	StepObserve      = "observe"
	StepAnalyze      = "analyze"
	StepVerify       = "verify"
)

// Error pinpoints where a strategy run failed
type Error struct {
	Strategy types.Strategy
	Service  string
	Step     string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s strategy failed on %s at %s: %v", e.Strategy, e.Service, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Params is one rollout execution across an environment
type Params struct {
	Environment config.Environment
	Services    []config.Service // rollout order
	Version     string
}

// Transition is one recorded step of a run
type Transition struct {
	Service string
	Step    string
	At      time.Time
}

// Report records what a run did, whether or not it finished
type Report struct {
	Strategy    types.Strategy
	Phase       Phase
	Completed   []string
	Transitions []Transition
	Evaluations []types.CanaryEvaluation
}

// Engine runs rollout strategies against the cluster. One engine serves
// all environments; every Run carries its own state machine.
type Engine struct {
	backend  cluster.Backend
	checker  *health.Checker
	analyzer *canary.Analyzer
	defaults config.Defaults
	logger   zerolog.Logger
}

// NewEngine wires the engine. The analyzer may be nil when no metrics
// backend is configured, which disables the canary strategy.
func NewEngine(backend cluster.Backend, checker *health.Checker, analyzer *canary.Analyzer, defaults config.Defaults) *Engine {
	return &Engine{
		backend:  backend,
		checker:  checker,
		analyzer: analyzer,
		defaults: defaults,
		logger:   log.WithComponent("strategy"),
	}
}

// Run executes the named strategy over the services in order. The first
// per-service failure stops the loop; later services are never touched.
// The returned report is non-nil even on failure and records how far the
// run got.
func (e *Engine) Run(ctx context.Context, strategy types.Strategy, params Params) (*Report, error) {
	r := &run{
		engine: e,
		params: params,
		report: &Report{Strategy: strategy, Phase: PhaseNotStarted},
		logger: e.logger.With().
			Str("environment", params.Environment.Name).
			Str("strategy", string(strategy)).
			Str("version", params.Version).
			Logger(),
	}

	var do func(ctx context.Context, svc config.Service) error
	switch strategy {
	case types.StrategyBlueGreen:
		do = r.switchService
	case types.StrategyRolling:
		do = r.rollingService
	case types.StrategyCanary:
		if e.analyzer == nil {
			return r.report, fmt.Errorf("canary strategy requires a metrics backend")
		}
		do = r.canaryService
	default:
		return r.report, fmt.Errorf("unknown strategy %q", strategy)
	}

	if err := r.each(ctx, do); err != nil {
		r.phase(PhaseFailed)
		return r.report, err
	}
	if err := r.validate(ctx); err != nil {
		r.phase(PhaseFailed)
		return r.report, err
	}
	r.phase(PhaseDone)
	return r.report, nil
}

// run is the state machine of one strategy execution
type run struct {
	engine *Engine
	params Params
	report *Report
	logger zerolog.Logger
}

func (r *run) phase(p Phase) {
	r.report.Phase = p
	r.logger.Info().Str("phase", string(p)).Msg("Run phase")
}

func (r *run) step(service, step string) {
	r.report.Transitions = append(r.report.Transitions, Transition{Service: service, Step: step, At: time.Now()})
	r.logger.Debug().Str("service", service).Str("step", step).Msg("Step")
}

func (r *run) fail(service, step string, err error) error {
	return &Error{Strategy: r.report.Strategy, Service: service, Step: step, Err: err}
}

// each drives the per-service loop. Cancellation is honored between
// services, never mid-step, so no service is left half-updated by an
// operator abort.
func (r *run) each(ctx context.Context, do func(ctx context.Context, svc config.Service) error) error {
	r.phase(PhasePerService)
	for _, svc := range r.params.Services {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled before %s: %w", svc.Name, err)
		}
		if err := do(ctx, svc); err != nil {
			return err
		}
		r.report.Completed = append(r.report.Completed, svc.Name)
	}
	return nil
}

// validate re-reads every service and confirms the target image landed
func (r *run) validate(ctx context.Context) error {
	r.phase(PhaseValidating)
	namespace := r.params.Environment.Namespace
	for _, svc := range r.params.Services {
		r.step(svc.Name, StepVerify)
		record, err := r.engine.backend.CurrentState(ctx, namespace, svc.Name)
		if err != nil {
			return r.fail(svc.Name, StepVerify, err)
		}
		want := types.ImageRef(svc.Repository, r.params.Version)
		if record.Image != want {
			return r.fail(svc.Name, StepVerify, fmt.Errorf("image is %s, want %s", record.Image, want))
		}
	}
	return nil
}
