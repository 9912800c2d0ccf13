package scheduler

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kingrea/lending-autopilot/internal/artifact"
	"github.com/kingrea/lending-autopilot/internal/merge"
	"github.com/kingrea/lending-autopilot/internal/unit"
	"github.com/kingrea/lending-autopilot/internal/workflow"
)

// Step is one resolved unit of a plan.
type Step struct {
	Ref    workflow.UnitRef
	Unit   unit.Unit
	Policy merge.Policy
}

// ID returns the workflow-local id of the step.
func (s Step) ID() string {
	return s.Ref.InstanceID()
}

// Job converts the step into a runner job.
func (s Step) Job(fallback time.Duration) unit.Job {
	timeout := s.Ref.Timeout
	if timeout <= 0 {
		timeout = fallback
	}
	return unit.Job{ID: s.ID(), Unit: s.Unit, Timeout: timeout}
}

// Plan is the executable form of a definition.
type Plan struct {
	Definition   workflow.Definition
	Prerequisite Step
	Parallel     []Step
	MergeOrder   []string
}

// Build resolves every unit named by def against the registry.
func Build(def workflow.Definition, reg *unit.Registry) (Plan, error) {
	if reg == nil {
		return Plan{}, errors.New("scheduler: unit registry is required")
	}
	normalized, err := def.Normalized()
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Definition: normalized}
	for idx, ref := range normalized.Refs() {
		step, err := resolveStep(ref, reg)
		if err != nil {
			return Plan{}, errors.Wrapf(err, "scheduler: workflow %s", normalized.ID)
		}
		if idx == 0 {
			plan.Prerequisite = step
		} else {
			plan.Parallel = append(plan.Parallel, step)
		}
		plan.MergeOrder = append(plan.MergeOrder, step.ID())
	}
	return plan, nil
}

func resolveStep(ref workflow.UnitRef, reg *unit.Registry) (Step, error) {
	u, err := reg.Resolve(ref.UnitID, unit.Config(ref.Config.Clone()))
	if err != nil {
		return Step{}, err
	}
	policy, err := merge.Lookup(merge.PolicyName(ref.Policy))
	if err != nil {
		return Step{}, err
	}
	return Step{Ref: ref, Unit: u, Policy: policy}, nil
}

// Steps returns every step in merge order.
func (p Plan) Steps() []Step {
	steps := make([]Step, 0, 1+len(p.Parallel))
	steps = append(steps, p.Prerequisite)
	return append(steps, p.Parallel...)
}

// MergeEngine returns an engine applying each step's policy in plan order.
func (p Plan) MergeEngine() (*merge.Engine, error) {
	steps := p.Steps()
	mergeSteps := make([]merge.Step, len(steps))
	for i, step := range steps {
		mergeSteps[i] = merge.Step{Unit: step.ID(), Policy: step.Policy}
	}
	return merge.NewEngine(mergeSteps...)
}

// PoolSize returns the fan-out concurrency limit. It never drops below the
// number of parallel units so that no unit queues behind another.
func (p Plan) PoolSize(maxParallel int) int {
	if configured := p.Definition.Runtime.MaxParallel; configured > maxParallel {
		maxParallel = configured
	}
	return max(maxParallel, len(p.Parallel), 1)
}

// Timeout returns the per-unit bound, preferring the definition's setting.
func (p Plan) Timeout(fallback time.Duration) time.Duration {
	if p.Definition.Runtime.UnitTimeout > 0 {
		return p.Definition.Runtime.UnitTimeout
	}
	return fallback
}

// PublishTargets lists every artifact each step's consumers should receive.
// A step without explicit artifacts publishes what its unit declares.
func (p Plan) PublishTargets() []artifact.Target {
	var targets []artifact.Target
	for _, step := range p.Steps() {
		names := step.Ref.Artifacts
		if len(names) == 0 && step.Unit != nil {
			names = step.Unit.Artifacts()
		}
		for _, name := range names {
			targets = append(targets, artifact.Target{
				Unit: step.ID(),
				Ref:  artifact.Resolve(name),
				Dir:  step.Ref.Output(),
			})
		}
	}
	return targets
}
