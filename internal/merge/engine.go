package merge

import (
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-set/v2"

	"github.com/kingrea/lending-autopilot/internal/dossier"
)

// Step binds a unit to the policy used to fold its output.
type Step struct {
	Unit   string
	Policy Policy
}

// Engine applies policies in a fixed order.
type Engine struct {
	steps []Step
	index map[string]int
}

// NewEngine validates the steps and returns an engine that folds results in
// the given order. Units may appear only once.
func NewEngine(steps ...Step) (*Engine, error) {
	seen := set.New[string](len(steps))
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		if step.Unit == "" {
			return nil, errors.Newf("merge: step %d has no unit", i)
		}
		if step.Policy == nil {
			return nil, errors.Newf("merge: unit %s has no policy", step.Unit)
		}
		if !seen.Insert(step.Unit) {
			return nil, errors.Newf("merge: unit %s listed twice", step.Unit)
		}
		index[step.Unit] = i
	}
	return &Engine{steps: append([]Step(nil), steps...), index: index}, nil
}

// Order returns the unit ids in merge order.
func (e *Engine) Order() []string {
	order := make([]string, len(e.steps))
	for i, step := range e.steps {
		order[i] = step.Unit
	}
	return order
}

// Merge folds a single unit's result into base.
func (e *Engine) Merge(base dossier.Dossier, in Input) error {
	idx, ok := e.index[in.Unit]
	if !ok {
		return errors.Newf("merge: unit %s has no step", in.Unit)
	}
	e.steps[idx].Policy.Apply(base, in)
	return nil
}

// MergeAll folds results in declared order regardless of the order they are
// supplied or completed in. It returns the units that were folded, in that
// order; units without a result are left out.
func (e *Engine) MergeAll(base dossier.Dossier, results map[string]Input) (merged []string) {
	for _, step := range e.steps {
		in, ok := results[step.Unit]
		if !ok {
			continue
		}
		in.Unit = step.Unit
		step.Policy.Apply(base, in)
		merged = append(merged, step.Unit)
	}
	return merged
}
