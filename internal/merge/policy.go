// Package merge folds the partial output of each analysis unit back into the
// aggregate dossier. Every unit has exactly one policy; the engine applies
// them in a fixed declared order so results never depend on which unit
// finished first.
package merge

import (
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-set/v2"

	"github.com/kingrea/lending-autopilot/internal/dossier"
)

// ErrUnknownPolicy is returned when a definition names a policy that does not exist.
var ErrUnknownPolicy = errors.New("merge: unknown policy")

// PolicyName identifies a merge policy.
type PolicyName string

const (
	PolicyPrerequisite PolicyName = "prerequisite"
	PolicyCompliance   PolicyName = "compliance"
	PolicyRisk         PolicyName = "risk"
	PolicyRelationship PolicyName = "relationship"
	PolicyPassthrough  PolicyName = "passthrough"
)

// Input carries one unit's output plus the snapshot it started from. Policies
// that only care about the final shape ignore Input.
type Input struct {
	Unit   string
	Input  dossier.Dossier
	Output dossier.Dossier
}

// Policy folds a unit's output into base. Fields absent from the output are
// left alone; a policy never clears a field.
type Policy interface {
	Name() PolicyName
	Apply(base dossier.Dossier, in Input)
}

// PolicyFunc adapts a function into a Policy.
type PolicyFunc struct {
	name PolicyName
	fn   func(base dossier.Dossier, in Input)
}

// NewPolicyFunc wraps fn as a named policy.
func NewPolicyFunc(name PolicyName, fn func(base dossier.Dossier, in Input)) PolicyFunc {
	return PolicyFunc{name: name, fn: fn}
}

// Name implements Policy.
func (p PolicyFunc) Name() PolicyName { return p.name }

// Apply implements Policy.
func (p PolicyFunc) Apply(base dossier.Dossier, in Input) {
	if p.fn == nil || in.Output == nil {
		return
	}
	p.fn(base, in)
}

var builtins = map[PolicyName]Policy{
	PolicyPrerequisite: NewPolicyFunc(PolicyPrerequisite, mergePrerequisite),
	PolicyCompliance:   NewPolicyFunc(PolicyCompliance, mergeCompliance),
	PolicyRisk:         NewPolicyFunc(PolicyRisk, mergeRisk),
	PolicyRelationship: NewPolicyFunc(PolicyRelationship, mergeRelationship),
	PolicyPassthrough:  NewPolicyFunc(PolicyPassthrough, func(dossier.Dossier, Input) {}),
}

// Lookup returns the built-in policy registered under name.
func Lookup(name PolicyName) (Policy, error) {
	policy, ok := builtins[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPolicy, "%q", name)
	}
	return policy, nil
}

// Known reports whether name is a built-in policy.
func Known(name PolicyName) bool {
	_, ok := builtins[name]
	return ok
}

func mergePrerequisite(base dossier.Dossier, in Input) {
	for _, field := range []string{
		dossier.FieldEntityName,
		dossier.FieldState,
		dossier.FieldUBOList,
		dossier.FieldKYBStatus,
	} {
		if value, ok := in.Output[field]; ok {
			base[field] = value
		}
	}
	UnionFlags(base, in.Output[dossier.FieldRegulatoryFlags])
}

func mergeCompliance(base dossier.Dossier, in Input) {
	UnionFlags(base, in.Output[dossier.FieldRegulatoryFlags])
	if summary, ok := in.Output[dossier.FieldComplianceSummary]; ok {
		base[dossier.FieldComplianceSummary] = summary
	}
	if in.Output.String(dossier.FieldCreditDecision) == string(dossier.DecisionBlocked) {
		base[dossier.FieldCreditDecision] = string(dossier.DecisionBlocked)
	}
}

// mergeRisk overwrites the decision even when compliance blocked it. The
// override enforcer restores BLOCKED afterwards when CRITICAL is flagged.
func mergeRisk(base dossier.Dossier, in Input) {
	if financials, ok := in.Output[dossier.FieldFinancials]; ok {
		base[dossier.FieldFinancials] = financials
	}
	if decision, ok := in.Output[dossier.FieldCreditDecision]; ok {
		base[dossier.FieldCreditDecision] = decision
	}
}

func mergeRelationship(base dossier.Dossier, in Input) {
	AppendOpportunities(base, Produced(in.Input[dossier.FieldCrossSell], in.Output[dossier.FieldCrossSell]))
}

// UnionFlags adds every member of source to base's regulatory_flags unless it
// is already present. Insertion order is preserved and duplicates already in
// base collapse. A source that is not a list leaves base untouched.
func UnionFlags(base dossier.Dossier, source any) {
	incoming, ok := source.([]any)
	if !ok {
		return
	}
	existing, ok := base[dossier.FieldRegulatoryFlags].([]any)
	if !ok {
		existing = []any{}
	}
	seen := set.New[string](len(existing) + len(incoming))
	merged := make([]any, 0, len(existing)+len(incoming))
	for _, flag := range existing {
		if seen.Insert(canonicalKey(flag)) {
			merged = append(merged, flag)
		}
	}
	for _, flag := range incoming {
		if seen.Insert(canonicalKey(flag)) {
			merged = append(merged, flag)
		}
	}
	base[dossier.FieldRegulatoryFlags] = merged
}

// AppendOpportunities appends entries to cross_sell_opportunities without any
// deduplication. A nil entries slice leaves base untouched.
func AppendOpportunities(base dossier.Dossier, entries []any) {
	if entries == nil {
		return
	}
	existing, ok := base[dossier.FieldCrossSell].([]any)
	if !ok {
		existing = []any{}
	}
	merged := make([]any, 0, len(existing)+len(entries))
	merged = append(merged, existing...)
	merged = append(merged, entries...)
	base[dossier.FieldCrossSell] = merged
}

// Produced returns the opportunities a unit added on top of the list it was
// handed. When the unit kept its input as a prefix only the suffix counts;
// when it rewrote the list, the whole output is treated as produced. A
// non-list output yields nil (no change).
func Produced(input, output any) []any {
	out, ok := output.([]any)
	if !ok {
		return nil
	}
	in, _ := input.([]any)
	if len(in) > len(out) || !hasPrefix(out, in) {
		return out
	}
	return out[len(in):]
}

func hasPrefix(list, prefix []any) bool {
	for i := range prefix {
		if !equalJSON(list[i], prefix[i]) {
			return false
		}
	}
	return true
}
