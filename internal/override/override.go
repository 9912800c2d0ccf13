// Package override enforces the rules that outrank every unit's output.
package override

import "github.com/kingrea/lending-autopilot/internal/dossier"

// Rule is a post-merge invariant applied to the final dossier.
type Rule struct {
	Name string
	// When reports whether the rule fires.
	When func(doc dossier.Dossier) bool
	// Apply mutates doc in place. It must be idempotent.
	Apply func(doc dossier.Dossier)
}

// CriticalBlocks forces the credit decision to BLOCKED whenever the CRITICAL
// flag is present, no matter what any unit decided.
var CriticalBlocks = Rule{
	Name: "critical-blocks-credit",
	When: func(doc dossier.Dossier) bool {
		return doc.HasFlag(dossier.FlagCritical)
	},
	Apply: func(doc dossier.Dossier) {
		doc[dossier.FieldCreditDecision] = string(dossier.DecisionBlocked)
	},
}

// DefaultRules is the rule set applied by Enforce.
var DefaultRules = []Rule{CriticalBlocks}

// Applied describes a rule that fired.
type Applied struct {
	Rule     string
	Previous any
	Current  any
}

// Enforce applies DefaultRules to doc and returns it.
func Enforce(doc dossier.Dossier) dossier.Dossier {
	EnforceRules(doc, DefaultRules)
	return doc
}

// Applies reports whether any default rule would fire on doc.
func Applies(doc dossier.Dossier) bool {
	for _, rule := range DefaultRules {
		if rule.When(doc) {
			return true
		}
	}
	return false
}

// EnforceRules applies each firing rule in order and reports what changed.
// A rule that fires without changing credit_decision is still reported.
func EnforceRules(doc dossier.Dossier, rules []Rule) []Applied {
	if doc == nil {
		return nil
	}
	var applied []Applied
	for _, rule := range rules {
		if rule.When == nil || rule.Apply == nil || !rule.When(doc) {
			continue
		}
		previous := doc[dossier.FieldCreditDecision]
		rule.Apply(doc)
		applied = append(applied, Applied{
			Rule:     rule.Name,
			Previous: previous,
			Current:  doc[dossier.FieldCreditDecision],
		})
	}
	return applied
}
