package override

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lending-autopilot/internal/dossier"
)

func TestCriticalOverridesApprove(t *testing.T) {
	doc := dossier.Dossier{
		dossier.FieldRegulatoryFlags: []any{"CRITICAL"},
		dossier.FieldCreditDecision:  "APPROVE",
	}
	require.True(t, Applies(doc))
	Enforce(doc)
	assert.Equal(t, dossier.DecisionBlocked, doc.Decision())
}

func TestCriticalSetsMissingDecision(t *testing.T) {
	doc := dossier.Dossier{dossier.FieldRegulatoryFlags: []any{"SANCTIONS_HIT", "CRITICAL"}}
	Enforce(doc)
	assert.Equal(t, dossier.DecisionBlocked, doc.Decision())
}

func TestNoCriticalLeavesDecision(t *testing.T) {
	for _, decision := range []string{"APPROVE", "DECLINE", "REVIEW"} {
		doc := dossier.Dossier{
			dossier.FieldRegulatoryFlags: []any{"NO_UBO_OVER_25"},
			dossier.FieldCreditDecision:  decision,
		}
		assert.False(t, Applies(doc))
		Enforce(doc)
		assert.Equal(t, decision, doc.String(dossier.FieldCreditDecision))
	}
}

func TestEnforceIsIdempotent(t *testing.T) {
	doc := dossier.Dossier{
		dossier.FieldRegulatoryFlags: []any{"CRITICAL"},
		dossier.FieldCreditDecision:  "DECLINE",
	}
	once := Enforce(doc.Clone())
	twice := Enforce(Enforce(doc.Clone()))
	assert.Equal(t, once, twice)
}

func TestEnforceRulesReportsChanges(t *testing.T) {
	doc := dossier.Dossier{
		dossier.FieldRegulatoryFlags: []any{"CRITICAL"},
		dossier.FieldCreditDecision:  "APPROVE",
	}
	applied := EnforceRules(doc, DefaultRules)
	require.Len(t, applied, 1)
	assert.Equal(t, CriticalBlocks.Name, applied[0].Rule)
	assert.Equal(t, "APPROVE", applied[0].Previous)
	assert.Equal(t, "BLOCKED", applied[0].Current)

	assert.Nil(t, EnforceRules(nil, DefaultRules))
}

func TestNonStringFlagsIgnored(t *testing.T) {
	doc := dossier.Dossier{
		dossier.FieldRegulatoryFlags: "CRITICAL",
		dossier.FieldCreditDecision:  "APPROVE",
	}
	Enforce(doc)
	assert.Equal(t, dossier.DecisionApprove, doc.Decision())
}
