package risk

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lending-autopilot/internal/artifact"
	"github.com/kingrea/lending-autopilot/internal/dossier"
	"github.com/kingrea/lending-autopilot/internal/unit"
)

const statement = `FY2025 Statement of Operations
Gross Revenue: $2,400,000
Operating Expenses: $1,900,000
Depreciation: $150,000
Total Annual Debt Service: $500,000
Proposed Loan Amount: $1,500,000
`

func ptr(v float64) *float64 { return &v }

func TestParseStatementDerivesCoverage(t *testing.T) {
	spread := ParseStatement(statement)

	require.NotNil(t, spread.EBITDA)
	assert.Equal(t, 650000.0, *spread.EBITDA)
	require.NotNil(t, spread.DSCR)
	assert.InDelta(t, 1.3, *spread.DSCR, 1e-9)
	assert.Equal(t, 1500000.0, *spread.ProposedLoanAmount)
}

func TestParseStatementMissingInputs(t *testing.T) {
	spread := ParseStatement("Gross Revenue: 1,000\nOpex: 400\n")
	assert.Equal(t, 1000.0, *spread.GrossRevenue)
	assert.Equal(t, 400.0, *spread.OperatingExpenses)
	assert.Nil(t, spread.Depreciation)
	assert.Nil(t, spread.EBITDA)
	assert.Nil(t, spread.DSCR)

	spread = ParseStatement("Revenue: 100\nOpex: 50\nDepreciation: 0\nDebt Service: 0\n")
	require.NotNil(t, spread.EBITDA)
	assert.Nil(t, spread.DSCR, "zero debt service leaves coverage undefined")
}

func TestParseNumberHandlesBulletsAndSigns(t *testing.T) {
	assert.Equal(t, 1200000.0, *extractField("- Gross Revenue: $1,200,000", []string{"gross revenue"}))
	assert.Equal(t, -5000.0, *extractField("Depreciation: -5,000", []string{"depreciation"}))
	assert.Equal(t, 42.5, *extractField("depreciation 42.5", []string{"depreciation"}))
	assert.Nil(t, extractField("Depreciation: n/a", []string{"depreciation"}))
}

func TestDecide(t *testing.T) {
	assert.Equal(t, dossier.DecisionReview, Decide(nil))
	assert.Equal(t, dossier.DecisionApprove, Decide(ptr(1.26)))
	assert.Equal(t, dossier.DecisionReview, Decide(ptr(1.25)))
	assert.Equal(t, dossier.DecisionReview, Decide(ptr(1.0)))
	assert.Equal(t, dossier.DecisionDecline, Decide(ptr(0.99)))
}

func TestUnderwriteMergesFinancialsAndHonoursCritical(t *testing.T) {
	doc := dossier.Dossier{
		dossier.FieldFinancials:      map[string]any{"fiscal_year": "2025"},
		dossier.FieldRegulatoryFlags: []any{dossier.FlagCritical},
	}
	decision := Underwrite(doc, ParseStatement(statement))

	assert.Equal(t, dossier.DecisionBlocked, decision)
	assert.Equal(t, dossier.DecisionBlocked, doc.Decision())
	financials := doc[dossier.FieldFinancials].(map[string]any)
	assert.Equal(t, "2025", financials["fiscal_year"])
	assert.Equal(t, 650000.0, financials["ebitda"])
	assert.NotContains(t, financials, ProposedLoanAmount)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "Not provided", FormatMoney(nil))
	assert.Equal(t, "$1,250,000", FormatMoney(ptr(1250000)))
	assert.Equal(t, "$1,234.50", FormatMoney(ptr(1234.5)))
	assert.Equal(t, "Not provided", FormatRatio(nil))
	assert.Equal(t, "1.30x", FormatRatio(ptr(1.3)))
}

func TestRunWritesMemoAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "financials.txt"), []byte(statement), 0o644))
	snapshot := filepath.Join(dir, "risk_dossier.json")
	require.NoError(t, dossier.WriteFile(snapshot, dossier.Dossier{dossier.FieldEntityName: "Harbor Freight Logistics LLC"}))

	var stdout bytes.Buffer
	u := New("financials.txt")
	require.NoError(t, u.Run(context.Background(), &unit.Invocation{DossierPath: snapshot, ArtifactRoot: dir, RunID: "r1", Stdout: &stdout}))

	doc, err := dossier.LoadFile(snapshot)
	require.NoError(t, err)
	assert.Equal(t, dossier.DecisionApprove, doc.Decision())
	assert.Equal(t, "EBITDA: $650,000\nDSCR: 1.30x\nDecision: APPROVE\n", stdout.String())

	meta, body, err := artifact.NewStore(dir).Read(artifact.CreditMemo)
	require.NoError(t, err)
	assert.Equal(t, ID, meta.UnitID)
	assert.Equal(t, "r1", meta.RunID)
	assert.Equal(t, "APPROVE", meta.Notes["decision"])
	assert.Contains(t, string(body), "Harbor Freight Logistics LLC is requesting commercial credit")
	assert.Contains(t, string(body), "- Industry: Not specified")
	assert.Contains(t, string(body), "- DSCR: 1.30x")
	assert.Contains(t, string(body), "**Decision:** APPROVE")
	assert.Equal(t, []string{"Credit_Memo.md"}, u.Artifacts())
}

func TestRunWithoutStatementNeedsReview(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "risk_dossier.json")
	require.NoError(t, New("absent.txt").Run(context.Background(), &unit.Invocation{DossierPath: snapshot, ArtifactRoot: dir}))

	doc, err := dossier.LoadFile(snapshot)
	require.NoError(t, err)
	assert.Equal(t, dossier.DecisionReview, doc.Decision())
	_, err = os.Stat(artifact.CreditMemo.Path(dir))
	assert.NoError(t, err)
}
