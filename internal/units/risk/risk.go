// Package risk spreads a financial statement, computes debt service coverage
// and drafts the credit memo.
package risk

import (
	"bytes"
	"context"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kingrea/lending-autopilot/internal/artifact"
	"github.com/kingrea/lending-autopilot/internal/dossier"
	"github.com/kingrea/lending-autopilot/internal/override"
	"github.com/kingrea/lending-autopilot/internal/unit"
)

// ID is the registry key of the unit.
const ID = "risk"

// Coverage thresholds for the automatic decision.
const (
	ApproveAbove = 1.25
	DeclineBelow = 1.0
)

var (
	labelSplitRe = regexp.MustCompile(`[:\-]`)
	numberRe     = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
)

// Line items, each with the labels that identify it in a statement.
const (
	GrossRevenue       = "gross_revenue"
	OperatingExpenses  = "operating_expenses"
	Depreciation       = "depreciation"
	AnnualDebtService  = "annual_debt_service"
	ProposedLoanAmount = "proposed_loan_amount"
)

type lineItem struct {
	key    string
	labels []string
}

var lineItems = []lineItem{
	{GrossRevenue, []string{"gross revenue", "revenue", "total revenue"}},
	{OperatingExpenses, []string{"operating expenses", "opex", "operating expense"}},
	{Depreciation, []string{"depreciation"}},
	{AnnualDebtService, []string{"total annual debt service", "annual debt service", "debt service"}},
	{ProposedLoanAmount, []string{"proposed loan amount", "loan amount"}},
}

// Spread is the parsed statement and the figures derived from it. Nil
// pointers were not provided or could not be computed.
type Spread struct {
	GrossRevenue       *float64
	OperatingExpenses  *float64
	Depreciation       *float64
	AnnualDebtService  *float64
	ProposedLoanAmount *float64
	EBITDA             *float64
	DSCR               *float64
}

// Unit underwrites the business from a financial statement.
type Unit struct {
	unit.Base
	financials string
}

// New builds the unit. financials may be relative to the artifact root.
func New(financials string) *Unit {
	u := &Unit{
		Base: unit.NewBase(unit.Info{
			ID:          ID,
			Name:        "Credit underwriter",
			Description: "Computes EBITDA and DSCR, recommends a decision and drafts the credit memo",
			Version:     "1.0.0",
		}),
		financials: financials,
	}
	u.SetArtifacts(artifact.CreditMemo.File)
	return u
}

// Run implements unit.Unit. A missing statement is underwritten as empty and
// ends in REVIEW.
func (u *Unit) Run(_ context.Context, inv *unit.Invocation) error {
	path := inv.Resolve(u.financials)
	text, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "risk: read financials %s", path)
	}
	doc, err := dossier.LoadFile(inv.DossierPath)
	if err != nil {
		return err
	}
	spread := ParseStatement(string(text))
	decision := Underwrite(doc, spread)
	if err := dossier.WriteFile(inv.DossierPath, doc); err != nil {
		return err
	}

	body, err := RenderMemo(doc, spread, decision)
	if err != nil {
		return err
	}
	store := artifact.NewStore(inv.ArtifactRoot)
	if _, err := store.Write(artifact.CreditMemo, body, artifact.Metadata{
		UnitID:  ID,
		Version: u.Info().Version,
		RunID:   inv.RunID,
		Inputs:  []string{u.financials},
		Notes:   map[string]string{"decision": string(decision)},
	}); err != nil {
		return err
	}

	inv.Printf("EBITDA: %s", FormatMoney(spread.EBITDA))
	inv.Printf("DSCR: %s", FormatRatio(spread.DSCR))
	inv.Printf("Decision: %s", decision)
	return nil
}

// ParseStatement reads each line item from the first line carrying one of its
// labels and derives EBITDA and DSCR when the inputs allow.
func ParseStatement(text string) Spread {
	var spread Spread
	values := map[string]*float64{}
	for _, item := range lineItems {
		values[item.key] = extractField(text, item.labels)
	}
	spread.GrossRevenue = values[GrossRevenue]
	spread.OperatingExpenses = values[OperatingExpenses]
	spread.Depreciation = values[Depreciation]
	spread.AnnualDebtService = values[AnnualDebtService]
	spread.ProposedLoanAmount = values[ProposedLoanAmount]

	if spread.GrossRevenue != nil && spread.OperatingExpenses != nil && spread.Depreciation != nil {
		ebitda := (*spread.GrossRevenue - *spread.OperatingExpenses) + *spread.Depreciation
		spread.EBITDA = &ebitda
	}
	if spread.EBITDA != nil && spread.AnnualDebtService != nil && *spread.AnnualDebtService != 0 {
		dscr := *spread.EBITDA / *spread.AnnualDebtService
		spread.DSCR = &dscr
	}
	return spread
}

// Decide maps coverage to a decision. Unknown coverage needs review.
func Decide(dscr *float64) dossier.Decision {
	switch {
	case dscr == nil:
		return dossier.DecisionReview
	case *dscr > ApproveAbove:
		return dossier.DecisionApprove
	case *dscr < DeclineBelow:
		return dossier.DecisionDecline
	default:
		return dossier.DecisionReview
	}
}

// Underwrite records the spread in doc's financials and sets the credit
// decision. A dossier the overrides already apply to (a CRITICAL flag) blocks
// the credit.
func Underwrite(doc dossier.Dossier, spread Spread) dossier.Decision {
	decision := Decide(spread.DSCR)
	if override.Applies(doc) {
		decision = dossier.DecisionBlocked
	}

	financials, ok := doc[dossier.FieldFinancials].(map[string]any)
	if !ok {
		financials = map[string]any{}
	}
	for key, value := range map[string]*float64{
		GrossRevenue:      spread.GrossRevenue,
		OperatingExpenses: spread.OperatingExpenses,
		Depreciation:      spread.Depreciation,
		"ebitda":          spread.EBITDA,
		AnnualDebtService: spread.AnnualDebtService,
		"dscr":            spread.DSCR,
	} {
		if value != nil {
			financials[key] = *value
		}
	}
	doc[dossier.FieldFinancials] = financials
	doc[dossier.FieldCreditDecision] = string(decision)
	return decision
}

func extractField(text string, labels []string) *float64 {
	for _, line := range strings.Split(text, "\n") {
		lowered := strings.ToLower(line)
		for _, label := range labels {
			if !strings.Contains(lowered, label) {
				continue
			}
			if loc := labelSplitRe.FindStringIndex(line); loc != nil {
				return parseNumber(line[loc[1]:])
			}
			return parseNumber(line)
		}
	}
	return nil
}

func parseNumber(value string) *float64 {
	cleaned := strings.NewReplacer(",", "", "$", "", " ", "").Replace(value)
	match := numberRe.FindString(cleaned)
	if match == "" {
		return nil
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &n
}

// FormatMoney renders whole amounts without cents, e.g. "$1,250,000".
func FormatMoney(value *float64) string {
	if value == nil {
		return "Not provided"
	}
	p := message.NewPrinter(language.English)
	if *value == math.Trunc(*value) {
		return p.Sprintf("$%d", int64(*value))
	}
	return p.Sprintf("$%.2f", *value)
}

// FormatRatio renders a coverage ratio, e.g. "1.42x".
func FormatRatio(value *float64) string {
	if value == nil {
		return "Not provided"
	}
	return strconv.FormatFloat(*value, 'f', 2, 64) + "x"
}

var memoTemplate = template.Must(template.New("memo").Funcs(template.FuncMap{
	"money": FormatMoney,
	"ratio": FormatRatio,
}).Parse(`# Credit Memo

## 1) Executive Summary
{{.Business}} is requesting commercial credit. Based on the provided financials, the preliminary decision is **{{.Decision}}**.

## 2) Business Overview
- Entity: {{.Business}}
- Industry: {{.Industry}}
- Proposed Loan Amount: {{money .Spread.ProposedLoanAmount}}

## 3) Financial Analysis
- Gross Revenue: {{money .Spread.GrossRevenue}}
- Operating Expenses: {{money .Spread.OperatingExpenses}}
- Depreciation (add-back): {{money .Spread.Depreciation}}
- EBITDA: {{money .Spread.EBITDA}}
- Annual Debt Service: {{money .Spread.AnnualDebtService}}
- DSCR: {{ratio .Spread.DSCR}}

Depreciation is treated as a non-cash expense and added back to operating earnings when calculating EBITDA.

## 4) Strengths
- Revenue scale supports ongoing operations (subject to verification).
- Documented financial metrics available for spreading.

## 5) Risks / Weaknesses
- Financial inputs are limited to the provided document; additional statements may be required.
- Debt service coverage should be monitored against policy thresholds.
{{- range .Flags}}
- Regulatory flag raised: {{.}}
{{- end}}

## 6) Credit Recommendation
**Decision:** {{.Decision}}

**Suggested Covenant:** Maintain DSCR > 1.25x.
`))

// RenderMemo drafts the credit memo body.
func RenderMemo(doc dossier.Dossier, spread Spread, decision dossier.Decision) ([]byte, error) {
	data := struct {
		Business string
		Industry string
		Decision dossier.Decision
		Spread   Spread
		Flags    []string
	}{
		Business: firstNonEmpty(doc.String(dossier.FieldEntityName), "Business"),
		Industry: firstNonEmpty(doc.String(dossier.FieldIndustry), "Not specified"),
		Decision: decision,
		Spread:   spread,
		Flags:    doc.Flags(),
	}
	var buf bytes.Buffer
	if err := memoTemplate.Execute(&buf, data); err != nil {
		return nil, errors.Wrap(err, "risk: render credit memo")
	}
	return buf.Bytes(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
