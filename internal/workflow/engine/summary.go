package engine

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/kingrea/lending-autopilot/internal/artifact"
	"github.com/kingrea/lending-autopilot/internal/dossier"
)

const unknown = "UNKNOWN"

// Summary is the human-facing digest of a persisted dossier.
type Summary struct {
	KYBStatus        string   `json:"kyb_status"`
	ComplianceStatus string   `json:"compliance_status"`
	CreditDecision   string   `json:"credit_decision"`
	Opportunities    int      `json:"opportunities"`
	Flags            []string `json:"flags,omitempty"`
	Artifacts        []string `json:"artifacts,omitempty"`
}

// Summarize reads the digest straight from the encoded dossier so it reflects
// exactly what was written. Published artifacts that were skipped are left
// out.
func Summarize(data []byte, published []artifact.Published) Summary {
	doc := gjson.ParseBytes(data)
	summary := Summary{
		KYBStatus:        stringOr(doc.Get(dossier.FieldKYBStatus), unknown),
		ComplianceStatus: stringOr(doc.Get(dossier.FieldComplianceSummary+".status"), unknown),
		CreditDecision:   stringOr(doc.Get(dossier.FieldCreditDecision), unknown),
	}
	if opportunities := doc.Get(dossier.FieldCrossSell); opportunities.IsArray() {
		summary.Opportunities = len(opportunities.Array())
	}
	if flags := doc.Get(dossier.FieldRegulatoryFlags); flags.IsArray() {
		flags.ForEach(func(_, value gjson.Result) bool {
			if value.Type == gjson.String {
				summary.Flags = append(summary.Flags, value.String())
			}
			return true
		})
	}
	for _, p := range published {
		if !p.Skipped {
			summary.Artifacts = append(summary.Artifacts, p.Destination)
		}
	}
	return summary
}

func stringOr(value gjson.Result, fallback string) string {
	if value.Type != gjson.String || value.String() == "" {
		return fallback
	}
	return value.String()
}

// Lines renders the summary as the CLI prints it.
func (s Summary) Lines() []string {
	lines := []string{
		"Final dossier status:",
		fmt.Sprintf("- KYB status: %s", s.KYBStatus),
		fmt.Sprintf("- Compliance status: %s", s.ComplianceStatus),
		fmt.Sprintf("- Credit decision: %s", s.CreditDecision),
		fmt.Sprintf("- Cross-sell opportunities: %d", s.Opportunities),
	}
	if len(s.Flags) > 0 {
		lines = append(lines, fmt.Sprintf("- Regulatory flags: %v", s.Flags))
	}
	lines = append(lines, "Artifacts:")
	if len(s.Artifacts) == 0 {
		lines = append(lines, "- none")
	}
	for _, path := range s.Artifacts {
		lines = append(lines, "- "+path)
	}
	return lines
}
