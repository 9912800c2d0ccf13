// Package dossier models the shared business-review document that every
// analysis unit reads and augments. A Dossier is an open-ended field map:
// fields the runtime does not know about pass through untouched.
package dossier

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/cockroachdb/errors"
)

// Well-known dossier fields.
const (
	FieldEntityName        = "entity_name"
	FieldState             = "state"
	FieldIndustry          = "industry"
	FieldBusinessType      = "business_type"
	FieldUBOList           = "ubo_list"
	FieldKYBStatus         = "kyb_status"
	FieldRegulatoryFlags   = "regulatory_flags"
	FieldComplianceSummary = "compliance_summary"
	FieldFinancials        = "financials"
	FieldCreditDecision    = "credit_decision"
	FieldCrossSell         = "cross_sell_opportunities"
)

// KYBStatus enumerates the outcomes of the prerequisite identity check.
type KYBStatus string

const (
	KYBApproved KYBStatus = "APPROVED"
	KYBRejected KYBStatus = "REJECTED"
	KYBUnknown  KYBStatus = "UNKNOWN"
)

// Decision enumerates credit decisions.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionDecline Decision = "DECLINE"
	DecisionReview  Decision = "REVIEW"
	DecisionBlocked Decision = "BLOCKED"
	DecisionUnknown Decision = "UNKNOWN"
)

// Regulatory flags raised by the built-in units.
const (
	FlagCritical           = "CRITICAL"
	FlagSanctionsHit       = "SANCTIONS_HIT"
	FlagProhibitedIndustry = "PROHIBITED_INDUSTRY"
	FlagMissingEntityName  = "MISSING_ENTITY_NAME"
	FlagMissingState       = "MISSING_STATE"
	FlagNoUBOOver25        = "NO_UBO_OVER_25"
)

// Compliance summary statuses.
const (
	ComplianceClear    = "CLEAR"
	ComplianceCritical = "CRITICAL"
	ComplianceUnknown  = "UNKNOWN"
)

// Dossier is the shared document. The zero value is not usable; call New.
type Dossier map[string]any

// New returns an empty dossier.
func New() Dossier {
	return Dossier{}
}

// UBO is an ultimate beneficial owner entry.
type UBO struct {
	Name         string  `json:"name"`
	Role         *string `json:"role"`
	OwnershipPct float64 `json:"ownership_pct"`
}

// ComplianceSummary is written wholesale by the compliance unit.
type ComplianceSummary struct {
	SanctionsChecked          bool    `json:"sanctions_checked"`
	ProhibitedIndustryChecked bool    `json:"prohibited_industry_checked"`
	IssuesFound               []Issue `json:"issues_found"`
	Status                    string  `json:"status"`
}

// Issue is one compliance finding.
type Issue struct {
	Type    string           `json:"type"`
	Matches []SanctionsMatch `json:"matches,omitempty"`
	Match   string           `json:"match,omitempty"`
	Value   string           `json:"value,omitempty"`
}

// SanctionsMatch pairs a screened owner with the list entry it matched.
type SanctionsMatch struct {
	UBOName     string `json:"ubo_name"`
	MatchedName string `json:"matched_name"`
}

// Financials holds the spread computed by the risk unit. Nil pointers are
// values the source statement did not provide.
type Financials struct {
	GrossRevenue      *float64 `json:"gross_revenue,omitempty"`
	OperatingExpenses *float64 `json:"operating_expenses,omitempty"`
	Depreciation      *float64 `json:"depreciation,omitempty"`
	EBITDA            *float64 `json:"ebitda,omitempty"`
	AnnualDebtService *float64 `json:"annual_debt_service,omitempty"`
	DSCR              *float64 `json:"dscr,omitempty"`
}

// Opportunity is a cross-sell signal record.
type Opportunity struct {
	Signal             string `json:"signal"`
	RecommendedProduct string `json:"recommended_product"`
	TriggerTransaction string `json:"trigger_transaction"`
	Confidence         string `json:"confidence"`
}

// Has reports whether the field is present, even with a null value.
func (d Dossier) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// String returns a string field or "" when absent or not a string.
func (d Dossier) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Set stores a JSON-compatible representation of value under field.
func (d Dossier) Set(field string, value any) error {
	normalized, err := normalize(value)
	if err != nil {
		return errors.Wrapf(err, "dossier: set %s", field)
	}
	d[field] = normalized
	return nil
}

// Decode unmarshals a field into target. Absent fields leave target untouched
// and report false.
func (d Dossier) Decode(field string, target any) (bool, error) {
	raw, ok := d[field]
	if !ok || raw == nil {
		return false, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return false, errors.Wrapf(err, "dossier: encode %s", field)
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		return false, errors.Wrapf(err, "dossier: decode %s", field)
	}
	return true, nil
}

// Flags returns regulatory_flags as strings. A missing or malformed field
// yields nil; non-string members are skipped.
func (d Dossier) Flags() []string {
	raw, ok := d[FieldRegulatoryFlags].([]any)
	if !ok {
		return nil
	}
	flags := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			flags = append(flags, s)
		}
	}
	return flags
}

// HasFlag reports whether regulatory_flags contains flag.
func (d Dossier) HasFlag(flag string) bool {
	return slices.Contains(d.Flags(), flag)
}

// Decision returns credit_decision, or DecisionUnknown when unset.
func (d Dossier) Decision() Decision {
	if s := d.String(FieldCreditDecision); s != "" {
		return Decision(s)
	}
	return DecisionUnknown
}

// KYBStatus returns kyb_status, or KYBUnknown when unset.
func (d Dossier) KYBStatus() KYBStatus {
	if s := d.String(FieldKYBStatus); s != "" {
		return KYBStatus(s)
	}
	return KYBUnknown
}

// ComplianceStatus returns compliance_summary.status, or ComplianceUnknown.
func (d Dossier) ComplianceStatus() string {
	summary, ok := d[FieldComplianceSummary].(map[string]any)
	if !ok {
		return ComplianceUnknown
	}
	if s, ok := summary["status"].(string); ok && s != "" {
		return s
	}
	return ComplianceUnknown
}

// CrossSell returns the raw opportunity records.
func (d Dossier) CrossSell() []any {
	raw, _ := d[FieldCrossSell].([]any)
	return raw
}

// UBOs decodes ubo_list, skipping entries that are not objects.
func (d Dossier) UBOs() []UBO {
	raw, ok := d[FieldUBOList].([]any)
	if !ok {
		return nil
	}
	out := make([]UBO, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ubo := UBO{}
		ubo.Name, _ = entry["name"].(string)
		if role, ok := entry["role"].(string); ok {
			ubo.Role = &role
		}
		ubo.OwnershipPct, _ = Number(entry["ownership_pct"])
		out = append(out, ubo)
	}
	return out
}

// Fields returns the field names present in the dossier, sorted.
func (d Dossier) Fields() []string {
	fields := make([]string, 0, len(d))
	for field := range d {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	return fields
}

// Number reads a numeric field value, whether decoded from a file
// (json.Number) or set in process (float64, int).
func Number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalize round-trips value through JSON so typed structs land in the
// document as the same map/slice shapes a decoded file would carry. Maps and
// slices are round-tripped too since they may hold typed members.
func normalize(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, float64, json.Number:
		return value, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
