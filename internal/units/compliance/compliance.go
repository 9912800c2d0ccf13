// Package compliance screens a business against a sanctions list and a set of
// prohibited industries.
package compliance

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kingrea/lending-autopilot/internal/dossier"
	"github.com/kingrea/lending-autopilot/internal/unit"
)

// ID is the registry key of the unit.
const ID = "compliance"

var (
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Industry is one prohibited category and the keywords that reveal it.
type Industry struct {
	Key   string
	Terms []string
}

// ProhibitedIndustries are checked in order; the first hit wins.
var ProhibitedIndustries = []Industry{
	{Key: "cannabis", Terms: []string{"cannabis", "marijuana", "thc", "weed"}},
	{Key: "weapons_firearms", Terms: []string{"weapon", "weapons", "firearm", "firearms", "ammo", "ammunition"}},
	{Key: "gambling", Terms: []string{"gambling", "casino", "sportsbook", "betting"}},
	{Key: "adult_entertainment", Terms: []string{"adult", "porn", "pornography", "sex", "escort"}},
	{Key: "sanctioned_jurisdictions", Terms: []string{"sanctioned", "jurisdiction"}},
}

// Result summarizes one screening.
type Result struct {
	Screened   int
	Industry   string
	Summary    dossier.ComplianceSummary
	Hits       []dossier.SanctionsMatch
	Prohibited string
}

// Critical reports whether anything blocks the credit.
func (r Result) Critical() bool {
	return r.Summary.Status == dossier.ComplianceCritical
}

// Unit screens the dossier owners against a sanctions file.
type Unit struct {
	unit.Base
	sanctions string
}

// New builds the unit. sanctions may be relative to the artifact root; a
// missing file screens against an empty list.
func New(sanctions string) *Unit {
	return &Unit{
		Base: unit.NewBase(unit.Info{
			ID:          ID,
			Name:        "Regulatory shield",
			Description: "Screens owners against sanctions and the industry against prohibited categories",
			Version:     "1.0.0",
		}),
		sanctions: sanctions,
	}
}

// Run implements unit.Unit.
func (u *Unit) Run(_ context.Context, inv *unit.Invocation) error {
	sanctions, err := LoadSanctions(inv.Resolve(u.sanctions))
	if err != nil {
		return err
	}
	doc, err := dossier.LoadFile(inv.DossierPath)
	if err != nil {
		return err
	}
	result, err := Screen(doc, sanctions)
	if err != nil {
		return err
	}
	if err := dossier.WriteFile(inv.DossierPath, doc); err != nil {
		return err
	}

	inv.Printf("ubos_screened: %d", result.Screened)
	inv.Printf("industry_checked: %t", result.Industry != "")
	inv.Printf("compliance_status: %s", result.Summary.Status)
	return nil
}

// LoadSanctions reads one name per line, skipping blanks and # comments.
func LoadSanctions(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "compliance: read sanctions %s", path)
	}
	var entries []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		value := strings.TrimSpace(scanner.Text())
		if value == "" || strings.HasPrefix(value, "#") {
			continue
		}
		entries = append(entries, value)
	}
	return entries, errors.Wrap(scanner.Err(), "compliance: scan sanctions")
}

// Screen checks doc against sanctions and writes a fresh compliance summary.
// Any hit adds CRITICAL and blocks the credit decision.
func Screen(doc dossier.Dossier, sanctions []string) (Result, error) {
	raw, _ := doc[dossier.FieldUBOList].([]any)
	result := Result{
		Screened: len(raw),
		Summary: dossier.ComplianceSummary{
			SanctionsChecked:          true,
			ProhibitedIndustryChecked: true,
			IssuesFound:               []dossier.Issue{},
			Status:                    dossier.ComplianceClear,
		},
	}

	flags, _ := doc[dossier.FieldRegulatoryFlags].([]any)
	if flags == nil {
		flags = []any{}
	}
	addFlag := func(flag string) {
		for _, f := range flags {
			if s, ok := f.(string); ok && s == flag {
				return
			}
		}
		flags = append(flags, flag)
	}

	for _, ubo := range doc.UBOs() {
		if ubo.Name == "" {
			continue
		}
		for _, name := range sanctions {
			if MatchName(ubo.Name, name) {
				result.Hits = append(result.Hits, dossier.SanctionsMatch{UBOName: ubo.Name, MatchedName: name})
				break
			}
		}
	}
	if len(result.Hits) > 0 {
		addFlag(dossier.FlagSanctionsHit)
		result.Summary.IssuesFound = append(result.Summary.IssuesFound, dossier.Issue{
			Type:    dossier.FlagSanctionsHit,
			Matches: result.Hits,
		})
	}

	result.Industry = doc.String(dossier.FieldBusinessType)
	if result.Industry == "" {
		result.Industry = doc.String(dossier.FieldIndustry)
	}
	if key := MatchIndustry(result.Industry); key != "" {
		result.Prohibited = key
		addFlag(dossier.FlagProhibitedIndustry)
		result.Summary.IssuesFound = append(result.Summary.IssuesFound, dossier.Issue{
			Type:  dossier.FlagProhibitedIndustry,
			Match: key,
			Value: result.Industry,
		})
	}

	if len(result.Summary.IssuesFound) > 0 {
		addFlag(dossier.FlagCritical)
		doc[dossier.FieldCreditDecision] = string(dossier.DecisionBlocked)
		result.Summary.Status = dossier.ComplianceCritical
	}
	doc[dossier.FieldRegulatoryFlags] = flags
	if err := doc.Set(dossier.FieldComplianceSummary, result.Summary); err != nil {
		return result, errors.Wrap(err, "compliance: store summary")
	}
	return result, nil
}

// MatchName reports whether an owner name matches a sanctions entry: equal
// after normalization, one contained in the other, or the same last name with
// the same first initial.
func MatchName(owner, listed string) bool {
	a, b := NormalizeName(owner), NormalizeName(listed)
	if a == "" || b == "" {
		return false
	}
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	aFirst, aLast := splitName(a)
	bFirst, bLast := splitName(b)
	return aLast == bLast && aFirst[0] == bFirst[0]
}

// MatchIndustry returns the first prohibited category whose keywords appear
// in text, or "".
func MatchIndustry(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, industry := range ProhibitedIndustries {
		for _, term := range industry.Terms {
			if strings.Contains(lower, term) {
				return industry.Key
			}
		}
	}
	return ""
}

// NormalizeName folds diacritics, lowercases and reduces value to single
// spaced ASCII letters and digits.
func NormalizeName(value string) string {
	// Chained transformers carry state, so each call builds its own.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, value)
	if err != nil {
		folded = value
	}
	folded = nonAlnumRe.ReplaceAllString(strings.ToLower(folded), " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(folded, " "))
}

// splitName expects a non-empty normalized name.
func splitName(normalized string) (first, last string) {
	parts := strings.Fields(normalized)
	return parts[0], parts[len(parts)-1]
}
