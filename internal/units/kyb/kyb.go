// Package kyb extracts the registered identity of a business and its
// beneficial owners from articles of incorporation.
package kyb

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kingrea/lending-autopilot/internal/dossier"
	"github.com/kingrea/lending-autopilot/internal/unit"
)

// ID is the registry key of the unit.
const ID = "kyb"

// ownershipThreshold is the stake above which an owner is reportable.
const ownershipThreshold = 25.0

var (
	entityNameRe = regexp.MustCompile(`(?i)\bENTITY\s+NAME\b\s*[:\-]\s*(.+)`)
	stateRe      = regexp.MustCompile(`(?i)\bSTATE\s+OF\s+REGISTRATION\b\s*[:\-]\s*(.+)`)
	entityHintRe = regexp.MustCompile(`(?i)\b([A-Z][A-Za-z0-9&.,'\- ]+\b(?:LLC|L\.L\.C\.|CORP|CORPORATION|INC|INC\.|LTD|L\.T\.D\.))\b`)
	pctRe        = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	bulletRe     = regexp.MustCompile(`^[\s\-*\x{2022}]+`)
	pctParenRe   = regexp.MustCompile(`\([^)]*%[^)]*\)`)
	ownerLabelRe = regexp.MustCompile(`(?i)\bOWNER\b\s*[:\-]\s*(.+)`)
)

// roleSeparators split "name<sep>role" in order of preference.
var roleSeparators = []string{",", " - ", " – ", " — "}

// Confidence records how a value was found.
type Confidence string

const (
	Explicit Confidence = "explicit"
	Inferred Confidence = "inferred"
)

// Finding is one extracted value.
type Finding struct {
	Value      string
	Confidence Confidence
}

// Found reports whether anything was extracted.
func (f Finding) Found() bool {
	return f.Value != ""
}

// Result summarizes one review.
type Result struct {
	EntityName Finding
	State      Finding
	UBOs       []dossier.UBO
	Status     dossier.KYBStatus
	Missing    []string
}

// Unit reads articles from a file and updates the identity fields.
type Unit struct {
	unit.Base
	articles string
}

// New builds the unit. articles may be relative to the artifact root.
func New(articles string) *Unit {
	return &Unit{
		Base: unit.NewBase(unit.Info{
			ID:          ID,
			Name:        "KYB gatekeeper",
			Description: "Extracts entity name, state of registration and owners above 25%",
			Version:     "1.0.0",
		}),
		articles: articles,
	}
}

// Run implements unit.Unit.
func (u *Unit) Run(_ context.Context, inv *unit.Invocation) error {
	path := inv.Resolve(u.articles)
	text, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "kyb: read articles %s", path)
	}
	doc, err := dossier.LoadFile(inv.DossierPath)
	if err != nil {
		return err
	}
	result, err := Review(doc, string(text))
	if err != nil {
		return err
	}
	if err := dossier.WriteFile(inv.DossierPath, doc); err != nil {
		return err
	}

	inv.Printf("entity_name: %s", orNA(result.EntityName.Value))
	inv.Printf("state: %s", orNA(result.State.Value))
	inv.Printf("ubos_over_25: %d", len(result.UBOs))
	inv.Printf("kyb_status: %s", result.Status)
	if len(result.Missing) > 0 {
		inv.Printf("flags: %s", strings.Join(result.Missing, ", "))
	}
	return nil
}

// Review extracts identity data from articles into doc. An explicitly
// labelled value replaces what doc holds; an inferred one only fills a gap.
// Anything missing rejects the business and is flagged.
func Review(doc dossier.Dossier, articles string) (Result, error) {
	result := Result{
		EntityName: ExtractEntityName(articles),
		State:      ExtractState(articles),
		UBOs:       ExtractUBOs(articles),
	}
	updateField(doc, dossier.FieldEntityName, result.EntityName)
	updateField(doc, dossier.FieldState, result.State)
	if len(result.UBOs) > 0 {
		if err := doc.Set(dossier.FieldUBOList, result.UBOs); err != nil {
			return result, errors.Wrap(err, "kyb: store owners")
		}
	}

	if !result.EntityName.Found() {
		result.Missing = append(result.Missing, dossier.FlagMissingEntityName)
	}
	if !result.State.Found() {
		result.Missing = append(result.Missing, dossier.FlagMissingState)
	}
	if len(result.UBOs) == 0 {
		result.Missing = append(result.Missing, dossier.FlagNoUBOOver25)
	}

	flags, _ := doc[dossier.FieldRegulatoryFlags].([]any)
	if flags == nil {
		flags = []any{}
	}
	result.Status = dossier.KYBApproved
	if len(result.Missing) > 0 {
		result.Status = dossier.KYBRejected
		for _, flag := range result.Missing {
			if !containsFlag(flags, flag) {
				flags = append(flags, flag)
			}
		}
	}
	doc[dossier.FieldKYBStatus] = string(result.Status)
	doc[dossier.FieldRegulatoryFlags] = flags
	return result, nil
}

// ExtractEntityName prefers an "Entity Name:" label and otherwise infers the
// first name carrying a corporate suffix.
func ExtractEntityName(text string) Finding {
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		if m := entityNameRe.FindStringSubmatch(line); m != nil {
			return Finding{Value: strings.TrimSpace(m[1]), Confidence: Explicit}
		}
	}
	for _, line := range lines {
		if m := entityHintRe.FindStringSubmatch(line); m != nil {
			return Finding{Value: strings.TrimSpace(m[1]), Confidence: Inferred}
		}
	}
	return Finding{}
}

// ExtractState returns the labelled state of registration.
func ExtractState(text string) Finding {
	for _, line := range strings.Split(text, "\n") {
		if m := stateRe.FindStringSubmatch(line); m != nil {
			return Finding{Value: strings.TrimSpace(m[1]), Confidence: Explicit}
		}
	}
	return Finding{}
}

// ExtractUBOs returns every owner line whose stake exceeds 25%.
func ExtractUBOs(text string) []dossier.UBO {
	var ubos []dossier.UBO
	for _, line := range strings.Split(text, "\n") {
		if ubo, ok := parseUBOLine(line); ok {
			ubos = append(ubos, ubo)
		}
	}
	return ubos
}

func parseUBOLine(line string) (dossier.UBO, bool) {
	m := pctRe.FindStringSubmatch(line)
	if m == nil {
		return dossier.UBO{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct <= ownershipThreshold {
		return dossier.UBO{}, false
	}

	cleaned := strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
	cleaned = strings.TrimSpace(pctParenRe.ReplaceAllString(cleaned, ""))
	if label := ownerLabelRe.FindStringSubmatch(cleaned); label != nil {
		cleaned = strings.TrimSpace(label[1])
	}

	name := strings.TrimSpace(cleaned)
	var role *string
	for _, sep := range roleSeparators {
		before, after, ok := strings.Cut(cleaned, sep)
		if !ok {
			continue
		}
		name = strings.TrimSpace(before)
		if r := strings.TrimSpace(after); r != "" {
			role = &r
		}
		break
	}
	if name == "" {
		return dossier.UBO{}, false
	}
	return dossier.UBO{Name: name, Role: role, OwnershipPct: pct}, true
}

func updateField(doc dossier.Dossier, field string, finding Finding) {
	if !finding.Found() {
		return
	}
	if existing, ok := doc[field]; !ok || existing == nil || finding.Confidence == Explicit {
		doc[field] = finding.Value
	}
}

func containsFlag(flags []any, flag string) bool {
	for _, f := range flags {
		if s, ok := f.(string); ok && s == flag {
			return true
		}
	}
	return false
}

func orNA(value string) string {
	if value == "" {
		return "N/A"
	}
	return value
}
