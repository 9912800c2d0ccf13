package dossier

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLoadMissingFileIsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "company_dossier.json"))
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc)
	assert.NotNil(t, doc)
}

func TestStoreSaveWritesIndentedJSONWithNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "company_dossier.json")
	store := NewStore(path)
	doc := New()
	doc[FieldEntityName] = "Acme LLC"
	doc[FieldRegulatoryFlags] = []any{"CRITICAL"}
	require.NoError(t, store.Save(doc))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "{\n  \"entity_name\": \"Acme LLC\",\n  \"regulatory_flags\": [\n    \"CRITICAL\"\n  ]\n}\n"
	assert.Equal(t, want, string(data))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestParseRejectsNonObjects(t *testing.T) {
	for _, input := range []string{"", "  ", "null", "[1,2]", "{not json", `{"a":1} {"b":2}`} {
		_, err := Parse([]byte(input))
		require.Error(t, err, "input %q", input)
		assert.True(t, errors.Is(err, ErrMalformed), "input %q", input)
	}
}

func TestStorePreservesLargeIntegersAndUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "company_dossier.json")
	input := "{\n  \"account_number\": 12345678901234567891,\n  \"ratio\": 1.50,\n  \"entity_name\": \"Acme LLC\"\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(input), 0o644))

	store := NewStore(path)
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567891"), doc["account_number"])
	doc[FieldKYBStatus] = string(KYBApproved)
	require.NoError(t, store.Save(doc.Clone()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"account_number": 12345678901234567891,`)
	assert.Contains(t, string(data), `"ratio": 1.50,`)
}

func TestEncodeLeavesHTMLCharactersAlone(t *testing.T) {
	data, err := Encode(Dossier{FieldEntityName: "Smith & Sons <Holdings> LLC"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"entity_name\": \"Smith & Sons <Holdings> LLC\"\n}\n", string(data))
}

func TestNumberAcceptsDecodedAndInProcessValues(t *testing.T) {
	for _, value := range []any{60.0, 60, json.Number("60")} {
		got, ok := Number(value)
		assert.True(t, ok, "%T", value)
		assert.Equal(t, 60.0, got)
	}
	_, ok := Number("60")
	assert.False(t, ok)
}

func TestCloneHasNoAliasing(t *testing.T) {
	base := New()
	base[FieldRegulatoryFlags] = []any{"A"}
	base[FieldComplianceSummary] = map[string]any{"status": "CLEAR"}

	clone := base.Clone()
	clone[FieldRegulatoryFlags] = append(clone[FieldRegulatoryFlags].([]any), "B")
	clone[FieldComplianceSummary].(map[string]any)["status"] = "CRITICAL"
	clone["extra"] = true

	assert.Equal(t, []string{"A"}, base.Flags())
	assert.Equal(t, "CLEAR", base.ComplianceStatus())
	assert.False(t, base.Has("extra"))
}

func TestCloneOfNilIsEmpty(t *testing.T) {
	var doc Dossier
	clone := doc.Clone()
	require.NotNil(t, clone)
	assert.Empty(t, clone)
}

func TestAccessorsDefaultToUnknown(t *testing.T) {
	doc := New()
	assert.Equal(t, DecisionUnknown, doc.Decision())
	assert.Equal(t, KYBUnknown, doc.KYBStatus())
	assert.Equal(t, ComplianceUnknown, doc.ComplianceStatus())
	assert.Nil(t, doc.Flags())
	assert.Empty(t, doc.CrossSell())
}

func TestFlagsSkipsNonStrings(t *testing.T) {
	doc := New()
	doc[FieldRegulatoryFlags] = []any{"A", 3.0, nil, "B"}
	assert.Equal(t, []string{"A", "B"}, doc.Flags())
	assert.True(t, doc.HasFlag("B"))
	assert.False(t, doc.HasFlag("C"))
}

func TestSetNormalizesTypedValues(t *testing.T) {
	doc := New()
	role := "Managing Member"
	require.NoError(t, doc.Set(FieldUBOList, []UBO{{Name: "Jane Roe", Role: &role, OwnershipPct: 60}}))

	raw, ok := doc[FieldUBOList].([]any)
	require.True(t, ok)
	require.Len(t, raw, 1)
	entry := raw[0].(map[string]any)
	assert.Equal(t, "Jane Roe", entry["name"])
	assert.Equal(t, json.Number("60"), entry["ownership_pct"])

	ubos := doc.UBOs()
	require.Len(t, ubos, 1)
	assert.Equal(t, 60.0, ubos[0].OwnershipPct)
	assert.Equal(t, "Managing Member", *ubos[0].Role)
}

func TestDecodeSummary(t *testing.T) {
	doc := New()
	require.NoError(t, doc.Set(FieldComplianceSummary, ComplianceSummary{
		SanctionsChecked: true,
		IssuesFound:      []Issue{{Type: FlagSanctionsHit}},
		Status:           ComplianceCritical,
	}))
	var summary ComplianceSummary
	found, err := doc.Decode(FieldComplianceSummary, &summary)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, ComplianceCritical, summary.Status)
	assert.Equal(t, ComplianceCritical, doc.ComplianceStatus())

	found, err = doc.Decode(FieldFinancials, &Financials{})
	require.NoError(t, err)
	assert.False(t, found)
}
