package kyb

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lending-autopilot/internal/dossier"
	"github.com/kingrea/lending-autopilot/internal/unit"
)

const articles = `ARTICLES OF ORGANIZATION
Entity Name: Harbor Freight Logistics LLC
State of Registration: Delaware

Members:
- Owner: Maria Alvarez, Managing Member (60%)
- Tom Reyes - Member (30%)
* Priya Shah, Silent Partner 10%
`

func TestReviewApprovesCompleteArticles(t *testing.T) {
	doc := dossier.New()
	result, err := Review(doc, articles)
	require.NoError(t, err)

	assert.Equal(t, Finding{Value: "Harbor Freight Logistics LLC", Confidence: Explicit}, result.EntityName)
	assert.Equal(t, "Delaware", doc.String(dossier.FieldState))
	assert.Equal(t, dossier.KYBApproved, doc.KYBStatus())
	assert.Empty(t, doc.Flags())

	ubos := doc.UBOs()
	require.Len(t, ubos, 2)
	assert.Equal(t, "Maria Alvarez", ubos[0].Name)
	require.NotNil(t, ubos[0].Role)
	assert.Equal(t, "Managing Member", *ubos[0].Role)
	assert.Equal(t, 60.0, ubos[0].OwnershipPct)
	assert.Equal(t, "Tom Reyes", ubos[1].Name)
	assert.Equal(t, 30.0, ubos[1].OwnershipPct)

	raw, ok := doc[dossier.FieldUBOList].([]any)
	require.True(t, ok, "owners must be stored as plain JSON values, got %T", doc[dossier.FieldUBOList])
	first, ok := raw[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Maria Alvarez", first["name"])
}

func TestReviewRejectsAndFlagsMissingFields(t *testing.T) {
	doc := dossier.Dossier{dossier.FieldRegulatoryFlags: []any{dossier.FlagMissingState}}
	result, err := Review(doc, "Shareholder: Minor Holder 10%\n")
	require.NoError(t, err)

	assert.Equal(t, dossier.KYBRejected, result.Status)
	assert.Equal(t, []string{dossier.FlagMissingEntityName, dossier.FlagMissingState, dossier.FlagNoUBOOver25}, result.Missing)
	assert.Equal(t, []string{dossier.FlagMissingState, dossier.FlagMissingEntityName, dossier.FlagNoUBOOver25}, doc.Flags())
	assert.False(t, doc.Has(dossier.FieldUBOList))
}

func TestInferredNameOnlyFillsGaps(t *testing.T) {
	text := "This agreement forms Copperline Ventures Inc. under state law.\n"
	name := ExtractEntityName(text)
	assert.Equal(t, Inferred, name.Confidence)
	assert.Contains(t, name.Value, "Copperline Ventures Inc")

	doc := dossier.Dossier{dossier.FieldEntityName: "Copperline Ventures Incorporated"}
	_, err := Review(doc, text)
	require.NoError(t, err)
	assert.Equal(t, "Copperline Ventures Incorporated", doc.String(dossier.FieldEntityName))

	doc = dossier.Dossier{dossier.FieldEntityName: nil}
	_, err = Review(doc, text)
	require.NoError(t, err)
	assert.Equal(t, name.Value, doc.String(dossier.FieldEntityName))

	for _, text := range []string{"Filed for Acme llc today\n", "filed for acme Inc. today\n"} {
		name := ExtractEntityName(text)
		assert.Equal(t, Inferred, name.Confidence, text)
		assert.Contains(t, strings.ToLower(name.Value), "acme", text)
	}
}

func TestParseUBOLineEdgeCases(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
		name string
		role string
	}{
		{line: "Jane Doe 25%", ok: false},
		{line: "Jane Doe 25.5%", ok: true, name: "Jane Doe 25.5%"},
		{line: "• Beneficial Owner: Li Wei — Director (40 %)", ok: true, name: "Li Wei", role: "Director"},
		{line: "Sam Park, (51%)", ok: true, name: "Sam Park"},
		{line: "(75%)", ok: false},
		{line: "no percentage here", ok: false},
	}
	for _, tc := range cases {
		ubo, ok := parseUBOLine(tc.line)
		require.Equal(t, tc.ok, ok, tc.line)
		if !ok {
			continue
		}
		assert.Equal(t, tc.name, ubo.Name, tc.line)
		if tc.role == "" {
			assert.Nil(t, ubo.Role, tc.line)
		} else {
			require.NotNil(t, ubo.Role, tc.line)
			assert.Equal(t, tc.role, *ubo.Role, tc.line)
		}
	}
}

func TestRunRewritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "articles.txt"), []byte(articles), 0o644))
	snapshot := filepath.Join(dir, "kyb_dossier.json")
	require.NoError(t, dossier.WriteFile(snapshot, dossier.Dossier{dossier.FieldIndustry: "logistics"}))

	var stdout bytes.Buffer
	u := New("articles.txt")
	err := u.Run(context.Background(), &unit.Invocation{DossierPath: snapshot, ArtifactRoot: dir, Stdout: &stdout})
	require.NoError(t, err)

	doc, err := dossier.LoadFile(snapshot)
	require.NoError(t, err)
	assert.Equal(t, "logistics", doc.String(dossier.FieldIndustry))
	assert.Equal(t, dossier.KYBApproved, doc.KYBStatus())
	assert.Contains(t, stdout.String(), "ubos_over_25: 2")
	assert.NoError(t, u.Info().Validate())
}

func TestRunFailsWithoutArticles(t *testing.T) {
	dir := t.TempDir()
	err := New("missing.txt").Run(context.Background(), &unit.Invocation{
		DossierPath:  filepath.Join(dir, "kyb_dossier.json"),
		ArtifactRoot: dir,
	})
	assert.Error(t, err)
}
