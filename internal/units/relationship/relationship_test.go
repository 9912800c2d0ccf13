package relationship

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

const stream = `id=TX100, amount=1500000, currency=usd, source=Series B Venture Round
transaction_id=TX101, transaction_amount=$2500000, currency=EUR, source=Customer receipts

amount=250000, currency=GBP, source=VC bridge
id=TX103, amount=900, currency=USD, source=payroll
`

func TestParseTransaction(t *testing.T) {
	tx := ParseTransaction("  ID=TX9, Amount = 1200 ,note, currency=eur=x  ")
	assert.Equal(t, "ID=TX9, Amount = 1200 ,note, currency=eur=x", tx.Raw)
	assert.Equal(t, "TX9", tx.Fields["id"])
	assert.Equal(t, "1200", tx.Fields["amount"])
	assert.Equal(t, "eur=x", tx.Fields["currency"])
	assert.NotContains(t, tx.Fields, "note")
	assert.Equal(t, "TX9", tx.Trigger())
	assert.Equal(t, "source=x", ParseTransaction("source=x").Trigger())
}

func TestDetectSignals(t *testing.T) {
	var txs []Transaction
	for _, line := range []string{
		"id=TX100, amount=1500000, currency=usd, source=Series B Venture Round",
		"transaction_id=TX101, transaction_amount=$2500000, currency=EUR, source=Customer receipts",
		"amount=250000, currency=GBP, source=VC bridge",
		"id=TX103, amount=900, currency=USD, source=payroll",
	} {
		txs = append(txs, ParseTransaction(line))
	}

	signals := Detect(txs)
	require.Len(t, signals, 3)
	assert.Equal(t, dossier.Opportunity{
		Signal:             SignalLiquidityEvent,
		RecommendedProduct: ProductSweep,
		TriggerTransaction: "TX100",
		Confidence:         ConfidenceHigh,
	}, signals[0])
	assert.Equal(t, SignalFXExposure, signals[1].Signal)
	assert.Equal(t, "TX101", signals[1].TriggerTransaction)
	assert.Equal(t, SignalFXExposure, signals[2].Signal)
	assert.Equal(t, "amount=250000, currency=GBP, source=VC bridge", signals[2].TriggerTransaction)
}

func TestAppendOpportunitiesKeepsExisting(t *testing.T) {
	doc := dossier.Dossier{dossier.FieldCrossSell: []any{map[string]any{"signal": "MANUAL"}}}
	require.NoError(t, AppendOpportunities(doc, []dossier.Opportunity{{Signal: SignalFXExposure, RecommendedProduct: ProductFXForwards}}))

	opportunities := doc.CrossSell()
	require.Len(t, opportunities, 2)
	assert.Equal(t, "MANUAL", opportunities[0].(map[string]any)["signal"])
	assert.Equal(t, SignalFXExposure, opportunities[1].(map[string]any)["signal"])

	empty := dossier.New()
	require.NoError(t, AppendOpportunities(empty, nil))
	assert.Equal(t, []any{}, empty[dossier.FieldCrossSell])
}

func TestRenderBriefWithoutSignals(t *testing.T) {
	body, err := RenderBrief(dossier.New(), nil)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "- No signals detected.")
	assert.Contains(t, text, "## 2) Recommended Product(s)\n- No product recommendations available.\n\n## 3)")
	assert.Contains(t, text, "Hi Client Team,")
}

func TestRunWritesBriefAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs", "transaction_stream.log"), []byte(stream), 0o644))
	snapshot := filepath.Join(dir, "relationship_dossier.json")
	require.NoError(t, dossier.WriteFile(snapshot, dossier.Dossier{dossier.FieldEntityName: "Harbor Freight Logistics LLC"}))

	var stdout bytes.Buffer
	u := New("logs/transaction_stream.log")
	require.NoError(t, u.Run(context.Background(), &unit.Invocation{DossierPath: snapshot, ArtifactRoot: dir, RunID: "r7", Stdout: &stdout}))

	doc, err := dossier.LoadFile(snapshot)
	require.NoError(t, err)
	assert.Len(t, doc.CrossSell(), 3)
	assert.Equal(t,
		"signals_detected: FX_EXPOSURE, LIQUIDITY_EVENT\nproducts: FX Forward Contracts, Liquidity Management / Sweep Account\n",
		stdout.String())

	meta, body, err := artifact.NewStore(dir).Read(artifact.SalesBrief)
	require.NoError(t, err)
	assert.Equal(t, "r7", meta.RunID)
	assert.Equal(t, "3", meta.Notes["signals"])
	text := string(body)
	assert.Contains(t, text, "- Signals detected: FX_EXPOSURE, LIQUIDITY_EVENT")
	assert.Contains(t, text, "- FX Forward Contracts: improve cash visibility and risk management.\n- Liquidity Management / Sweep Account: improve")
	assert.Contains(t, text, "Hi Harbor Freight Logistics LLC Team,")
	assert.Equal(t, []string{"Sales_Brief.md"}, u.Artifacts())
}

func TestRunWithoutLogFindsNothing(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "relationship_dossier.json")
	var stdout bytes.Buffer
	require.NoError(t, New("logs/absent.log").Run(context.Background(), &unit.Invocation{DossierPath: snapshot, ArtifactRoot: dir, Stdout: &stdout}))
	assert.Equal(t, "signals_detected: NONE\nproducts: NONE\n", stdout.String())
}
