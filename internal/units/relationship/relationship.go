// Package relationship watches a transaction stream for cross-sell signals
// and drafts a sales brief for the relationship manager.
package relationship

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"text/template"

	"github.com/cockroachdb/errors"

	"github.com/kingrea/lending-autopilot/internal/artifact"
	"github.com/kingrea/lending-autopilot/internal/dossier"
	"github.com/kingrea/lending-autopilot/internal/unit"
)

// ID is the registry key of the unit.
const ID = "relationship"

// Signals and the products they recommend.
const (
	SignalLiquidityEvent = "LIQUIDITY_EVENT"
	SignalFXExposure     = "FX_EXPOSURE"

	ProductSweep      = "Liquidity Management / Sweep Account"
	ProductFXForwards = "FX Forward Contracts"

	ConfidenceHigh = "HIGH"
)

// LiquidityThreshold is the inflow above which an investment counts as a
// liquidity event.
const LiquidityThreshold = 1_000_000

var liquiditySources = []string{"investment", "vc", "venture", "private equity", "pe"}

var amountRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Transaction is one parsed stream line: lower-cased keys mapped to trimmed
// values, plus the raw line.
type Transaction struct {
	Raw    string
	Fields map[string]string
}

// Get returns the first non-empty value among keys.
func (t Transaction) Get(keys ...string) string {
	for _, key := range keys {
		if v := t.Fields[key]; v != "" {
			return v
		}
	}
	return ""
}

// Trigger identifies the transaction in opportunity records.
func (t Transaction) Trigger() string {
	if id := t.Get("id", "transaction_id"); id != "" {
		return id
	}
	return t.Raw
}

// Unit scans a transaction log and appends opportunities.
type Unit struct {
	unit.Base
	transactions string
}

// New builds the unit. transactions may be relative to the artifact root; a
// missing log yields no signals.
func New(transactions string) *Unit {
	u := &Unit{
		Base: unit.NewBase(unit.Info{
			ID:          ID,
			Name:        "Relationship sentinel",
			Description: "Detects liquidity events and FX exposure and drafts a sales brief",
			Version:     "1.0.0",
		}),
		transactions: transactions,
	}
	u.SetArtifacts(artifact.SalesBrief.File)
	return u
}

// Run implements unit.Unit.
func (u *Unit) Run(_ context.Context, inv *unit.Invocation) error {
	txs, err := LoadTransactions(inv.Resolve(u.transactions))
	if err != nil {
		return err
	}
	doc, err := dossier.LoadFile(inv.DossierPath)
	if err != nil {
		return err
	}
	signals := Detect(txs)
	if err := AppendOpportunities(doc, signals); err != nil {
		return err
	}
	if err := dossier.WriteFile(inv.DossierPath, doc); err != nil {
		return err
	}

	body, err := RenderBrief(doc, signals)
	if err != nil {
		return err
	}
	kinds, products := summarize(signals)
	store := artifact.NewStore(inv.ArtifactRoot)
	if _, err := store.Write(artifact.SalesBrief, body, artifact.Metadata{
		UnitID:  ID,
		Version: u.Info().Version,
		RunID:   inv.RunID,
		Inputs:  []string{u.transactions},
		Notes:   map[string]string{"signals": strconv.Itoa(len(signals))},
	}); err != nil {
		return err
	}

	inv.Printf("signals_detected: %s", joinOrNone(kinds))
	inv.Printf("products: %s", joinOrNone(products))
	return nil
}

// LoadTransactions parses every non-blank line of the log.
func LoadTransactions(path string) ([]Transaction, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "relationship: read transactions %s", path)
	}
	var txs []Transaction
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			txs = append(txs, ParseTransaction(line))
		}
	}
	return txs, errors.Wrap(scanner.Err(), "relationship: scan transactions")
}

// ParseTransaction reads comma-separated key=value pairs, e.g.
// "id=TX1, amount=1200000, currency=EUR". Parts without "=" are ignored, so
// amounts must not carry thousands separators.
func ParseTransaction(line string) Transaction {
	tx := Transaction{Raw: strings.TrimSpace(line), Fields: map[string]string{}}
	for _, part := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		tx.Fields[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return tx
}

// Detect emits at most one liquidity and one FX signal per transaction, in
// stream order.
func Detect(txs []Transaction) []dossier.Opportunity {
	var signals []dossier.Opportunity
	for _, tx := range txs {
		currency := strings.ToUpper(tx.Get("currency"))
		source := strings.ToLower(tx.Get("source"))

		if amount, ok := parseAmount(tx.Get("amount", "transaction_amount")); ok && amount > LiquidityThreshold {
			if containsAny(source, liquiditySources) {
				signals = append(signals, dossier.Opportunity{
					Signal:             SignalLiquidityEvent,
					RecommendedProduct: ProductSweep,
					TriggerTransaction: tx.Trigger(),
					Confidence:         ConfidenceHigh,
				})
			}
		}
		if currency != "" && currency != "USD" {
			signals = append(signals, dossier.Opportunity{
				Signal:             SignalFXExposure,
				RecommendedProduct: ProductFXForwards,
				TriggerTransaction: tx.Trigger(),
				Confidence:         ConfidenceHigh,
			})
		}
	}
	return signals
}

// AppendOpportunities adds signals after any opportunities doc already lists.
func AppendOpportunities(doc dossier.Dossier, signals []dossier.Opportunity) error {
	existing := doc.CrossSell()
	if existing == nil {
		existing = []any{}
	}
	for _, signal := range signals {
		existing = append(existing, signal)
	}
	return doc.Set(dossier.FieldCrossSell, existing)
}

var briefTemplate = template.Must(template.New("brief").Funcs(template.FuncMap{"join": strings.Join}).Parse(`# Sales Brief

## 1) Opportunity Summary
- {{if .Signals}}Signals detected: {{join .Signals ", "}}{{else}}No signals detected.{{end}}
- Why it matters now: recent transaction patterns suggest active capital movement and cross-border exposure.

## 2) Recommended Product(s)
{{- range .Products}}
- {{.}}: improve cash visibility and risk management.
{{- else}}
- No product recommendations available.
{{- end}}

## 3) Suggested Talking Points
- Reference recent transaction activity for {{.Entity}} without citing raw amounts.
- Highlight how proactive treasury tools can stabilize cash flow.
- Offer to review FX exposure and hedging options for cross-border activity.

## 4) Personalized Email Draft
Hi {{.Entity}} Team,

I wanted to share a few proactive ideas based on your recent transaction activity. We are seeing signals that suggest it may be a good time to tighten liquidity visibility and evaluate FX risk management tools. Our team can help you optimize cash positioning while reducing exposure from cross-currency activity.

If it would be helpful, I can arrange a short working session to review your cash flow cadence and discuss whether a sweep structure and/or forward contracts could add value right now.

Best regards,
Senior Banking Advisor
`))

// RenderBrief drafts the sales brief from the detected signals.
func RenderBrief(doc dossier.Dossier, signals []dossier.Opportunity) ([]byte, error) {
	kinds, products := summarize(signals)
	entity := doc.String(dossier.FieldEntityName)
	if entity == "" {
		entity = "Client"
	}
	var buf bytes.Buffer
	err := briefTemplate.Execute(&buf, struct {
		Entity   string
		Signals  []string
		Products []string
	}{entity, kinds, products})
	if err != nil {
		return nil, errors.Wrap(err, "relationship: render sales brief")
	}
	return buf.Bytes(), nil
}

// summarize returns the sorted distinct signal kinds and products.
func summarize(signals []dossier.Opportunity) (kinds, products []string) {
	for _, s := range signals {
		kinds = append(kinds, s.Signal)
		products = append(products, s.RecommendedProduct)
	}
	slices.Sort(kinds)
	slices.Sort(products)
	return slices.Compact(kinds), slices.Compact(products)
}

func parseAmount(text string) (float64, bool) {
	cleaned := strings.NewReplacer(",", "", "$", "").Replace(text)
	match := amountRe.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(match, 64)
	return n, err == nil
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "NONE"
	}
	return strings.Join(values, ", ")
}
