// Package units wires the built-in analysis units into a registry.
package units

import (
	"github.com/kingrea/lending-autopilot/internal/config"
	"github.com/kingrea/lending-autopilot/internal/unit"
	"github.com/kingrea/lending-autopilot/internal/units/compliance"
	"github.com/kingrea/lending-autopilot/internal/units/kyb"
	"github.com/kingrea/lending-autopilot/internal/units/relationship"
	"github.com/kingrea/lending-autopilot/internal/units/risk"
)

// Config keys a workflow may set to point a built-in at another input.
const (
	KeyArticles     = "articles"
	KeySanctions    = "sanctions"
	KeyFinancials   = "financials"
	KeyTransactions = "transactions"
)

// RegisterBuiltins installs kyb, compliance, risk and relationship. Each
// reads its input from the unit config when set, else from in.
func RegisterBuiltins(reg *unit.Registry, in config.Inputs) error {
	factories := []struct {
		id      string
		factory unit.Factory
	}{
		{kyb.ID, func(cfg unit.Config) (unit.Unit, error) {
			return kyb.New(cfg.String(KeyArticles, in.Articles)), nil
		}},
		{compliance.ID, func(cfg unit.Config) (unit.Unit, error) {
			return compliance.New(cfg.String(KeySanctions, in.Sanctions)), nil
		}},
		{risk.ID, func(cfg unit.Config) (unit.Unit, error) {
			return risk.New(cfg.String(KeyFinancials, in.Financials)), nil
		}},
		{relationship.ID, func(cfg unit.Config) (unit.Unit, error) {
			return relationship.New(cfg.String(KeyTransactions, in.Transactions)), nil
		}},
	}
	for _, f := range factories {
		if err := reg.Register(f.id, f.factory); err != nil {
			return err
		}
	}
	return nil
}
