package workflow

import "github.com/kingrea/lending-autopilot/internal/merge"

// DefaultID identifies the built-in lending composition.
const DefaultID = "commercial-lending"

// Default returns the reference composition: identity checks first, then
// compliance screening, underwriting and relationship signals in parallel.
func Default() Definition {
	return Definition{
		ID:   DefaultID,
		Name: "Commercial lending autopilot",
		Prerequisite: UnitRef{
			UnitID: "kyb",
			Policy: string(merge.PolicyPrerequisite),
		},
		Parallel: []UnitRef{
			{UnitID: "compliance", Policy: string(merge.PolicyCompliance)},
			{UnitID: "risk", Policy: string(merge.PolicyRisk), Artifacts: []string{"Credit_Memo.md"}},
			{ID: "sales", UnitID: "relationship", Policy: string(merge.PolicyRelationship), Artifacts: []string{"Sales_Brief.md"}},
		},
	}
}

// DefaultYAML is written by `autopilot init` so the composition can be edited.
const DefaultYAML = `# Units run in two stages. The prerequisite runs alone; the parallel units
# each receive a private copy of the dossier once it has merged. Results are
# merged in the order listed here, never in completion order.
id: commercial-lending
name: Commercial lending autopilot
prerequisite:
  unit: kyb
  policy: prerequisite
parallel:
  - unit: compliance
    policy: compliance
  - unit: risk
    policy: risk
    artifacts: [Credit_Memo.md]
  - id: sales
    unit: relationship
    policy: relationship
    artifacts: [Sales_Brief.md]
`
