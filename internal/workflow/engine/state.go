package engine

import (
	"time"

	"github.com/kingrea/lending-autopilot/internal/unit"
)

// RunStatus enumerates how a run ended.
type RunStatus string

const (
	// RunStatusCompleted means every unit succeeded and was merged.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusDegraded means the dossier was persisted but at least one
	// unit failed or its output was left out.
	RunStatusDegraded RunStatus = "degraded"
	// RunStatusFailed means nothing was persisted.
	RunStatusFailed RunStatus = "failed"
)

// State is the persisted record of the latest run.
type State struct {
	RunID        string    `json:"run_id"`
	WorkflowID   string    `json:"workflow_id"`
	Status       RunStatus `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`
	DossierPath  string    `json:"dossier_path,omitempty"`
	Units        []UnitRun `json:"units"`
	Overrides    []string  `json:"overrides,omitempty"`
	Summary      *Summary  `json:"summary,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UnitRun records what happened to one unit within a run.
type UnitRun struct {
	ID         string      `json:"id"`
	UnitID     string      `json:"unit_id"`
	Policy     string      `json:"policy"`
	Status     unit.Status `json:"status"`
	ExitCode   int         `json:"exit_code,omitempty"`
	Error      string      `json:"error,omitempty"`
	Merged     bool        `json:"merged"`
	SkipReason string      `json:"skip_reason,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Unit returns the record for id.
func (s State) Unit(id string) (UnitRun, bool) {
	for _, run := range s.Units {
		if run.ID == id {
			return run, true
		}
	}
	return UnitRun{}, false
}
