package engine

import (
	"time"

	"github.com/kingrea/lending-autopilot/internal/override"
	"github.com/kingrea/lending-autopilot/internal/unit"
)

// Stage names the two phases of a run.
type Stage string

const (
	StagePrerequisite Stage = "prerequisite"
	StageParallel     Stage = "parallel"
)

// EventKind enumerates the notifications emitted while a run progresses.
type EventKind string

const (
	EventStageStarted    EventKind = "stage-started"
	EventUnitStarted     EventKind = "unit-started"
	EventUnitFinished    EventKind = "unit-finished"
	EventUnitMerged      EventKind = "unit-merged"
	EventOverrideApplied EventKind = "override-applied"
	EventRunFinished     EventKind = "run-finished"
)

// Event describes one step of a run. Only the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	RunID   string
	Stage   Stage
	Unit    string
	Units   []string
	Outcome *unit.Outcome
	Merge   *MergeRecord
	Applied *override.Applied
	Summary *Summary
	Status  RunStatus
	At      time.Time
}

// Observer receives run events. Events are delivered one at a time, in the
// order they were emitted, from whichever goroutine produced them.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function into an Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}
