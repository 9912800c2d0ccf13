package logbook

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/lending-autopilot/internal/override"
	"github.com/kingrea/lending-autopilot/internal/unit"
	"github.com/kingrea/lending-autopilot/internal/workflow/engine"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestTailOnMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "logs", "runs.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	if lines, total := book.Tail(10); lines != nil || total != 0 {
		t.Fatalf("expected empty tail, got %v %d", lines, total)
	}
	var nilBook *Logbook
	nilBook.Info("ignored")
	if nilBook.Path() != "" {
		t.Fatalf("nil logbook should have no path")
	}
}

func TestObserveJournalsRunEvents(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "runs.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	failed := unit.Outcome{Unit: "risk", Status: unit.StatusFailed, ExitCode: 2, Err: errors.New("no financials")}
	events := []engine.Event{
		{Kind: engine.EventStageStarted, RunID: "r1", Stage: engine.StageParallel, Units: []string{"compliance", "risk"}},
		{Kind: engine.EventUnitStarted, RunID: "r1", Unit: "risk"},
		{Kind: engine.EventUnitFinished, RunID: "r1", Unit: "risk", Outcome: &failed},
		{Kind: engine.EventUnitMerged, RunID: "r1", Unit: "sales", Merge: &engine.MergeRecord{Unit: "sales", Reason: engine.SkipTimedOut}},
		{Kind: engine.EventUnitMerged, RunID: "r1", Unit: "risk", Merge: &engine.MergeRecord{Unit: "risk", Merged: true}},
		{Kind: engine.EventOverrideApplied, RunID: "r1", Applied: &override.Applied{Rule: "critical-blocks-credit", Previous: "APPROVE", Current: "BLOCKED"}},
		{Kind: engine.EventRunFinished, RunID: "r1", Status: engine.RunStatusDegraded, Summary: &engine.Summary{KYBStatus: "APPROVED", ComplianceStatus: "CRITICAL", CreditDecision: "BLOCKED", Opportunities: 1}},
	}
	for _, ev := range events {
		book.Observe(ev)
	}

	lines, total := book.Tail(10)
	if total != 5 {
		t.Fatalf("expected 5 journal lines, got %d: %v", total, lines)
	}
	wants := []string{
		"2026-03-01T09:00:00Z INFO  run r1: parallel stage started (compliance, risk)",
		"WARN  run r1: risk failed (exit 2): no financials",
		"WARN  run r1: sales not merged (timed-out)",
		"WARN  run r1: override critical-blocks-credit changed APPROVE to BLOCKED",
		"INFO  run r1: degraded (kyb=APPROVED compliance=CRITICAL decision=BLOCKED opportunities=1)",
	}
	for i, want := range wants {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d = %q, want it to contain %q", i, lines[i], want)
		}
	}
}
