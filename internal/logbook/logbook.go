package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kingrea/lending-autopilot/internal/workflow/engine"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook persists run progress to a simple text file, one line per event,
// so operators can follow past runs without parsing structured logs.
type Logbook struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "logbook: ensure dir")
	}
	return &Logbook{path: path, now: time.Now}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n",
		l.now().UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries together with the
// total number of entries in the logbook.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// Observe journals engine events. Unit starts are too chatty for the journal
// and are left to the structured log.
func (l *Logbook) Observe(ev engine.Event) {
	switch ev.Kind {
	case engine.EventStageStarted:
		l.Info("run %s: %s stage started (%s)", ev.RunID, ev.Stage, strings.Join(ev.Units, ", "))
	case engine.EventUnitFinished:
		if ev.Outcome == nil {
			return
		}
		if ev.Outcome.Succeeded() {
			l.Info("run %s: %s", ev.RunID, ev.Outcome.Describe())
			return
		}
		l.Warn("run %s: %s", ev.RunID, ev.Outcome.Describe())
	case engine.EventUnitMerged:
		if ev.Merge != nil && !ev.Merge.Merged {
			l.Warn("run %s: %s not merged (%s)", ev.RunID, ev.Unit, ev.Merge.Reason)
		}
	case engine.EventOverrideApplied:
		if ev.Applied != nil {
			l.Warn("run %s: override %s changed %v to %v", ev.RunID, ev.Applied.Rule, ev.Applied.Previous, ev.Applied.Current)
		}
	case engine.EventRunFinished:
		if ev.Status == engine.RunStatusFailed {
			l.Error("run %s: failed", ev.RunID)
			return
		}
		if ev.Summary != nil {
			l.Info("run %s: %s (kyb=%s compliance=%s decision=%s opportunities=%d)",
				ev.RunID, ev.Status, ev.Summary.KYBStatus, ev.Summary.ComplianceStatus,
				ev.Summary.CreditDecision, ev.Summary.Opportunities)
			return
		}
		l.Info("run %s: %s", ev.RunID, ev.Status)
	}
}
