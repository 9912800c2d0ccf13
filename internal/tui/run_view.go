// Package tui renders a live view of an autopilot run in the terminal.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/lending-autopilot/internal/logbook"
	"github.com/kingrea/lending-autopilot/internal/unit"
	"github.com/kingrea/lending-autopilot/internal/workflow/engine"
	"github.com/kingrea/lending-autopilot/internal/workflow/scheduler"
)

const logTailLines = 6

var (
	labelStyleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	headerStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	boxStyle          = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

type rowState int

const (
	rowPending rowState = iota
	rowRunning
	rowSucceeded
	rowFailed
	rowTimedOut
)

type unitRow struct {
	id     string
	unitID string
	stage  engine.Stage
	state  rowState
	merged *engine.MergeRecord
	detail string
}

// EventMsg carries an engine event into the program.
type EventMsg engine.Event

// DoneMsg reports that the run returned.
type DoneMsg struct {
	Report engine.Report
	Err    error
}

// Model is the bubbletea model of one run.
type Model struct {
	workflowID string
	runID      string
	stage      engine.Stage
	rows       []unitRow
	index      map[string]int
	overrides  []string
	spinner    spinner.Model
	book       *logbook.Logbook

	done    bool
	quit    bool
	report  engine.Report
	err     error
	width   int
	unitLog []string
}

// NewModel lists every step of plan as pending. book may be nil.
func NewModel(plan scheduler.Plan, book *logbook.Logbook) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = labelStyleRunning
	m := &Model{
		workflowID: plan.Definition.ID,
		index:      map[string]int{},
		spinner:    s,
		book:       book,
	}
	for i, step := range plan.Steps() {
		stage := engine.StageParallel
		if i == 0 {
			stage = engine.StagePrerequisite
		}
		m.index[step.ID()] = len(m.rows)
		m.rows = append(m.rows, unitRow{id: step.ID(), unitID: step.Ref.UnitID, stage: stage})
	}
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quit = true
			return m, tea.Quit
		}
		return m, nil
	case EventMsg:
		m.apply(engine.Event(msg))
		return m, nil
	case DoneMsg:
		m.done = true
		m.report = msg.Report
		m.err = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Interrupted reports whether the user aborted before the run returned.
func (m *Model) Interrupted() bool {
	return m.quit && !m.done
}

func (m *Model) apply(ev engine.Event) {
	if ev.RunID != "" {
		m.runID = ev.RunID
	}
	switch ev.Kind {
	case engine.EventStageStarted:
		m.stage = ev.Stage
	case engine.EventUnitStarted:
		m.setState(ev.Unit, rowRunning, "")
	case engine.EventUnitFinished:
		if ev.Outcome == nil {
			return
		}
		switch ev.Outcome.Status {
		case unit.StatusSucceeded:
			m.setState(ev.Unit, rowSucceeded, ev.Outcome.Duration().Round(time.Millisecond).String())
		case unit.StatusTimedOut:
			m.setState(ev.Unit, rowTimedOut, ev.Outcome.Describe())
		default:
			m.setState(ev.Unit, rowFailed, ev.Outcome.Describe())
		}
		if line := lastLine(ev.Outcome.Stdout); line != "" {
			m.unitLog = append(m.unitLog, fmt.Sprintf("%s: %s", ev.Unit, line))
		}
	case engine.EventUnitMerged:
		if idx, ok := m.index[ev.Unit]; ok && ev.Merge != nil {
			record := *ev.Merge
			m.rows[idx].merged = &record
		}
	case engine.EventOverrideApplied:
		if ev.Applied != nil {
			m.overrides = append(m.overrides, fmt.Sprintf("%s: %v → %v", ev.Applied.Rule, ev.Applied.Previous, ev.Applied.Current))
		}
	}
}

func (m *Model) setState(id string, state rowState, detail string) {
	idx, ok := m.index[id]
	if !ok {
		return
	}
	m.rows[idx].state = state
	m.rows[idx].detail = detail
}

// View implements tea.Model.
func (m *Model) View() string {
	sections := []string{headerStyle.Render("⬡ LENDING AUTOPILOT")}

	statusLine := fmt.Sprintf("Workflow: %s", m.workflowID)
	if m.runID != "" {
		statusLine += fmt.Sprintf(" · Run: %s", m.runID)
	}
	if m.stage != "" && !m.done {
		statusLine += fmt.Sprintf(" · Stage: %s", m.stage)
	}
	lines := []string{statusLine, ""}
	for _, row := range m.rows {
		lines = append(lines, m.renderRow(row))
	}
	if len(m.overrides) > 0 {
		lines = append(lines, "", labelStyleWarn.Render("Overrides"))
		for _, o := range m.overrides {
			lines = append(lines, "  "+o)
		}
	}
	sections = append(sections, m.box(strings.Join(lines, "\n")))

	if m.done {
		sections = append(sections, m.box(m.renderResult()))
	}
	if panel := m.renderLogPanel(); panel != "" {
		sections = append(sections, panel)
	}
	if !m.done {
		sections = append(sections, detailTextStyle.Render("ctrl+c=abort"))
	}
	return strings.Join(sections, "\n")
}

func (m *Model) renderRow(row unitRow) string {
	var label string
	switch row.state {
	case rowRunning:
		label = m.spinner.View() + labelStyleRunning.Render("running")
	case rowSucceeded:
		label = labelStyleDone.Render("done")
	case rowFailed:
		label = labelStyleFailed.Render("failed")
	case rowTimedOut:
		label = labelStyleFailed.Render("timed out")
	default:
		label = labelStyleDefault.Render("pending")
	}
	if row.merged != nil {
		if row.merged.Merged {
			label += ", " + labelStyleDone.Render("merged")
		} else {
			label += ", " + labelStyleSkipped.Render("not merged: "+row.merged.Reason)
		}
	}
	name := row.id
	if row.unitID != "" && row.unitID != row.id {
		name = fmt.Sprintf("%s (%s)", row.id, row.unitID)
	}
	line := fmt.Sprintf("  %-12s %-28s [%s]", row.stage, name, label)
	if row.detail != "" {
		line += " " + detailTextStyle.Render(row.detail)
	}
	return line
}

func (m *Model) renderResult() string {
	if m.err != nil {
		status := string(m.report.State.Status)
		if status == "" {
			status = string(engine.RunStatusFailed)
		}
		return labelStyleFailed.Render(fmt.Sprintf("Run %s: %v", status, m.err))
	}
	lines := m.report.Summary.Lines()
	style := labelStyleDone
	if m.report.State.Status == engine.RunStatusDegraded {
		style = labelStyleWarn
	}
	lines = append([]string{style.Render(fmt.Sprintf("Run %s", m.report.State.Status))}, lines...)
	return strings.Join(lines, "\n")
}

func (m *Model) renderLogPanel() string {
	lines := append([]string(nil), m.unitLog...)
	title := "UNIT OUTPUT"
	if m.book != nil {
		if tail, _ := m.book.Tail(logTailLines); len(tail) > 0 {
			lines = tail
			title = "LOG · " + filepath.Base(m.book.Path())
		}
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > logTailLines {
		lines = lines[len(lines)-logTailLines:]
	}
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render(title)
	body := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Render(strings.Join(lines, "\n"))
	return m.box(head + "\n" + body)
}

func (m *Model) box(content string) string {
	style := boxStyle
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	return style.Render(content)
}

func lastLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[idx+1:])
	}
	return text
}
