package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"

	"github.com/kingrea/lending-autopilot/internal/logbook"
	"github.com/kingrea/lending-autopilot/internal/workflow/engine"
	"github.com/kingrea/lending-autopilot/internal/workflow/scheduler"
)

// ErrInterrupted is returned when the user quits before the run returns.
var ErrInterrupted = errors.New("tui: run interrupted")

// RunFunc starts the run the program displays.
type RunFunc func(ctx context.Context) (engine.Report, error)

// Program drives a Model from engine events.
type Program struct {
	model   *Model
	program *tea.Program
}

// NewProgram prepares the view of plan. Register Observer with the engine
// before calling Run.
func NewProgram(plan scheduler.Plan, book *logbook.Logbook, opts ...tea.ProgramOption) *Program {
	model := NewModel(plan, book)
	return &Program{model: model, program: tea.NewProgram(model, opts...)}
}

// Observer forwards engine events into the program.
func (p *Program) Observer() engine.Observer {
	return engine.ObserverFunc(func(ev engine.Event) {
		p.program.Send(EventMsg(ev))
	})
}

// Run starts run in the background and blocks until the view closes. Quitting
// early cancels the context handed to run and waits for it to return.
func (p *Program) Run(ctx context.Context, run RunFunc) (engine.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		report engine.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := run(ctx)
		done <- result{report, err}
		p.program.Send(DoneMsg{Report: report, Err: err})
	}()

	if _, err := p.program.Run(); err != nil {
		cancel()
		<-done
		return engine.Report{}, errors.Wrap(err, "tui: run program")
	}
	if p.model.Interrupted() {
		cancel()
		r := <-done
		return r.report, errors.CombineErrors(ErrInterrupted, r.err)
	}
	r := <-done
	return r.report, r.err
}
