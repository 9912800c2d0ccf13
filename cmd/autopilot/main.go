// cmd/autopilot/main.go
//
// Entry point for the lending autopilot.
//
// Flow:
// 1. Initialise .autopilot in the project and load its config
// 2. Register the built-in units and any declared in .autopilot/units
// 3. Run the workflow, optionally behind the live terminal view
// 4. Print the final dossier summary

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"

	"github.com/kingrea/lending-autopilot/internal/artifact"
	"github.com/kingrea/lending-autopilot/internal/config"
	"github.com/kingrea/lending-autopilot/internal/dossier"
	"github.com/kingrea/lending-autopilot/internal/logbook"
	"github.com/kingrea/lending-autopilot/internal/logging"
	"github.com/kingrea/lending-autopilot/internal/metrics"
	"github.com/kingrea/lending-autopilot/internal/tui"
	"github.com/kingrea/lending-autopilot/internal/unit"
	"github.com/kingrea/lending-autopilot/internal/units"
	"github.com/kingrea/lending-autopilot/internal/workflow"
	"github.com/kingrea/lending-autopilot/internal/workflow/engine"
	"github.com/kingrea/lending-autopilot/internal/workflow/scheduler"
	"github.com/kingrea/lending-autopilot/plugins"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	failedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
)

type options struct {
	project     string
	workflow    string
	metricsFile string
	useTUI      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.project, "project", "", "path to the project directory (defaults to cwd)")
	flag.StringVar(&opts.workflow, "workflow", "", "workflow definition file (defaults to the config, then the built-in)")
	flag.BoolVar(&opts.useTUI, "tui", false, "show live progress in the terminal")
	flag.StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics in the Prometheus text format")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status, err := run(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, failedStyle.Render("autopilot: ")+err.Error())
		os.Exit(1)
	}
	if status == engine.RunStatusFailed {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) (engine.RunStatus, error) {
	project := opts.project
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "determine working directory")
		}
		project = cwd
	}
	if err := config.InitDir(project); err != nil {
		return "", err
	}
	cfg, err := config.Load(project)
	if err != nil {
		return "", err
	}

	// The view owns the terminal, so console logging is off behind it.
	logOpts := logging.Options{Level: logging.ParseLevel(cfg.Project.LogLevel)}
	if !opts.useTUI {
		logOpts.Console = os.Stderr
		logOpts.UseColor = true
	}
	logger, err := logging.New(cfg.LogsDir(), logOpts)
	if err != nil {
		return "", err
	}
	defer logger.Close()

	book, err := logbook.New(cfg.JournalPath())
	if err != nil {
		return "", err
	}

	reg := unit.NewRegistry()
	if err := units.RegisterBuiltins(reg, cfg.Project.Inputs); err != nil {
		return "", err
	}
	external, err := plugins.RegisterProcessUnits(reg, cfg.UnitsDir())
	if err != nil {
		return "", err
	}
	if len(external) > 0 {
		logger.Info("registered external units", "units", strings.Join(external, ","))
	}

	workflowPath := cfg.WorkflowPath()
	if opts.workflow != "" {
		workflowPath, err = filepath.Abs(opts.workflow)
		if err != nil {
			return "", errors.Wrapf(err, "resolve %s", opts.workflow)
		}
	}
	def, err := workflow.LoadOrDefault(workflowPath)
	if err != nil {
		return "", err
	}
	plan, err := scheduler.Build(def, reg)
	if err != nil {
		return "", err
	}

	m := metrics.New()
	engineOpts := []engine.Option{
		engine.WithLogger(logger.Logger),
		engine.WithMetrics(m),
		engine.WithObserver(book),
		engine.WithStateStore(engine.NewRepository(cfg.StatePath())),
		engine.WithMaxParallel(cfg.Project.MaxParallel),
		engine.WithUnitTimeout(cfg.Project.UnitTimeout),
		engine.WithMalformedOutput(engine.MalformedPolicy(cfg.Project.MalformedOutput)),
		engine.WithPublisher(artifact.NewPublisher(artifact.WithAttempts(cfg.Project.PublishAttempts))),
	}
	var view *tui.Program
	if opts.useTUI {
		view = tui.NewProgram(plan, book)
		engineOpts = append(engineOpts, engine.WithObserver(view.Observer()))
	}
	eng, err := engine.New(plan, dossier.NewStore(cfg.DossierPath()), cfg.ProjectDir, engineOpts...)
	if err != nil {
		return "", err
	}

	var report engine.Report
	if view != nil {
		report, err = view.Run(ctx, eng.Run)
	} else {
		report, err = eng.Run(ctx)
	}

	if opts.metricsFile != "" {
		if werr := m.WriteTextfile(opts.metricsFile); werr != nil {
			logger.Warn("write metrics", "path", opts.metricsFile, "error", werr)
		}
	}
	if err != nil {
		return engine.RunStatusFailed, err
	}
	printReport(report)
	return report.State.Status, nil
}

func printReport(report engine.Report) {
	style := okStyle
	switch report.State.Status {
	case engine.RunStatusDegraded:
		style = warnStyle
	case engine.RunStatusFailed:
		style = failedStyle
	}
	fmt.Println(titleStyle.Render("⬡ LENDING AUTOPILOT") + " " + style.Render(string(report.State.Status)))
	for _, record := range report.Merges {
		if !record.Merged {
			fmt.Println(warnStyle.Render(fmt.Sprintf("! %s not merged: %s", record.Unit, record.Reason)))
		}
	}
	for _, line := range report.Summary.Lines() {
		fmt.Println(line)
	}
}
