package engine

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/lending-autopilot/internal/artifact"
	"github.com/kingrea/lending-autopilot/internal/dossier"
	"github.com/kingrea/lending-autopilot/internal/merge"
	"github.com/kingrea/lending-autopilot/internal/metrics"
	"github.com/kingrea/lending-autopilot/internal/override"
	"github.com/kingrea/lending-autopilot/internal/unit"
	"github.com/kingrea/lending-autopilot/internal/workflow/scheduler"
)

const tracerName = "github.com/kingrea/lending-autopilot/internal/workflow/engine"

// ErrMalformedOutput marks a unit output that could not be read back while
// the engine runs with MalformedFail.
var ErrMalformedOutput = errors.New("workflow engine: malformed unit output")

// MalformedPolicy decides what happens when a unit leaves behind a snapshot
// that is not a JSON object.
type MalformedPolicy string

const (
	// MalformedSkip treats the output as a no-op merge and logs a warning.
	MalformedSkip MalformedPolicy = "skip"
	// MalformedFail aborts the run before anything is persisted.
	MalformedFail MalformedPolicy = "fail"
)

// Reasons a unit's output was left out of the dossier.
const (
	SkipTimedOut   = "timed-out"
	SkipMalformed  = "malformed-output"
	SkipUnreadable = "unreadable-output"
	SkipUnchanged  = "unchanged-output"
)

// MergeRecord reports whether a unit's output was folded into the dossier.
type MergeRecord struct {
	Unit   string `json:"unit"`
	Merged bool   `json:"merged"`
	Reason string `json:"reason,omitempty"`
}

// Execution is the in-memory result of running both stages.
type Execution struct {
	RunID      string
	Dossier    dossier.Dossier
	Outcomes   []unit.Outcome
	Merges     []MergeRecord
	Overrides  []override.Applied
	StartedAt  time.Time
	FinishedAt time.Time
}

// Degraded reports whether any unit failed or was left out of the merge.
func (x Execution) Degraded() bool {
	for _, outcome := range x.Outcomes {
		if !outcome.Succeeded() {
			return true
		}
	}
	for _, record := range x.Merges {
		if !record.Merged {
			return true
		}
	}
	return false
}

// Report is everything a completed Run produced.
type Report struct {
	Execution
	Published []artifact.Published
	Summary   Summary
	State     State
}

// Engine runs a plan against the dossier held by a store.
type Engine struct {
	plan          scheduler.Plan
	merger        *merge.Engine
	store         *dossier.Store
	publisher     *artifact.Publisher
	repo          StateStore
	projectDir    string
	scratchParent string
	maxParallel   int
	timeout       time.Duration
	malformed     MalformedPolicy
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	clock         func() time.Time
	newRunID      func() string

	mu        sync.Mutex
	observers []Observer
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests). The clock
// is called from unit goroutines and must be safe for concurrent use.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records unit and run counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer overrides the tracer spans are opened with.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithObserver subscribes an observer to run events.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observers = append(e.observers, observer)
		}
	}
}

// WithStateStore records every run's outcome.
func WithStateStore(repo StateStore) Option {
	return func(e *Engine) {
		e.repo = repo
	}
}

// WithMaxParallel raises the fan-out limit. The plan never runs fewer than
// all parallel units at once.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		e.maxParallel = n
	}
}

// WithUnitTimeout bounds each unit when the definition does not.
func WithUnitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithMalformedOutput selects how unreadable unit output is handled.
func WithMalformedOutput(policy MalformedPolicy) Option {
	return func(e *Engine) {
		if policy != "" {
			e.malformed = policy
		}
	}
}

// WithPublisher replaces the artifact publisher.
func WithPublisher(p *artifact.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithScratchDir sets where per-run scratch directories are created.
func WithScratchDir(dir string) Option {
	return func(e *Engine) {
		e.scratchParent = dir
	}
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.newRunID = func() string { return id }
		}
	}
}

// New wires an engine for plan. Artifacts are rendered into projectDir and
// published to the output directories beneath it.
func New(plan scheduler.Plan, store *dossier.Store, projectDir string, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("workflow engine: dossier store is required")
	}
	merger, err := plan.MergeEngine()
	if err != nil {
		return nil, errors.Wrap(err, "workflow engine")
	}
	engine := &Engine{
		plan:       plan,
		merger:     merger,
		store:      store,
		publisher:  artifact.NewPublisher(),
		projectDir: projectDir,
		timeout:    unit.DefaultTimeout,
		malformed:  MalformedSkip,
		logger:     slog.New(slog.DiscardHandler),
		tracer:     otel.Tracer(tracerName),
		clock:      time.Now,
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(engine)
	}
	switch engine.malformed {
	case MalformedSkip, MalformedFail:
	default:
		return nil, errors.Newf("workflow engine: unknown malformed output policy %q", engine.malformed)
	}
	return engine, nil
}

// Plan returns the plan the engine executes.
func (e *Engine) Plan() scheduler.Plan {
	return e.plan
}

// Execute runs both stages against a copy of base and returns the merged,
// override-enforced dossier. base itself is never modified. Cancelling ctx
// stops the run between stages; units already running are asked to stop
// through their context and are reported as failed.
func (e *Engine) Execute(ctx context.Context, base dossier.Dossier) (Execution, error) {
	runID := e.newRunID()
	ctx, span := e.tracer.Start(ctx, "autopilot.execute", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("workflow.id", e.plan.Definition.ID),
	))
	defer span.End()

	exec := Execution{RunID: runID, StartedAt: e.clock()}
	fail := func(err error) (Execution, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		exec.FinishedAt = e.clock()
		return exec, err
	}

	scratch, err := os.MkdirTemp(e.scratchParent, "autopilot-")
	if err != nil {
		return fail(errors.Wrap(err, "workflow engine: create scratch dir"))
	}
	defer os.RemoveAll(scratch)

	runner := unit.NewRunner(scratch,
		unit.WithTimeout(e.plan.Timeout(e.timeout)),
		unit.WithArtifactRoot(e.projectDir),
		unit.WithRunID(runID),
		unit.WithClock(e.clock),
	)
	doc := base.Clone()

	pre := e.plan.Prerequisite
	input := doc.Clone()
	stageCtx, stageSpan := e.startStage(ctx, runID, StagePrerequisite, []scheduler.Step{pre})
	outcome := e.invoke(stageCtx, runID, runner, pre, input)
	stageSpan.End()
	exec.Outcomes = append(exec.Outcomes, outcome)
	record, in, err := e.prepare(ctx, runID, input, outcome)
	if err == nil && in != nil {
		if err = e.merger.Merge(doc, *in); err != nil {
			err = errors.Wrap(err, "workflow engine")
		} else {
			record.Merged = true
		}
	}
	if err != nil {
		exec.Merges = append(exec.Merges, record)
		return fail(err)
	}
	exec.Merges = append(exec.Merges, e.settle(runID, record))
	if err := ctx.Err(); err != nil {
		return fail(errors.Wrap(err, "workflow engine: run cancelled after prerequisite"))
	}

	steps := e.plan.Parallel
	inputs := make([]dossier.Dossier, len(steps))
	outcomes := make([]unit.Outcome, len(steps))
	for i := range steps {
		inputs[i] = doc.Clone()
	}
	stageCtx, stageSpan = e.startStage(ctx, runID, StageParallel, steps)
	var g errgroup.Group
	g.SetLimit(e.plan.PoolSize(e.maxParallel))
	for i, step := range steps {
		g.Go(func() error {
			outcomes[i] = e.invoke(stageCtx, runID, runner, step, inputs[i])
			return nil
		})
	}
	_ = g.Wait()
	stageSpan.End()

	records := make([]MergeRecord, len(outcomes))
	results := make(map[string]merge.Input, len(outcomes))
	for i, outcome := range outcomes {
		exec.Outcomes = append(exec.Outcomes, outcome)
		record, in, err := e.prepare(ctx, runID, inputs[i], outcome)
		if err != nil {
			exec.Merges = append(exec.Merges, record)
			return fail(err)
		}
		records[i] = record
		if in != nil {
			results[outcome.Unit] = *in
		}
	}
	merged := e.merger.MergeAll(doc, results)
	for i := range records {
		records[i].Merged = slices.Contains(merged, records[i].Unit)
		exec.Merges = append(exec.Merges, e.settle(runID, records[i]))
	}

	for _, applied := range override.EnforceRules(doc, override.DefaultRules) {
		exec.Overrides = append(exec.Overrides, applied)
		e.metrics.IncrementOverride(applied.Rule)
		e.logger.LogAttrs(ctx, slog.LevelWarn, "override applied",
			slog.String("run_id", runID),
			slog.String("rule", applied.Rule),
			slog.Any("previous", applied.Previous),
			slog.Any("current", applied.Current),
		)
		e.emit(Event{Kind: EventOverrideApplied, RunID: runID, Applied: &applied})
	}

	exec.Dossier = doc
	exec.FinishedAt = e.clock()
	return exec, nil
}

// Run loads the dossier, executes the plan, persists the result, publishes
// artifacts and summarizes the persisted document. A unit failure never
// fails the run; a store, malformed-output or publish failure does.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	ctx, span := e.tracer.Start(ctx, "autopilot.run", trace.WithAttributes(
		attribute.String("dossier.path", e.store.Path()),
	))
	defer span.End()

	var report Report
	fail := func(err error, persisted bool) (Report, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		status := RunStatusFailed
		if persisted {
			status = RunStatusDegraded
		}
		report.State = e.record(ctx, report, status, err.Error())
		return report, err
	}

	base, err := e.store.Load()
	if err != nil {
		return fail(errors.Wrap(err, "workflow engine: load dossier"), false)
	}
	exec, err := e.Execute(ctx, base)
	report.Execution = exec
	if err != nil {
		return fail(err, false)
	}
	if err := e.store.Save(exec.Dossier); err != nil {
		return fail(errors.Wrap(err, "workflow engine: save dossier"), false)
	}

	published, err := e.publisher.Publish(ctx, e.projectDir, e.plan.PublishTargets())
	report.Published = published
	for _, p := range published {
		if p.Skipped {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "artifact not rendered",
				slog.String("run_id", exec.RunID),
				slog.String("unit", p.Target.Unit),
				slog.String("source", p.Source),
			)
		}
	}
	if err != nil {
		return fail(err, true)
	}

	data, err := os.ReadFile(e.store.Path())
	if err != nil {
		return fail(errors.Wrap(err, "workflow engine: read back dossier"), true)
	}
	report.Summary = Summarize(data, published)

	status := RunStatusCompleted
	if exec.Degraded() {
		status = RunStatusDegraded
	}
	report.State = e.record(ctx, report, status, "")
	return report, nil
}

func (e *Engine) startStage(ctx context.Context, runID string, stage Stage, steps []scheduler.Step) (context.Context, trace.Span) {
	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID()
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "stage started",
		slog.String("run_id", runID),
		slog.String("stage", string(stage)),
		slog.Any("units", ids),
	)
	e.emit(Event{Kind: EventStageStarted, RunID: runID, Stage: stage, Units: ids})
	return e.tracer.Start(ctx, "autopilot.stage", trace.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.StringSlice("units", ids),
	))
}

func (e *Engine) invoke(ctx context.Context, runID string, runner *unit.Runner, step scheduler.Step, snapshot dossier.Dossier) unit.Outcome {
	ctx, span := e.tracer.Start(ctx, "autopilot.unit", trace.WithAttributes(
		attribute.String("unit.id", step.ID()),
		attribute.String("unit.policy", step.Ref.Policy),
	))
	defer span.End()

	e.emit(Event{Kind: EventUnitStarted, RunID: runID, Unit: step.ID()})
	outcome := runner.Invoke(ctx, step.Job(e.plan.Timeout(e.timeout)), snapshot)

	span.SetAttributes(attribute.String("unit.status", string(outcome.Status)))
	e.metrics.ObserveUnit(outcome.Unit, string(outcome.Status), outcome.Duration())
	attrs := []slog.Attr{
		slog.String("run_id", runID),
		slog.String("unit", outcome.Unit),
		slog.String("status", string(outcome.Status)),
		slog.Duration("duration", outcome.Duration()),
	}
	level := slog.LevelInfo
	if !outcome.Succeeded() {
		level = slog.LevelWarn
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, string(outcome.Status))
		attrs = append(attrs,
			slog.Int("exit_code", outcome.ExitCode),
			slog.String("error", errString(outcome.Err)),
			slog.String("output", firstNonEmpty(outcome.Stderr, outcome.Stdout)),
		)
	}
	e.logger.LogAttrs(ctx, level, "unit finished", attrs...)
	e.emit(Event{Kind: EventUnitFinished, RunID: runID, Unit: outcome.Unit, Outcome: &outcome})
	return outcome
}

// prepare reads an outcome's snapshot and returns what to merge, or nil with
// the reason it is left out. Timed-out units are never merged because their
// snapshot may be half written. A failed unit contributes only the fields it
// changed, so values it inherited cannot overwrite an earlier sibling's.
func (e *Engine) prepare(ctx context.Context, runID string, input dossier.Dossier, outcome unit.Outcome) (MergeRecord, *merge.Input, error) {
	record := MergeRecord{Unit: outcome.Unit}
	if outcome.Status == unit.StatusTimedOut {
		record.Reason = SkipTimedOut
		return record, nil, nil
	}
	output, err := dossier.LoadFile(outcome.SnapshotPath)
	if err != nil {
		record.Reason = SkipUnreadable
		if errors.Is(err, dossier.ErrMalformed) {
			record.Reason = SkipMalformed
		}
		if e.malformed == MalformedFail {
			return record, nil, errors.Mark(errors.Wrapf(err, "workflow engine: output of %s", outcome.Unit), ErrMalformedOutput)
		}
		e.logger.LogAttrs(ctx, slog.LevelWarn, "unit output ignored",
			slog.String("run_id", runID),
			slog.String("unit", outcome.Unit),
			slog.String("reason", record.Reason),
			slog.String("error", err.Error()),
		)
		return record, nil, nil
	}
	if !outcome.Succeeded() {
		output = merge.Changed(input, output)
		if len(output) == 0 {
			record.Reason = SkipUnchanged
			return record, nil, nil
		}
	}
	return record, &merge.Input{Unit: outcome.Unit, Input: input, Output: output}, nil
}

// settle records a skipped merge and announces the merge result.
func (e *Engine) settle(runID string, record MergeRecord) MergeRecord {
	if !record.Merged {
		e.metrics.IncrementMergeSkipped(record.Unit, record.Reason)
	}
	e.emit(Event{Kind: EventUnitMerged, RunID: runID, Unit: record.Unit, Merge: &record})
	return record
}

// record persists the run state and announces the end of the run. A state
// store failure is logged; it never changes the run's result.
func (e *Engine) record(ctx context.Context, report Report, status RunStatus, reason string) State {
	now := e.clock()
	state := State{
		RunID:        report.RunID,
		WorkflowID:   e.plan.Definition.ID,
		Status:       status,
		StatusReason: reason,
		DossierPath:  e.store.Path(),
		StartedAt:    report.StartedAt,
		UpdatedAt:    now,
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = now
	}
	if status != RunStatusFailed {
		summary := report.Summary
		state.Summary = &summary
	}
	merges := make(map[string]MergeRecord, len(report.Merges))
	for _, m := range report.Merges {
		merges[m.Unit] = m
	}
	for _, step := range e.plan.Steps() {
		run := UnitRun{ID: step.ID(), UnitID: step.Ref.UnitID, Policy: step.Ref.Policy}
		for _, outcome := range report.Outcomes {
			if outcome.Unit != run.ID {
				continue
			}
			run.Status = outcome.Status
			run.ExitCode = outcome.ExitCode
			run.Error = errString(outcome.Err)
			run.StartedAt = outcome.StartedAt
			run.FinishedAt = outcome.FinishedAt
		}
		if m, ok := merges[run.ID]; ok {
			run.Merged = m.Merged
			run.SkipReason = m.Reason
		}
		state.Units = append(state.Units, run)
	}
	for _, applied := range report.Overrides {
		state.Overrides = append(state.Overrides, applied.Rule)
	}

	if e.repo != nil {
		if err := e.repo.Save(state); err != nil {
			e.logger.LogAttrs(ctx, slog.LevelError, "save run state",
				slog.String("run_id", state.RunID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.metrics.IncrementRun(string(status))
	level := slog.LevelInfo
	if status != RunStatusCompleted {
		level = slog.LevelWarn
	}
	e.logger.LogAttrs(ctx, level, "run finished",
		slog.String("run_id", state.RunID),
		slog.String("status", string(status)),
		slog.String("reason", reason),
	)
	e.emit(Event{Kind: EventRunFinished, RunID: state.RunID, Status: status, Summary: state.Summary})
	return state
}

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.clock()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, observer := range e.observers {
		observer.Observe(ev)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
