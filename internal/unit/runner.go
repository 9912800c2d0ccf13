package unit

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/kingrea/lending-autopilot/internal/dossier"
)

// DefaultTimeout bounds a single unit when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// Job names one invocation. ID defaults to the unit's own id and determines
// the snapshot file name.
type Job struct {
	ID      string
	Unit    Unit
	Timeout time.Duration
}

// Runner executes units against snapshots written into a scratch directory.
type Runner struct {
	scratch      string
	artifactRoot string
	runID        string
	timeout      time.Duration
	now          func() time.Time
}

// RunnerOption customizes a Runner during construction.
type RunnerOption func(*Runner)

// WithTimeout sets the default per-unit bound. Zero disables it.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithArtifactRoot sets the directory units render artifacts into.
func WithArtifactRoot(dir string) RunnerOption {
	return func(r *Runner) {
		r.artifactRoot = dir
	}
}

// WithRunID tags every invocation with the run identifier.
func WithRunID(id string) RunnerOption {
	return func(r *Runner) {
		r.runID = id
	}
}

// WithClock overrides the clock used for outcome timestamps.
func WithClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = clock
	}
}

// NewRunner builds a runner that writes snapshots under scratch.
func NewRunner(scratch string, opts ...RunnerOption) *Runner {
	r := &Runner{
		scratch: scratch,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SnapshotPath returns where the snapshot for id is written.
func (r *Runner) SnapshotPath(id string) string {
	return filepath.Join(r.scratch, id+"_dossier.json")
}

// Invoke writes snapshot to disk, runs the unit against it and reports the
// outcome. Failures are captured in the Outcome; Invoke never returns an
// error and never panics on behalf of the unit.
func (r *Runner) Invoke(ctx context.Context, job Job, snapshot dossier.Dossier) Outcome {
	id := job.ID
	if id == "" && job.Unit != nil {
		id = job.Unit.Info().ID
	}
	outcome := Outcome{
		Unit:         id,
		SnapshotPath: r.SnapshotPath(id),
		StartedAt:    r.now(),
	}
	finish := func(status Status, err error) Outcome {
		outcome.Status = status
		outcome.Err = err
		outcome.ExitCode = ExitCode(err)
		outcome.FinishedAt = r.now()
		return outcome
	}
	if job.Unit == nil {
		return finish(StatusFailed, errors.Newf("unit: %s has no implementation", id))
	}
	if err := dossier.WriteFile(outcome.SnapshotPath, snapshot); err != nil {
		return finish(StatusFailed, errors.Wrapf(err, "unit: write snapshot for %s", id))
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	inv := &Invocation{
		DossierPath:  outcome.SnapshotPath,
		ArtifactRoot: r.artifactRoot,
		RunID:        r.runID,
		Stdout:       stdout,
		Stderr:       stderr,
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- errors.Newf("unit: %s panicked: %v", id, p)
			}
		}()
		done <- job.Unit.Run(runCtx, inv)
	}()

	var (
		err      error
		timedOut bool
	)
	select {
	case err = <-done:
		if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			timedOut = true
		}
	case <-runCtx.Done():
		err = runCtx.Err()
		timedOut = ctx.Err() == nil
	}
	outcome.Stdout = stdout.String()
	outcome.Stderr = stderr.String()
	switch {
	case timedOut:
		return finish(StatusTimedOut, errors.Wrapf(context.DeadlineExceeded, "unit: %s exceeded %s", id, timeout))
	case err != nil:
		return finish(StatusFailed, err)
	default:
		return finish(StatusSucceeded, nil)
	}
}

// Describe renders a one-line summary of the outcome for logs.
func (o Outcome) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", o.Unit, o.Status)
	if o.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", o.ExitCode)
	}
	if d := o.Duration(); d > 0 {
		fmt.Fprintf(&b, " in %s", d.Round(time.Millisecond))
	}
	if o.Err != nil {
		fmt.Fprintf(&b, ": %v", o.Err)
	}
	return b.String()
}

// syncBuffer lets a unit that outlived its deadline keep writing while the
// runner reads what was captured so far.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
