// Package unit defines the contract every analysis unit implements and the
// runner that executes one unit against a private dossier snapshot.
package unit

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnknownUnit is returned when a registry has no factory for an id.
var ErrUnknownUnit = errors.New("unit: unknown id")

// Info describes a unit's identity.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return errors.New("unit: id is required")
	}
	if i.Name == "" {
		return errors.Newf("unit: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return errors.Newf("unit: version is required for %s", i.ID)
	}
	return nil
}

// Invocation carries everything a unit may touch during one run. The unit
// reads and rewrites the document at DossierPath; it never sees the live
// aggregate.
type Invocation struct {
	DossierPath  string
	ArtifactRoot string
	RunID        string
	Stdout       io.Writer
	Stderr       io.Writer
}

// Resolve anchors a relative path at ArtifactRoot.
func (inv *Invocation) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || inv.ArtifactRoot == "" {
		return path
	}
	return filepath.Join(inv.ArtifactRoot, path)
}

// Printf writes a line to Stdout when one is attached.
func (inv *Invocation) Printf(format string, args ...any) {
	if inv.Stdout == nil {
		return
	}
	fmt.Fprintf(inv.Stdout, format+"\n", args...)
}

// Unit is implemented by every analysis capability.
type Unit interface {
	Info() Info
	// Artifacts lists the rendered files the unit writes under ArtifactRoot.
	Artifacts() []string
	// Run mutates the snapshot in place. A nil error is exit status zero.
	Run(ctx context.Context, inv *Invocation) error
}

// Status enumerates unit outcomes.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed-out"
)

// Outcome captures one invocation. The runner never interprets the business
// content of the snapshot.
type Outcome struct {
	Unit         string
	Status       Status
	ExitCode     int
	Stdout       string
	Stderr       string
	SnapshotPath string
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Succeeded reports whether the unit exited cleanly.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Duration returns the wall time spent in the unit.
func (o Outcome) Duration() time.Duration {
	if o.FinishedAt.Before(o.StartedAt) {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// ExitError reports a non-zero exit status from an in-process unit.
type ExitError struct {
	Code int
	Err  error
}

// Exit wraps err with an explicit exit code.
func Exit(code int, err error) error {
	if err == nil {
		err = errors.Newf("exit status %d", code)
	}
	return &ExitError{Code: code, Err: err}
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a unit error to a process-style exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	var procErr *exec.ExitError
	if errors.As(err, &procErr) && procErr.ExitCode() > 0 {
		return procErr.ExitCode()
	}
	return 1
}
