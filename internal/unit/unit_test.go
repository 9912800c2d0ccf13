package unit

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lending-autopilot/internal/dossier"
)

type funcUnit struct {
	Base
	run func(ctx context.Context, inv *Invocation) error
}

func newFuncUnit(id string, run func(ctx context.Context, inv *Invocation) error) *funcUnit {
	return &funcUnit{
		Base: NewBase(Info{ID: id, Name: id, Version: "1.0.0"}),
		run:  run,
	}
}

func (u *funcUnit) Run(ctx context.Context, inv *Invocation) error {
	return u.run(ctx, inv)
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("kyb", func(cfg Config) (Unit, error) {
		return newFuncUnit("kyb", nil), nil
	})
	require.Error(t, reg.Register("kyb", func(Config) (Unit, error) { return nil, nil }))
	require.Error(t, reg.Register("", func(Config) (Unit, error) { return nil, nil }))
	require.Error(t, reg.Register("x", nil))

	u, err := reg.Resolve("kyb", nil)
	require.NoError(t, err)
	assert.Equal(t, "kyb", u.Info().ID)
	assert.True(t, reg.Has("kyb"))

	_, err = reg.Resolve("missing", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownUnit))
	assert.Equal(t, []string{"kyb"}, reg.IDs())
}

func TestRegistryRejectsInvalidInfo(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("bad", func(Config) (Unit, error) {
		return &funcUnit{Base: NewBase(Info{ID: "bad"})}, nil
	})
	_, err := reg.Resolve("bad", nil)
	require.Error(t, err)
}

func TestConfigString(t *testing.T) {
	cfg := Config{"path": "x.txt", "n": 3}
	assert.Equal(t, "x.txt", cfg.String("path", "d"))
	assert.Equal(t, "d", cfg.String("n", "d"))
	assert.Equal(t, "d", Config(nil).String("path", "d"))
}

func TestInvocationResolve(t *testing.T) {
	inv := &Invocation{ArtifactRoot: "/srv/project"}
	assert.Equal(t, filepath.Join("/srv/project", "docs", "a.txt"), inv.Resolve("docs/a.txt"))
	assert.Equal(t, "/etc/list.txt", inv.Resolve("/etc/list.txt"))
	assert.Equal(t, "", inv.Resolve(""))
	assert.Equal(t, "docs/a.txt", (&Invocation{}).Resolve("docs/a.txt"))
}

func TestInvocationPrintf(t *testing.T) {
	var out strings.Builder
	inv := &Invocation{Stdout: &out}
	inv.Printf("kyb_status: %s", "APPROVED")
	inv.Printf("ubos: %d", 2)
	assert.Equal(t, "kyb_status: APPROVED\nubos: 2\n", out.String())

	(&Invocation{}).Printf("dropped")
}

func TestRunnerInvokeSuccessMutatesSnapshot(t *testing.T) {
	scratch := t.TempDir()
	runner := NewRunner(scratch, WithRunID("run-1"), WithArtifactRoot("/art"))
	u := newFuncUnit("kyb", func(ctx context.Context, inv *Invocation) error {
		assert.Equal(t, "run-1", inv.RunID)
		assert.Equal(t, "/art", inv.ArtifactRoot)
		doc, err := dossier.LoadFile(inv.DossierPath)
		if err != nil {
			return err
		}
		doc[dossier.FieldKYBStatus] = "APPROVED"
		fmt.Fprintln(inv.Stdout, "kyb done")
		fmt.Fprintln(inv.Stderr, "warning")
		return dossier.WriteFile(inv.DossierPath, doc)
	})

	snapshot := dossier.Dossier{dossier.FieldEntityName: "Acme LLC"}
	outcome := runner.Invoke(context.Background(), Job{Unit: u}, snapshot)

	require.True(t, outcome.Succeeded(), outcome.Describe())
	assert.Equal(t, "kyb", outcome.Unit)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Equal(t, "kyb done\n", outcome.Stdout)
	assert.Equal(t, "warning\n", outcome.Stderr)
	assert.Equal(t, filepath.Join(scratch, "kyb_dossier.json"), outcome.SnapshotPath)

	written, err := dossier.LoadFile(outcome.SnapshotPath)
	require.NoError(t, err)
	assert.Equal(t, "Acme LLC", written.String(dossier.FieldEntityName))
	assert.Equal(t, dossier.KYBApproved, written.KYBStatus())
	assert.False(t, snapshot.Has(dossier.FieldKYBStatus), "caller's snapshot is untouched")
}

func TestRunnerInvokeUsesJobID(t *testing.T) {
	runner := NewRunner(t.TempDir())
	u := newFuncUnit("risk", func(context.Context, *Invocation) error { return nil })
	outcome := runner.Invoke(context.Background(), Job{ID: "risk-secondary", Unit: u}, dossier.New())
	assert.Equal(t, "risk-secondary", outcome.Unit)
	assert.Equal(t, "risk-secondary_dossier.json", filepath.Base(outcome.SnapshotPath))
}

func TestRunnerInvokeCapturesFailure(t *testing.T) {
	runner := NewRunner(t.TempDir())
	u := newFuncUnit("risk", func(ctx context.Context, inv *Invocation) error {
		fmt.Fprint(inv.Stderr, "boom")
		return Exit(3, errors.New("bad statement"))
	})
	outcome := runner.Invoke(context.Background(), Job{Unit: u}, dossier.New())
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Equal(t, "boom", outcome.Stderr)
	assert.Contains(t, outcome.Describe(), "exit 3")
}

func TestRunnerInvokeRecoversPanic(t *testing.T) {
	runner := NewRunner(t.TempDir())
	u := newFuncUnit("risk", func(context.Context, *Invocation) error {
		panic("nil map")
	})
	outcome := runner.Invoke(context.Background(), Job{Unit: u}, dossier.New())
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, 1, outcome.ExitCode)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "panicked")
}

func TestRunnerInvokeTimesOut(t *testing.T) {
	runner := NewRunner(t.TempDir(), WithTimeout(time.Hour))
	release := make(chan struct{})
	defer close(release)
	u := newFuncUnit("relationship", func(ctx context.Context, inv *Invocation) error {
		<-release
		return nil
	})
	outcome := runner.Invoke(context.Background(), Job{Unit: u, Timeout: 20 * time.Millisecond}, dossier.New())
	assert.Equal(t, StatusTimedOut, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, context.DeadlineExceeded))
	assert.False(t, outcome.Succeeded())
}

func TestRunnerInvokeParentCancelIsFailure(t *testing.T) {
	runner := NewRunner(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := newFuncUnit("risk", func(ctx context.Context, inv *Invocation) error {
		<-ctx.Done()
		return ctx.Err()
	})
	outcome := runner.Invoke(ctx, Job{Unit: u}, dossier.New())
	assert.Equal(t, StatusFailed, outcome.Status)
}

func TestRunnerInvokeNilUnit(t *testing.T) {
	outcome := NewRunner(t.TempDir()).Invoke(context.Background(), Job{ID: "ghost"}, dossier.New())
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, "ghost", outcome.Unit)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("x")))
	assert.Equal(t, 7, ExitCode(errors.Wrap(Exit(7, nil), "wrapped")))
}

func TestProcessUnitRunsCommand(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	p, err := NewProcessUnit(ProcessSpec{
		Info:    Info{ID: "external", Name: "External", Version: "0.1.0"},
		Command: sh,
		Args: []string{
			"-c",
			`printf '{"entity_name":"%s","run":"%s"}\n' "$GREETING" "$2" > "$DOSSIER_PATH"; echo "$1"`,
			"sh",
			"{{.ArtifactRoot}}",
			"{{.RunID}}",
		},
		Env:       map[string]string{"GREETING": "Acme LLC"},
		Artifacts: []string{"Report.md"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Report.md"}, p.Artifacts())

	runner := NewRunner(t.TempDir(), WithArtifactRoot("/tmp/art"), WithRunID("r-9"))
	outcome := runner.Invoke(context.Background(), Job{Unit: p}, dossier.New())
	require.True(t, outcome.Succeeded(), outcome.Describe())
	assert.Equal(t, "/tmp/art\n", outcome.Stdout)

	doc, err := dossier.LoadFile(outcome.SnapshotPath)
	require.NoError(t, err)
	assert.Equal(t, "Acme LLC", doc.String(dossier.FieldEntityName))
	assert.Equal(t, "r-9", doc.String("run"))
}

func TestProcessUnitMapsExitCode(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	p, err := NewProcessUnit(ProcessSpec{
		Info:    Info{ID: "failing", Name: "Failing", Version: "0.1.0"},
		Command: sh,
		Args:    []string{"-c", "echo nope >&2; exit 4"},
	})
	require.NoError(t, err)
	outcome := NewRunner(t.TempDir()).Invoke(context.Background(), Job{Unit: p}, dossier.New())
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, 4, outcome.ExitCode)
	assert.Equal(t, "nope\n", outcome.Stderr)
}

func TestProcessUnitMissingBinary(t *testing.T) {
	p, err := NewProcessUnit(ProcessSpec{
		Info:    Info{ID: "ghost", Name: "Ghost", Version: "0.1.0"},
		Command: filepath.Join(t.TempDir(), "does-not-exist"),
	})
	require.NoError(t, err)
	outcome := NewRunner(t.TempDir()).Invoke(context.Background(), Job{Unit: p}, dossier.New())
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, 1, outcome.ExitCode)
}

func TestNewProcessUnitValidates(t *testing.T) {
	_, err := NewProcessUnit(ProcessSpec{Info: Info{ID: "x", Name: "x", Version: "1"}})
	require.Error(t, err)
	_, err = NewProcessUnit(ProcessSpec{Info: Info{ID: "x", Name: "x", Version: "1"}, Command: "true", Args: []string{"{{"}})
	require.Error(t, err)
	_, err = NewProcessUnit(ProcessSpec{Info: Info{ID: "x"}, Command: "true"})
	require.Error(t, err)
}
