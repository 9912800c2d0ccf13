package unit

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/cockroachdb/errors"
)

// Environment variables exported to process units.
const (
	EnvDossierPath  = "DOSSIER_PATH"
	EnvArtifactRoot = "AUTOPILOT_ARTIFACT_ROOT"
	EnvRunID        = "AUTOPILOT_RUN_ID"
)

// ProcessSpec describes an external command that behaves as a unit.
type ProcessSpec struct {
	Info      Info
	Command   string
	Args      []string
	Env       map[string]string
	Dir       string
	Artifacts []string
}

// ProcessUnit runs an external command against the snapshot named by
// DOSSIER_PATH. Args may reference {{.DossierPath}}, {{.ArtifactRoot}} and
// {{.RunID}}.
type ProcessUnit struct {
	Base
	spec ProcessSpec
	args []*template.Template
}

// NewProcessUnit validates spec and returns a unit that executes it.
func NewProcessUnit(spec ProcessSpec) (*ProcessUnit, error) {
	if err := spec.Info.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Command) == "" {
		return nil, errors.Newf("unit: command is required for %s", spec.Info.ID)
	}
	args := make([]*template.Template, len(spec.Args))
	for i, arg := range spec.Args {
		tmpl, err := template.New(spec.Info.ID).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "unit: %s: parse arg %d", spec.Info.ID, i)
		}
		args[i] = tmpl
	}
	base := NewBase(spec.Info)
	base.SetArtifacts(spec.Artifacts...)
	return &ProcessUnit{Base: base, spec: spec, args: args}, nil
}

// Run implements Unit.
func (p *ProcessUnit) Run(ctx context.Context, inv *Invocation) error {
	if inv == nil {
		return errors.New("unit: invocation is nil")
	}
	args, err := p.renderArgs(inv)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, p.spec.Command, args...)
	cmd.Dir = p.spec.Dir
	cmd.Env = p.environ(inv)
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Exit(exitErr.ExitCode(), errors.Wrapf(err, "unit: %s", p.spec.Info.ID))
		}
		return errors.Wrapf(err, "unit: start %s", p.spec.Info.ID)
	}
	return nil
}

func (p *ProcessUnit) renderArgs(inv *Invocation) ([]string, error) {
	out := make([]string, len(p.args))
	for i, tmpl := range p.args {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, inv); err != nil {
			return nil, errors.Wrapf(err, "unit: %s: render arg %d", p.spec.Info.ID, i)
		}
		out[i] = buf.String()
	}
	return out, nil
}

func (p *ProcessUnit) environ(inv *Invocation) []string {
	env := os.Environ()
	keys := make([]string, 0, len(p.spec.Env))
	for key := range p.spec.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+p.spec.Env[key])
	}
	env = append(env,
		EnvDossierPath+"="+inv.DossierPath,
		EnvArtifactRoot+"="+inv.ArtifactRoot,
		EnvRunID+"="+inv.RunID,
	)
	return env
}
