package plugins

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/lending-autopilot/internal/dossier"
	"github.com/kingrea/lending-autopilot/internal/unit"
)

const shellUnit = `id: tagger
version: 0.2.0
command: sh
args:
  - -c
  - printf '{"tag":"%s","mode":"%s"}\n' "$AUTOPILOT_CONFIG_TAG" "$MODE" > "$DOSSIER_PATH"
env:
  MODE: strict
`

func TestRegisterProcessUnits(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tagger.yaml"), []byte(shellUnit), 0o644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	reg := unit.NewRegistry()
	ids, err := RegisterProcessUnits(reg, dir)
	if err != nil {
		t.Fatalf("register plugins: %v", err)
	}
	if len(ids) != 1 || ids[0] != "tagger" {
		t.Fatalf("unexpected ids %v", ids)
	}
	u, err := reg.Resolve("tagger", unit.Config{"tag": "priority", "nested": map[string]any{"x": 1}})
	if err != nil {
		t.Fatalf("resolve plugin: %v", err)
	}

	outcome := unit.NewRunner(t.TempDir()).Invoke(context.Background(), unit.Job{Unit: u}, dossier.New())
	if !outcome.Succeeded() {
		t.Fatalf("plugin failed: %s", outcome.Describe())
	}
	doc, err := dossier.LoadFile(outcome.SnapshotPath)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if doc.String("tag") != "priority" || doc.String("mode") != "strict" {
		t.Fatalf("unexpected snapshot %v", doc)
	}
}

func TestRegisterProcessUnitsRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("id: dup\nversion: 1.0.0\ncommand: run\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	_, err := RegisterProcessUnits(unit.NewRegistry(), dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate unit id dup") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestRegisterProcessUnitsCollidesWithBuiltin(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "kyb.yaml"), []byte("id: kyb\nversion: 1.0.0\ncommand: run\n"), 0o644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	reg := unit.NewRegistry()
	reg.MustRegister("kyb", func(unit.Config) (unit.Unit, error) { return nil, nil })
	if _, err := RegisterProcessUnits(reg, dir); err == nil {
		t.Fatalf("expected collision with registered id")
	}
}

func TestRegisterProcessUnitsMissingDir(t *testing.T) {
	ids, err := RegisterProcessUnits(unit.NewRegistry(), filepath.Join(t.TempDir(), "units"))
	if err != nil || ids != nil {
		t.Fatalf("missing dir should register nothing, got %v %v", ids, err)
	}
}
