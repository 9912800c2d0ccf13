// cmd/unit-runner/main.go
//
// Runs a single built-in unit against the snapshot named by $DOSSIER_PATH.
// This is what an external unit declaration points at when it wants a
// built-in analysis to run as its own process:
//
//	command: unit-runner
//	args: ["--unit", "risk", "--set", "financials=docs/q3.txt"]

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/lending-autopilot/internal/config"
	"github.com/kingrea/lending-autopilot/internal/unit"
	"github.com/kingrea/lending-autopilot/internal/units"
)

func main() {
	unitID := flag.String("unit", "", "unit identifier to execute (e.g. risk)")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	configFile := flag.String("config-file", "", "path to YAML file with unit config overrides")
	sets := keyValueFlag{}
	flag.Var(&sets, "set", "unit config override (key=value, repeatable)")
	flag.Parse()

	if strings.TrimSpace(*unitID) == "" {
		die(2, "--unit is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, strings.TrimSpace(*unitID), *projectDir, *configFile, sets); err != nil {
		code := unit.ExitCode(err)
		if code == 0 {
			code = 1
		}
		die(code, "%s: %v", *unitID, err)
	}
}

func run(ctx context.Context, id, projectDir, configFile string, sets keyValueFlag) error {
	dossierPath := strings.TrimSpace(os.Getenv(unit.EnvDossierPath))
	if dossierPath == "" {
		return errors.Newf("%s is not set", unit.EnvDossierPath)
	}
	if projectDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return errors.Wrap(err, "determine working directory")
		}
		projectDir = cwd
	}
	cfg, err := config.Load(projectDir)
	if err != nil {
		return err
	}

	reg := unit.NewRegistry()
	if err := units.RegisterBuiltins(reg, cfg.Project.Inputs); err != nil {
		return err
	}
	overrides, err := buildUnitConfig(configFile, sets)
	if err != nil {
		return err
	}
	u, err := reg.Resolve(id, overrides)
	if err != nil {
		return err
	}

	artifactRoot := strings.TrimSpace(os.Getenv(unit.EnvArtifactRoot))
	if artifactRoot == "" {
		artifactRoot = cfg.ProjectDir
	}
	return u.Run(ctx, &unit.Invocation{
		DossierPath:  dossierPath,
		ArtifactRoot: artifactRoot,
		RunID:        os.Getenv(unit.EnvRunID),
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
	})
}

func die(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(code)
}

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return errors.Newf("expected key=value, got %q", value)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.Newf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = val
	return nil
}

// buildUnitConfig layers --set pairs over the config file.
func buildUnitConfig(configFile string, overrides keyValueFlag) (unit.Config, error) {
	cfg := unit.Config{}
	if path := strings.TrimSpace(configFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}
	for key, value := range overrides {
		cfg[key] = value
	}
	if len(cfg) == 0 {
		return nil, nil
	}
	return cfg, nil
}
