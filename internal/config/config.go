// internal/config/config.go
//
// This package handles configuration and the .autopilot directory structure.
// Every project that runs the autopilot gets a .autopilot/ folder created in
// its root.

package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".autopilot"

	// EnvDossier overrides the dossier path from the config file.
	EnvDossier = "AUTOPILOT_DOSSIER"

	defaultDossier = "company_dossier.json"
)

const defaultProjectConfigYAML = `# lending autopilot project configuration
version: 1

# The shared document every unit reads and augments. Relative to the project.
dossier: company_dossier.json

# Optional workflow definition. Empty uses the built-in lending composition.
# workflow: .autopilot/workflows/commercial-lending.yaml

# Parallel units never queue behind each other; this only raises the limit.
max_parallel: 0

# Bound on a single unit. A unit that runs longer is not merged.
unit_timeout: 5m

# What to do when a unit leaves behind something that is not a JSON object:
# skip (merge nothing, warn) or fail (abort before saving).
malformed_output: skip

# Attempts per artifact destination before publishing fails.
publish_attempts: 3

log_level: info

# Source documents read by the built-in units.
inputs:
  articles: docs/articles_inc.txt
  financials: docs/financials.txt
  transactions: logs/transaction_stream.log
  sanctions: data/sanctions_list.txt
`

var validate = validator.New()

// Inputs locates the source documents the built-in units analyse.
type Inputs struct {
	Articles     string `yaml:"articles"`
	Financials   string `yaml:"financials"`
	Transactions string `yaml:"transactions"`
	Sanctions    string `yaml:"sanctions"`
}

// ProjectConfig models .autopilot/config.yaml.
type ProjectConfig struct {
	Version         int           `yaml:"version" validate:"gte=1"`
	Dossier         string        `yaml:"dossier" validate:"required"`
	Workflow        string        `yaml:"workflow,omitempty"`
	MaxParallel     int           `yaml:"max_parallel" validate:"gte=0"`
	UnitTimeout     time.Duration `yaml:"unit_timeout" validate:"gte=0"`
	MalformedOutput string        `yaml:"malformed_output" validate:"oneof=skip fail"`
	PublishAttempts uint          `yaml:"publish_attempts" validate:"gte=1,lte=10"`
	LogLevel        string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	Inputs          Inputs        `yaml:"inputs"`
}

// Config holds the runtime configuration for one project.
type Config struct {
	// ProjectDir is the directory the autopilot runs against
	ProjectDir string

	// AutopilotDir is ProjectDir/.autopilot
	AutopilotDir string

	Project ProjectConfig
}

// InitDir creates the .autopilot directory structure in the given project
// directory and writes a default config.yaml when none exists.
//
// Structure created:
// .autopilot/
// ├── logs/       <- slog output and the run journal
// ├── state/      <- record of the latest run
// ├── units/      <- external unit declarations (*.yaml)
// └── workflows/  <- optional workflow definitions
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
		filepath.Join(root, "units"),
		filepath.Join(root, "workflows"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "config: create %s", dir)
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// Load reads the project config beneath projectDir. A missing config file
// yields the defaults.
func Load(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, errors.Wrapf(err, "config: resolve %s", projectDir)
	}
	cfg := &Config{
		ProjectDir:   abs,
		AutopilotDir: filepath.Join(abs, Dir),
		Project:      defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.AutopilotDir, "config.yaml")
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.AutopilotDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.AutopilotDir, "state")
}

// StatePath returns where the latest run record is written.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir(), "last_run.json")
}

// UnitsDir returns the directory scanned for external unit declarations.
func (c *Config) UnitsDir() string {
	return filepath.Join(c.AutopilotDir, "units")
}

// JournalPath returns the run journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "runs.log")
}

// DossierPath returns the dossier location. AUTOPILOT_DOSSIER wins over the
// config file.
func (c *Config) DossierPath() string {
	if override := strings.TrimSpace(os.Getenv(EnvDossier)); override != "" {
		return resolvePath(c.ProjectDir, override)
	}
	return c.Project.Dossier
}

// WorkflowPath returns the configured workflow definition, or "" for the
// built-in one.
func (c *Config) WorkflowPath() string {
	return c.Project.Workflow
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "config: stat %s", path)
	}
	if err := os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644); err != nil {
		return errors.Wrapf(err, "config: write %s", path)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Project.normalize(c.ProjectDir)
			return nil
		}
		return errors.Wrapf(err, "config: read %s", path)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return errors.Wrapf(err, "config: parse %s", path)
	}
	parsed.normalize(c.ProjectDir)
	if err := validate.Struct(parsed); err != nil {
		return errors.Wrapf(err, "config: %s", path)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:         1,
		Dossier:         defaultDossier,
		UnitTimeout:     5 * time.Minute,
		MalformedOutput: "skip",
		PublishAttempts: 3,
		LogLevel:        "info",
		Inputs: Inputs{
			Articles:     filepath.Join("docs", "articles_inc.txt"),
			Financials:   filepath.Join("docs", "financials.txt"),
			Transactions: filepath.Join("logs", "transaction_stream.log"),
			Sanctions:    filepath.Join("data", "sanctions_list.txt"),
		},
	}
}

func (pc *ProjectConfig) normalize(base string) {
	if strings.TrimSpace(pc.Dossier) == "" {
		pc.Dossier = defaultDossier
	}
	pc.Dossier = resolvePath(base, pc.Dossier)
	pc.Workflow = resolvePath(base, pc.Workflow)
	pc.MalformedOutput = strings.ToLower(strings.TrimSpace(pc.MalformedOutput))
	pc.LogLevel = strings.ToLower(strings.TrimSpace(pc.LogLevel))
	pc.Inputs.Articles = resolvePath(base, pc.Inputs.Articles)
	pc.Inputs.Financials = resolvePath(base, pc.Inputs.Financials)
	pc.Inputs.Transactions = resolvePath(base, pc.Inputs.Transactions)
	pc.Inputs.Sanctions = resolvePath(base, pc.Inputs.Sanctions)
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
