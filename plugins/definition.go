package plugins

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kingrea/lending-autopilot/internal/artifact"
	"github.com/kingrea/lending-autopilot/internal/unit"
)

// UnitDefinition describes an external command registered as a unit.
//
// The struct mirrors the on-disk schema under .autopilot/units/*.yaml. The
// command receives the snapshot path in DOSSIER_PATH and must rewrite that
// file in place.
type UnitDefinition struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Version     string            `yaml:"version"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Dir         string            `yaml:"dir,omitempty"`
	Artifacts   []string          `yaml:"artifacts,omitempty"`
}

// Normalized returns a trimmed, copy-on-write variant of the definition.
// Name defaults to the id.
func (def UnitDefinition) Normalized() UnitDefinition {
	clone := UnitDefinition{
		ID:          strings.TrimSpace(def.ID),
		Name:        strings.TrimSpace(def.Name),
		Description: strings.TrimSpace(def.Description),
		Version:     strings.TrimSpace(def.Version),
		Command:     strings.TrimSpace(def.Command),
		Dir:         strings.TrimSpace(def.Dir),
	}
	if clone.Name == "" {
		clone.Name = clone.ID
	}
	if len(def.Args) > 0 {
		clone.Args = append([]string(nil), def.Args...)
	}
	if len(def.Env) > 0 {
		clone.Env = make(map[string]string, len(def.Env))
		for key, value := range def.Env {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Env[trimmed] = value
		}
	}
	for _, name := range def.Artifacts {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			clone.Artifacts = append(clone.Artifacts, trimmed)
		}
	}
	return clone
}

// Validate ensures the definition can be turned into a process unit.
func (def UnitDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return errors.New("plugin: id is required")
	}
	if normalized.Version == "" {
		return errors.Newf("plugin %s: version is required", normalized.ID)
	}
	if normalized.Command == "" {
		return errors.Newf("plugin %s: command is required", normalized.ID)
	}
	seen := make(map[string]struct{}, len(normalized.Artifacts))
	for idx, name := range normalized.Artifacts {
		if err := artifact.Resolve(name).Validate(); err != nil {
			return errors.Wrapf(err, "plugin %s: artifacts[%d]", normalized.ID, idx)
		}
		if _, exists := seen[name]; exists {
			return errors.Newf("plugin %s: artifacts[%d]: duplicate artifact %s", normalized.ID, idx, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ProcessSpec converts the definition into a runnable spec. Relative command
// paths and working directories are anchored at base, the directory holding
// the definition file. A bare command name is left for PATH lookup.
func (def UnitDefinition) ProcessSpec(base string) unit.ProcessSpec {
	normalized := def.Normalized()
	command := normalized.Command
	if !filepath.IsAbs(command) && strings.ContainsRune(command, filepath.Separator) && base != "" {
		command = filepath.Join(base, command)
	}
	dir := normalized.Dir
	if dir != "" && !filepath.IsAbs(dir) && base != "" {
		dir = filepath.Join(base, dir)
	}
	return unit.ProcessSpec{
		Info: unit.Info{
			ID:          normalized.ID,
			Name:        normalized.Name,
			Description: normalized.Description,
			Version:     normalized.Version,
		},
		Command:   command,
		Args:      normalized.Args,
		Env:       normalized.Env,
		Dir:       dir,
		Artifacts: normalized.Artifacts,
	}
}
