package plugins

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// DefinitionFile pairs a parsed unit definition with its on-disk source.
type DefinitionFile struct {
	Definition UnitDefinition
	Path       string
}

// Dir returns the directory relative paths in the definition resolve against.
func (f DefinitionFile) Dir() string {
	return filepath.Dir(f.Path)
}

// ParseDefinitionYAML decodes and validates a single unit definition payload.
// Unknown keys are rejected so typos surface at startup.
func ParseDefinitionYAML(data []byte) (UnitDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return UnitDefinition{}, errors.New("plugin: definition payload is empty")
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var def UnitDefinition
	if err := decoder.Decode(&def); err != nil {
		return UnitDefinition{}, errors.Wrap(err, "plugin: decode definition")
	}
	if err := def.Validate(); err != nil {
		return UnitDefinition{}, err
	}
	return def.Normalized(), nil
}

// LoadDefinitionFile reads a YAML file from disk and returns the parsed unit definition.
func LoadDefinitionFile(path string) (DefinitionFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return DefinitionFile{}, errors.Wrapf(err, "plugin: stat %s", path)
	}
	if info.IsDir() {
		return DefinitionFile{}, errors.Newf("plugin: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefinitionFile{}, errors.Wrapf(err, "plugin: read %s", path)
	}
	def, err := ParseDefinitionYAML(data)
	if err != nil {
		return DefinitionFile{}, errors.Wrapf(err, "plugin: %s", path)
	}
	return DefinitionFile{Definition: def, Path: filepath.Clean(path)}, nil
}

// LoadDefinitionDir scans a directory for *.yaml units and returns the parsed definitions.
// Missing directories are treated as "no plugins" to simplify startup.
func LoadDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "plugin: read %s", trimmed)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isYAMLFile(name) {
			continue
		}
		def, err := LoadDefinitionFile(filepath.Join(trimmed, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, nil
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
