package workflow

import (
	"bytes"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// ParseDefinitionYAML decodes a definition from YAML/JSON bytes.
func ParseDefinitionYAML(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, errors.New("workflow: definition payload is empty")
	}
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, errors.Wrap(err, "workflow: decode definition")
	}
	return def.Normalized()
}

// LoadDefinitionReader reads definition data from an io.Reader.
func LoadDefinitionReader(r io.Reader) (Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Definition{}, errors.Wrap(err, "workflow: read definition")
	}
	return ParseDefinitionYAML(content)
}

// LoadDefinitionFile loads a definition from an explicit file path.
func LoadDefinitionFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, errors.Wrapf(err, "workflow: read %s", path)
	}
	def, err := ParseDefinitionYAML(content)
	if err != nil {
		return Definition{}, errors.Wrapf(err, "workflow: %s", path)
	}
	return def, nil
}

// LoadOrDefault loads path when it is set and exists, falling back to Default.
func LoadOrDefault(path string) (Definition, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return LoadDefinitionFile(path)
}
