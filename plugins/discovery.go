// Package plugins loads externally defined units. Each YAML file under
// .autopilot/units declares a command that is run as a process unit.
package plugins

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kingrea/lending-autopilot/internal/unit"
)

// EnvConfigPrefix prefixes the environment variables that carry a workflow's
// per-unit config into a process unit.
const EnvConfigPrefix = "AUTOPILOT_CONFIG_"

// RegisterProcessUnits discovers definitions under dir and registers one
// factory per definition. It returns the ids it registered.
func RegisterProcessUnits(reg *unit.Registry, dir string) ([]string, error) {
	if reg == nil {
		return nil, nil
	}
	defs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]string, len(defs))
	var ids []string
	for _, file := range defs {
		def := file.Definition
		if existing, ok := seen[def.ID]; ok {
			return nil, errors.Newf("plugin: duplicate unit id %s (%s and %s)", def.ID, existing, file.Path)
		}
		seen[def.ID] = file.Path
		spec := def.ProcessSpec(file.Dir())
		if err := reg.Register(def.ID, func(cfg unit.Config) (unit.Unit, error) {
			return unit.NewProcessUnit(withConfig(spec, cfg))
		}); err != nil {
			return nil, errors.Wrapf(err, "plugin: register %s from %s", def.ID, file.Path)
		}
		ids = append(ids, def.ID)
	}
	return ids, nil
}

// withConfig exports scalar config values as AUTOPILOT_CONFIG_<KEY>. Values
// declared in the definition's env win.
func withConfig(spec unit.ProcessSpec, cfg unit.Config) unit.ProcessSpec {
	if len(cfg) == 0 {
		return spec
	}
	env := make(map[string]string, len(spec.Env)+len(cfg))
	for key, raw := range cfg {
		value, ok := scalar(raw)
		if !ok {
			continue
		}
		name := EnvConfigPrefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
		env[name] = value
	}
	for key, value := range spec.Env {
		env[key] = value
	}
	spec.Env = env
	return spec
}

func scalar(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool, int, int64, float64:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}
