// Package workflow declares which units make up a run: one prerequisite unit
// followed by any number of parallel units, each bound to a merge policy.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-set/v2"

	"github.com/kingrea/lending-autopilot/internal/merge"
)

var validate = validator.New()

// Definition declares a two-stage composition of units.
type Definition struct {
	ID           string        `json:"id" yaml:"id" validate:"required"`
	Name         string        `json:"name,omitempty" yaml:"name,omitempty"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	Prerequisite UnitRef       `json:"prerequisite" yaml:"prerequisite"`
	Parallel     []UnitRef     `json:"parallel,omitempty" yaml:"parallel,omitempty" validate:"dive"`
	Runtime      RuntimeConfig `json:"runtime,omitempty" yaml:"runtime,omitempty"`
}

// RuntimeConfig configures execution constraints for a definition.
type RuntimeConfig struct {
	MaxParallel int           `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	UnitTimeout time.Duration `json:"unit_timeout,omitempty" yaml:"unit_timeout,omitempty"`
}

// UnitRef binds a unit to its merge policy and output location.
type UnitRef struct {
	ID        string        `json:"id,omitempty" yaml:"id,omitempty"`
	UnitID    string        `json:"unit" yaml:"unit" validate:"required"`
	Policy    string        `json:"policy" yaml:"policy" validate:"required"`
	OutputDir string        `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	Artifacts []string      `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Config    UnitConfig    `json:"config,omitempty" yaml:"config,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
}

// UnitConfig carries unit-specific overrides (opaque to the runtime).
type UnitConfig map[string]any

// Clone returns a shallow copy of the config map.
func (cfg UnitConfig) Clone() UnitConfig {
	if len(cfg) == 0 {
		return nil
	}
	clone := make(UnitConfig, len(cfg))
	for key, value := range cfg {
		clone[key] = value
	}
	return clone
}

// InstanceID returns the workflow-local identifier of the reference.
func (ref UnitRef) InstanceID() string {
	if ref.ID != "" {
		return ref.ID
	}
	return ref.UnitID
}

// Output returns the directory published artifacts land in, relative to the
// project root.
func (ref UnitRef) Output() string {
	if ref.OutputDir != "" {
		return ref.OutputDir
	}
	return ref.InstanceID()
}

// Clone returns a deep copy of the reference.
func (ref UnitRef) Clone() UnitRef {
	clone := ref
	clone.Artifacts = append([]string(nil), ref.Artifacts...)
	clone.Config = ref.Config.Clone()
	return clone
}

func (ref UnitRef) normalized() UnitRef {
	clone := ref.Clone()
	clone.ID = strings.TrimSpace(ref.ID)
	clone.UnitID = strings.TrimSpace(ref.UnitID)
	clone.Policy = strings.ToLower(strings.TrimSpace(ref.Policy))
	clone.OutputDir = strings.TrimSpace(ref.OutputDir)
	clone.Artifacts = nil
	for _, name := range ref.Artifacts {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			clone.Artifacts = append(clone.Artifacts, trimmed)
		}
	}
	return clone
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := def
	clone.Prerequisite = def.Prerequisite.Clone()
	if len(def.Parallel) > 0 {
		clone.Parallel = make([]UnitRef, len(def.Parallel))
		for i, ref := range def.Parallel {
			clone.Parallel[i] = ref.Clone()
		}
	}
	return clone
}

// Refs returns the prerequisite followed by the parallel units, which is also
// the merge order.
func (def Definition) Refs() []UnitRef {
	refs := make([]UnitRef, 0, 1+len(def.Parallel))
	refs = append(refs, def.Prerequisite)
	refs = append(refs, def.Parallel...)
	return refs
}

// Validate ensures the definition is self-consistent.
func (def Definition) Validate() error {
	if err := validate.Struct(def); err != nil {
		return errors.Wrapf(err, "workflow %s", def.ID)
	}
	seen := set.New[string](1 + len(def.Parallel))
	for idx, ref := range def.Refs() {
		label := "prerequisite"
		if idx > 0 {
			label = fmt.Sprintf("parallel[%d]", idx-1)
		}
		if !merge.Known(merge.PolicyName(ref.Policy)) {
			return errors.Wrapf(merge.ErrUnknownPolicy, "workflow %s %s: %q", def.ID, label, ref.Policy)
		}
		if !seen.Insert(ref.InstanceID()) {
			return errors.Newf("workflow %s: duplicate unit instance id %s", def.ID, ref.InstanceID())
		}
	}
	if def.Runtime.MaxParallel < 0 {
		return errors.Newf("workflow %s runtime: max_parallel must be >= 0", def.ID)
	}
	return nil
}

// Normalized trims the definition and validates the result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.ID = strings.TrimSpace(def.ID)
	clone.Name = strings.TrimSpace(def.Name)
	clone.Prerequisite = def.Prerequisite.normalized()
	for i, ref := range def.Parallel {
		clone.Parallel[i] = ref.normalized()
	}
	if clone.Runtime.MaxParallel < 0 {
		clone.Runtime.MaxParallel = 0
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}
