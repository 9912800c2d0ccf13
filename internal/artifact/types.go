// Package artifact handles the rendered documents units leave behind: the
// catalog of known artifacts, a frontmatter-stamped store for writing them and
// a publisher that distributes finished copies to each consumer's output dir.
package artifact

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind captures the storage shape of an artifact.
type Kind string

const (
	// KindDocument is a markdown document with YAML frontmatter.
	KindDocument Kind = "document"
	// KindPlain is copied verbatim with no provenance block.
	KindPlain Kind = "plain"
)

// Ref declares a stable identifier and file name for an artifact. File is
// relative to the document root.
type Ref struct {
	ID          string
	Name        string
	Description string
	File        string
	Kind        Kind
}

// Path resolves the artifact under root.
func (r Ref) Path(root string) string {
	if strings.TrimSpace(r.File) == "" {
		return ""
	}
	return filepath.Join(root, filepath.Clean(r.File))
}

// Validate ensures the reference is well-formed.
func (r Ref) Validate() error {
	if r.ID == "" {
		return errors.New("artifact: id is required")
	}
	if strings.TrimSpace(r.File) == "" {
		return errors.Newf("artifact: file is required for %s", r.ID)
	}
	if filepath.IsAbs(r.File) || strings.HasPrefix(filepath.Clean(r.File), "..") {
		return errors.Newf("artifact: %s must stay inside the document root", r.ID)
	}
	return nil
}

// Metadata captures provenance stored in artifact frontmatter.
type Metadata struct {
	ArtifactID string
	UnitID     string
	Version    string
	RunID      string
	Inputs     []string
	CreatedAt  time.Time
	Checksum   string
	Notes      map[string]string
}

// WithDefaults fills the artifact id and creation time.
func (m Metadata) WithDefaults(ref Ref, now time.Time) Metadata {
	clone := m
	if clone.ArtifactID == "" {
		clone.ArtifactID = ref.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now.UTC()
	} else {
		clone.CreatedAt = clone.CreatedAt.UTC()
	}
	return clone
}

// ValidateFor ensures metadata matches the artifact it describes.
func (m Metadata) ValidateFor(ref Ref) error {
	if m.ArtifactID != ref.ID {
		return errors.Newf("artifact: metadata id %s does not match ref %s", m.ArtifactID, ref.ID)
	}
	if m.UnitID == "" {
		return errors.Newf("artifact: unit id is required for %s", ref.ID)
	}
	if m.Version == "" {
		return errors.Newf("artifact: version is required for %s", ref.ID)
	}
	return nil
}

// State captures the readiness of an artifact on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult captures Store.Check results.
type CheckResult struct {
	Ref      Ref
	Path     string
	State    State
	Metadata *Metadata
	Err      error
}

var catalog = map[string]Ref{}

func register(ref Ref) Ref {
	catalog[ref.ID] = ref
	return ref
}

// Lookup returns a catalogued artifact by id or file name.
func Lookup(key string) (Ref, bool) {
	if ref, ok := catalog[key]; ok {
		return ref, true
	}
	for _, ref := range catalog {
		if ref.File == key {
			return ref, true
		}
	}
	return Ref{}, false
}

// Resolve returns the catalogued ref for key, or an ad-hoc plain ref that
// treats key as a file name.
func Resolve(key string) Ref {
	if ref, ok := Lookup(key); ok {
		return ref
	}
	return Ref{ID: key, Name: key, File: key, Kind: KindPlain}
}

// Documents produced by the built-in units.
var (
	CreditMemo = register(Ref{
		ID:          "credit-memo",
		Name:        "Credit Memo",
		Description: "Underwriting summary with financial spread and decision",
		File:        "Credit_Memo.md",
		Kind:        KindDocument,
	})
	SalesBrief = register(Ref{
		ID:          "sales-brief",
		Name:        "Sales Brief",
		Description: "Relationship manager brief listing cross-sell signals",
		File:        "Sales_Brief.md",
		Kind:        KindDocument,
	})
)
