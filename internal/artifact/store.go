package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// Store manages artifact IO rooted at the document root.
type Store struct {
	root string
	now  func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store rooted at root.
func NewStore(root string, opts ...StoreOption) *Store {
	store := &Store{
		root: filepath.Clean(root),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Root returns the document root.
func (s *Store) Root() string {
	return s.root
}

// Check inspects the artifact on disk and returns its status and metadata.
func (s *Store) Check(ref Ref) (CheckResult, error) {
	path := ref.Path(s.root)
	if path == "" {
		err := errors.Newf("artifact: %s path could not be resolved", ref.ID)
		return CheckResult{Ref: ref, State: StateError, Err: err}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CheckResult{Ref: ref, Path: path, State: StateMissing}, nil
		}
		return CheckResult{Ref: ref, Path: path, State: StateError, Err: err}, err
	}
	if ref.Kind == KindPlain {
		return CheckResult{Ref: ref, Path: path, State: StateReady}, nil
	}
	meta, body, err := ParseFrontMatter(data)
	if err != nil {
		return invalidResult(ref, path, err)
	}
	if meta.ArtifactID != ref.ID {
		return invalidResult(ref, path, errors.Newf("artifact: metadata id %s does not match %s", meta.ArtifactID, ref.ID))
	}
	if meta.Checksum != "" && meta.Checksum != checksum(body) {
		return invalidResult(ref, path, errors.Newf("artifact: %s checksum mismatch", ref.ID))
	}
	return CheckResult{Ref: ref, Path: path, State: StateReady, Metadata: &meta}, nil
}

// Write persists the artifact body. Documents get a provenance block with a
// checksum of the body.
func (s *Store) Write(ref Ref, body []byte, meta Metadata) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	path := ref.Path(s.root)
	if body == nil {
		body = []byte{}
	}
	content := body
	if ref.Kind != KindPlain {
		prepared := meta.WithDefaults(ref, s.now())
		prepared.Checksum = checksum(body)
		if err := prepared.ValidateFor(ref); err != nil {
			return "", err
		}
		rendered, err := WriteFrontMatter(prepared, body)
		if err != nil {
			return "", err
		}
		content = rendered
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, "artifact: ensure dir for %s", ref.ID)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", errors.Wrapf(err, "artifact: write %s", ref.ID)
	}
	return path, nil
}

// Read returns the metadata and body of a stored document.
func (s *Store) Read(ref Ref) (Metadata, []byte, error) {
	path := ref.Path(s.root)
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, nil, errors.Wrapf(err, "artifact: read %s", ref.ID)
	}
	if ref.Kind == KindPlain {
		return Metadata{ArtifactID: ref.ID}, data, nil
	}
	return ParseFrontMatter(data)
}

func invalidResult(ref Ref, path string, err error) (CheckResult, error) {
	return CheckResult{Ref: ref, Path: path, State: StateInvalid, Err: err}, err
}

func checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
