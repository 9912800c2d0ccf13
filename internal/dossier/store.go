package dossier

import (
	"bytes"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// ErrMalformed marks a document that exists but is not a JSON object.
var ErrMalformed = errors.New("dossier: malformed document")

// Store loads and saves a dossier at a fixed path.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: filepath.Clean(path)}
}

// Path returns the file backing this store.
func (s *Store) Path() string {
	return s.path
}

// Load reads the dossier. A missing file yields an empty dossier.
func (s *Store) Load() (Dossier, error) {
	return LoadFile(s.path)
}

// Save writes the dossier pretty-printed with a trailing newline. The write
// goes through a sibling temp file and a rename so readers never observe a
// half-written document.
func (s *Store) Save(doc Dossier) error {
	return WriteFile(s.path, doc)
}

// LoadFile reads a dossier from path; a missing file yields an empty dossier.
func LoadFile(path string) (Dossier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return nil, errors.Wrapf(err, "dossier: read %s", path)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "dossier: %s", path)
	}
	return doc, nil
}

// WriteFile encodes doc and replaces path atomically.
func WriteFile(path string, doc Dossier) error {
	encoded, err := Encode(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "dossier: ensure dir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "dossier: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "dossier: write %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "dossier: close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "dossier: replace %s", path)
	}
	return nil
}

// Parse decodes a JSON object. Anything else is ErrMalformed. Numbers are
// kept as json.Number so values no unit touches are written back verbatim.
func Parse(data []byte) (Dossier, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.Mark(errors.New("dossier: document is not a JSON object"), ErrMalformed)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "dossier: decode"), ErrMalformed)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.Mark(errors.New("dossier: trailing data after document"), ErrMalformed)
	}
	return Dossier(doc), nil
}

// Encode renders doc as two-space indented JSON ending in a newline. HTML
// characters are written as is.
func Encode(doc Dossier) ([]byte, error) {
	if doc == nil {
		doc = New()
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return nil, errors.Wrap(err, "dossier: encode")
	}
	return buf.Bytes(), nil
}
