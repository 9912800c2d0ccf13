package artifact

import (
	"bytes"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// ParseFrontMatter splits a document into its provenance block and body.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	head, body, found := bytes.Cut(normalized[4:], []byte("\n---\n"))
	if !found {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	var envelope provenanceEnvelope
	if err := yaml.Unmarshal(head, &envelope); err != nil {
		return Metadata{}, nil, errors.Mark(errors.Wrap(err, "artifact: parse frontmatter"), ErrMalformedFrontMatter)
	}
	meta, err := envelope.metadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, bytes.TrimPrefix(body, []byte("\n")), nil
}

// WriteFrontMatter renders metadata and body with YAML fences.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.ArtifactID == "" {
		return nil, errors.New("artifact: metadata missing artifact id")
	}
	data, err := yaml.Marshal(newEnvelope(meta))
	if err != nil {
		return nil, errors.Wrap(err, "artifact: encode frontmatter")
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type provenanceEnvelope struct {
	Autopilot provenance `yaml:"autopilot"`
}

type provenance struct {
	Artifact string            `yaml:"artifact"`
	Unit     string            `yaml:"unit"`
	Version  string            `yaml:"version"`
	Run      string            `yaml:"run,omitempty"`
	Inputs   []string          `yaml:"inputs,omitempty"`
	Created  string            `yaml:"created"`
	Checksum string            `yaml:"checksum,omitempty"`
	Notes    map[string]string `yaml:"notes,omitempty"`
}

func newEnvelope(meta Metadata) provenanceEnvelope {
	return provenanceEnvelope{Autopilot: provenance{
		Artifact: meta.ArtifactID,
		Unit:     meta.UnitID,
		Version:  meta.Version,
		Run:      meta.RunID,
		Inputs:   append([]string(nil), meta.Inputs...),
		Created:  meta.CreatedAt.UTC().Format(time.RFC3339),
		Checksum: meta.Checksum,
		Notes:    cloneNotes(meta.Notes),
	}}
}

func (e provenanceEnvelope) metadata() (Metadata, error) {
	p := e.Autopilot
	if p.Artifact == "" || p.Unit == "" || p.Version == "" {
		return Metadata{}, ErrMalformedFrontMatter
	}
	if strings.TrimSpace(p.Created) == "" {
		return Metadata{}, errors.Mark(errors.New("artifact: empty created timestamp"), ErrMalformedFrontMatter)
	}
	created, err := time.Parse(time.RFC3339, p.Created)
	if err != nil {
		return Metadata{}, errors.Mark(errors.Wrap(err, "artifact: parse created timestamp"), ErrMalformedFrontMatter)
	}
	return Metadata{
		ArtifactID: p.Artifact,
		UnitID:     p.Unit,
		Version:    p.Version,
		RunID:      p.Run,
		Inputs:     append([]string(nil), p.Inputs...),
		CreatedAt:  created.UTC(),
		Checksum:   p.Checksum,
		Notes:      cloneNotes(p.Notes),
	}, nil
}

func cloneNotes(notes map[string]string) map[string]string {
	if len(notes) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(notes))
	for k, v := range notes {
		cloned[k] = v
	}
	return cloned
}
