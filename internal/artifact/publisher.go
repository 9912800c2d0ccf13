package artifact

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cockroachdb/errors"
)

// ErrPublish marks a destination that could not be written.
var ErrPublish = errors.New("artifact: publish failed")

// Target names an artifact and the directory one consuming unit reads it from.
type Target struct {
	Unit string
	Ref  Ref
	Dir  string
}

// Published reports what happened to one target.
type Published struct {
	Target      Target
	Source      string
	Destination string
	Skipped     bool
}

// Publisher copies rendered artifacts from the document root to their
// consumers.
type Publisher struct {
	attempts uint
	delay    time.Duration
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

// WithAttempts bounds how many times a destination write is tried.
func WithAttempts(n uint) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithRetryDelay sets the base backoff between attempts.
func WithRetryDelay(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.delay = d
	}
}

// NewPublisher returns a publisher with three attempts per destination.
func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{attempts: 3, delay: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish copies each target's source file from root into its directory.
// Missing sources are reported as skipped. The first destination that still
// fails after retrying aborts the publish with ErrPublish.
func (p *Publisher) Publish(ctx context.Context, root string, targets []Target) ([]Published, error) {
	results := make([]Published, 0, len(targets))
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		source := target.Ref.Path(root)
		if source == "" {
			return results, errors.Mark(errors.Newf("artifact: %s has no file", target.Ref.ID), ErrPublish)
		}
		dir := target.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		destination := filepath.Join(dir, filepath.Base(target.Ref.File))
		result := Published{Target: target, Source: source, Destination: destination}

		if _, err := os.Stat(source); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				result.Skipped = true
				results = append(results, result)
				continue
			}
			return results, errors.Mark(errors.Wrapf(err, "artifact: stat %s", source), ErrPublish)
		}
		err := retry.Do(
			func() error { return copyFile(source, destination) },
			retry.Context(ctx),
			retry.Attempts(p.attempts),
			retry.Delay(p.delay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return results, errors.Mark(errors.Wrapf(err, "artifact: publish %s to %s", target.Ref.ID, destination), ErrPublish)
		}
		results = append(results, result)
	}
	return results, nil
}

func copyFile(source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(destination)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
