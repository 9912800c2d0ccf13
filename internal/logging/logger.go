package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"
)

// FileName is the log file created inside the logs directory.
const FileName = "autopilot.log"

// Options configures New.
type Options struct {
	Level slog.Level
	// Console, when set, also receives every record in a compact
	// human-readable form.
	Console io.Writer
	// UseColor colours the level on the console.
	UseColor bool
}

// Logger appends structured records to .autopilot/logs/autopilot.log so users
// can inspect failed units after the run has ended.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates (or reuses) the log file inside logDir.
func New(logDir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "logging: ensure log dir")
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "logging: open log file")
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	handlers := []slog.Handler{slog.NewTextHandler(f, handlerOpts)}
	if opts.Console != nil {
		handlers = append(handlers, NewConsoleHandler(opts.Console, opts.Level, opts.UseColor))
	}
	return &Logger{Logger: slog.New(fanout(handlers)), file: f}, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a config value to a slog level. Unknown values are info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}

var levelStyles = map[slog.Level]lipgloss.Style{
	slog.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("#7F7F7F")),
	slog.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
	slog.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	slog.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")).Bold(true),
}

// ConsoleHandler prints "time LEVEL message key=value..." lines. Attributes
// are formatted by an inner text handler.
type ConsoleHandler struct {
	useColor bool
	inner    slog.Handler

	mu *sync.Mutex
	w  io.Writer
}

// NewConsoleHandler returns a handler writing compact lines to w.
func NewConsoleHandler(w io.Writer, level slog.Level, useColor bool) *ConsoleHandler {
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey || a.Key == slog.MessageKey) {
				return slog.Attr{}
			}
			return a
		},
	})
	return &ConsoleHandler{useColor: useColor, inner: inner, mu: &sync.Mutex{}, w: w}
}

func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf bytes.Buffer
	buf.WriteString(r.Time.Format(time.TimeOnly))
	buf.WriteString(" ")
	level := r.Level.String()
	if h.useColor {
		if style, ok := levelStyles[r.Level]; ok {
			level = style.Render(level)
		}
	}
	buf.WriteString(level)
	buf.WriteString(" ")
	buf.WriteString(r.Message)
	buf.WriteString(" ")

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return h.inner.Handle(ctx, r)
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ConsoleHandler{useColor: h.useColor, inner: h.inner.WithAttrs(attrs), mu: h.mu, w: h.w}
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	return &ConsoleHandler{useColor: h.useColor, inner: h.inner.WithGroup(name), mu: h.mu, w: h.w}
}
