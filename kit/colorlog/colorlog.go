// Package colorlog provides a labelled slog handler that writes one colored
// line per record. Color is enabled automatically when the output is a
// terminal and NO_COLOR is unset.
package colorlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorGray   = "\033[37m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBlue   = "\033[34m"
)

const timeLayout = "2006/01/02 15:04:05"

type Options struct {
	Output   io.Writer
	Level    slog.Leveler
	UseColor *bool // nil = auto-detect
}

type Handler struct {
	label  string
	out    io.Writer
	level  slog.Leveler
	mu     *sync.Mutex // shared across clones so lines never interleave
	attrs  []slog.Attr
	prefix string // dotted group prefix, e.g. "a.b."
	color  bool
}

// New returns a logger whose records are tagged with label.
func New(label string, opts ...Options) *slog.Logger {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Output == nil {
		o.Output = os.Stdout
	}
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	return slog.New(&Handler{
		label: label,
		out:   o.Output,
		level: o.Level,
		mu:    &sync.Mutex{},
		color: detectColor(o.Output, o.UseColor),
	})
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func detectColor(w io.Writer, override *bool) bool {
	if override != nil {
		return *override
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder

	sb.WriteString(h.paint(colorGray, r.Time.Format(timeLayout)))
	sb.WriteString("  (")
	sb.WriteString(h.paint(colorBlue, h.label))
	sb.WriteString(")  ")
	sb.WriteString(h.paint(levelColor(r.Level), levelPrefix(r.Level)+r.Message))

	n := 0
	writeAttr := func(a slog.Attr) {
		if n == 0 {
			sb.WriteString("  ")
		} else {
			sb.WriteString(" ")
		}
		n++
		sb.WriteString(h.paint(colorGray, "["+a.Key+"="))
		fmt.Fprintf(&sb, "%v", a.Value.Any())
		sb.WriteString(h.paint(colorGray, "]"))
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func (h *Handler) paint(color, s string) string {
	if !h.color {
		return s
	}
	return color + s + colorReset
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorCyan
	default:
		return colorGray
	}
}

func levelPrefix(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR  "
	case level >= slog.LevelWarn:
		return "WARNING  "
	case level >= slog.LevelInfo:
		return ""
	default:
		return "DEBUG  "
	}
}
