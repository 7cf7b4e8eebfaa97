// Package klog provides the kernel's structured logging output: a
// hand-written slog.Handler formatting each record as a labeled block
// (timestamp, level, source, function, message, then attributes such
// as the subsystem tag) rather
// than slog's default single-line text, so kernel traces read cleanly
// on a console that has no terminal history to scroll back through.
package klog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	// DefaultLogger is the kernel's global logger. Subsystems call
	// DefaultLogger once at init and cache the result; the default
	// does not change at runtime.
	DefaultLogger = func() *Logger { return NewFormattedLogger(os.Stderr) }

	// SetDefault replaces log/slog's package-level default logger. It
	// does not change what DefaultLogger returns, nor loggers already
	// derived from it.
	SetDefault = slog.SetDefault

	// Level is the live log level; cmd/kernel's -loglevel flag sets
	// this directly.
	Level = &slog.LevelVar{}
)

// NewFormattedLogger returns a logger writing through a Handler to out.
func NewFormattedLogger(out io.Writer) *Logger {
	return slog.New(NewHandler(out))
}

// Handler implements slog.Handler, formatting each record as a block
// of labeled lines rather than slog's default single-line text.
type Handler struct {
	mut *sync.Mutex
	out io.Writer

	opts  *slog.HandlerOptions
	group string
	attrs []Attr
}

// Options configures every Handler created by NewHandler.
var Options = &slog.HandlerOptions{
	AddSource:   true,
	Level:       Level,
	ReplaceAttr: func(_ []string, attr Attr) Attr { return attr },
}

// NewHandler creates a Handler writing to out.
func NewHandler(out io.Writer) *Handler {
	return &Handler{out: out, mut: new(sync.Mutex), opts: Options}
}

// Enabled reports whether level passes the handler's configured floor.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle formats and writes one log record.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	buf := make([]byte, 0, 4096)
	out := bytes.NewBuffer(buf)

	if !rec.Time.IsZero() {
		fmt.Fprintf(out, "%10s : %s\n", "TIMESTAMP", rec.Time.Format(time.RFC3339Nano))
	}
	fmt.Fprintf(out, "%10s : %s\n", "LEVEL", rec.Level.String())

	if h.opts.AddSource && rec.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{rec.PC})
		f, _ := frames.Next()
		_, file := path.Split(f.File)
		fmt.Fprintf(out, "%10s : %s:%d\n", "SOURCE", file, f.Line)
		if f.Func != nil {
			splits := strings.Split(f.Function, "/")
			fmt.Fprintf(out, "%10s : %s\n", "FUNCTION", splits[len(splits)-1])
		}
	}

	fmt.Fprintf(out, "%10s : %s\n", "MESSAGE", rec.Message)

	for _, a := range h.attrs {
		if err := h.appendAttr(out, a, false); err != nil {
			return err
		}
	}
	var attrErr error
	rec.Attrs(func(attr Attr) bool {
		if err := h.appendAttr(out, attr, false); err != nil {
			attrErr = err
			return false
		}
		return true
	})
	if attrErr != nil {
		return attrErr
	}

	fmt.Fprintln(out)

	h.mut.Lock()
	defer h.mut.Unlock()
	_, err := h.out.Write(out.Bytes())
	return err
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	attrs := make([]Attr, len(h.attrs))
	copy(attrs, h.attrs)
	return &Handler{mut: h.mut, out: h.out, opts: h.opts, attrs: attrs, group: name}
}

// WithAttrs returns a handler that also carries attrs on every record.
func (h *Handler) WithAttrs(attrs []Attr) slog.Handler {
	as := make([]Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(as, h.attrs)
	as = append(as, attrs...)
	return &Handler{out: h.out, mut: h.mut, opts: h.opts, attrs: as}
}

func (h *Handler) appendAttr(out io.Writer, attr slog.Attr, grouped bool) error {
	attr.Value = attr.Value.Resolve()
	attr = h.opts.ReplaceAttr([]string{h.group}, attr)
	key, value := strings.ToUpper(attr.Key), attr.Value

	switch {
	case attr.Equal(Attr{}):
		return nil
	case value.Kind() != slog.KindGroup:
		if grouped {
			fmt.Fprint(out, "  ")
		}
		_, err := fmt.Fprintf(out, "%10s : %v\n", key, value.Any())
		return err
	case key != "":
		if _, err := fmt.Fprintf(out, "%10s :\n", key); err != nil {
			return err
		}
		h.group = key
		for _, a := range value.Group() {
			if err := h.appendAttr(out, a, true); err != nil {
				return err
			}
		}
	default:
		for _, a := range value.Group() {
			if err := h.appendAttr(out, a, grouped); err != nil {
				return err
			}
		}
	}
	return nil
}

// Subsystem returns a logger tagged with the given kernel subsystem
// name, e.g. klog.Subsystem(klog.DefaultLogger(), "sched").
func Subsystem(l *Logger, name string) *Logger {
	return l.With(String("subsystem", name))
}

type (
	Attr   = slog.Attr
	Logger = slog.Logger
	Value  = slog.Value
)

var (
	String      = slog.String
	StringValue = slog.StringValue
	Group       = slog.Group
	GroupValue  = slog.GroupValue
	Any         = slog.Any
	AnyValue    = slog.AnyValue
)

const (
	Debug = slog.LevelDebug
	Info  = slog.LevelInfo
	Warn  = slog.LevelWarn
	Error = slog.LevelError
)
