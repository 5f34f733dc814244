// Package logging holds the process-wide log sink shared by every
// renderable node: an optional host write function, a passthrough to
// the system log (stderr), a minimum level and a trace writer.
//
// The state is replaced as a whole on each (re)initialization, so that
// concurrent loggers always observe a consistent configuration.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the severity of a log record, as understood by host sinks.
type Level int8

const (
	Verbose Level = iota
	Debug
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Verbose:
		return "verbose"
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("<unknown Level %d>", int8(l))
	}
}

// ParseLevel is the inverse of [Level.String]. The empty string maps to [Info].
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "verbose":
		return Verbose, nil
	case "debug":
		return Debug, nil
	case "", "info":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	}
	return Info, fmt.Errorf("logging: unknown level %q", s)
}

func (l Level) toSlog() slog.Level {
	switch l {
	case Verbose:
		return slog.LevelDebug - 4
	case Debug:
		return slog.LevelDebug
	case Warn:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelDebug:
		return Verbose
	case l < slog.LevelInfo:
		return Debug
	case l < slog.LevelWarn:
		return Info
	case l < slog.LevelError:
		return Warn
	default:
		return Error
	}
}

// WriteFunc receives every enabled record when installed with
// [InitWriteFunction]. tag is the component name given to [For].
type WriteFunc func(level Level, tag, msg string)

// TraceWriter receives the begin and end of traced sections.
type TraceWriter interface {
	BeginSection(name string)
	EndSection(name string)
}

// TraceFuncs adapts two functions to a [TraceWriter].
type TraceFuncs struct {
	Begin, End func(name string)
}

func (t TraceFuncs) BeginSection(name string) {
	if t.Begin != nil {
		t.Begin(name)
	}
}

func (t TraceFuncs) EndSection(name string) {
	if t.End != nil {
		t.End(name)
	}
}

type sink struct {
	write  WriteFunc
	sysLog bool
	trace  TraceWriter
}

var (
	current  atomic.Pointer[sink]
	minLevel slog.LevelVar

	// filtering is done by minLevel, so the system handler accepts everything
	sysBase slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug - 4})
)

func init() {
	current.Store(&sink{sysLog: true})
	minLevel.Set(slog.LevelInfo)
}

func update(fn func(s *sink)) {
	for {
		old := current.Load()
		s := *old
		fn(&s)
		if current.CompareAndSwap(old, &s) {
			return
		}
	}
}

// InitWriteFunction installs the host log sink, replacing any previous one.
// A nil function disables host forwarding.
func InitWriteFunction(fn WriteFunc) {
	update(func(s *sink) { s.write = fn })
}

// UseSysLog toggles the passthrough of records to the system log.
func UseSysLog(enable bool) {
	update(func(s *sink) { s.sysLog = enable })
}

// SetMinLogLevel drops every record below l.
func SetMinLogLevel(l Level) { minLevel.Set(l.toSlog()) }

// MinLogLevel returns the current minimum level.
func MinLogLevel() Level { return fromSlog(minLevel.Level()) }

// InitTraceWriter installs the trace sink, replacing any previous one.
// A nil writer disables tracing.
func InitTraceWriter(w TraceWriter) {
	update(func(s *sink) { s.trace = w })
}

// Trace opens the section name on the current trace writer and returns
// the function closing it. It is cheap when no writer is installed.
func Trace(name string) (end func()) {
	w := current.Load().trace
	if w == nil {
		return func() {}
	}
	w.BeginSection(name)
	return func() { w.EndSection(name) }
}

// Logger returns the untagged process logger.
func Logger() *slog.Logger { return For("") }

// For returns a logger whose records carry the component tag.
func For(component string) *slog.Logger {
	sys := sysBase
	if component != "" {
		sys = sys.WithAttrs([]slog.Attr{slog.String("tag", component)})
	}
	return slog.New(&handler{tag: component, sys: sys})
}

// handler routes records to the current sink.
type handler struct {
	tag   string
	group string
	attrs string // preformatted attributes added by WithAttrs
	sys   slog.Handler
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= minLevel.Level()
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	s := current.Load()
	if s.write != nil {
		var b strings.Builder
		b.WriteString(r.Message)
		b.WriteString(h.attrs)
		r.Attrs(func(a slog.Attr) bool {
			appendAttr(&b, h.group, a)
			return true
		})
		s.write(fromSlog(r.Level), h.tag, b.String())
	}
	if s.sysLog {
		return h.sys.Handle(ctx, r)
	}
	return nil
}

func (h *handler) WithAttrs(as []slog.Attr) slog.Handler {
	out := *h
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range as {
		appendAttr(&b, h.group, a)
	}
	out.attrs = b.String()
	out.sys = h.sys.WithAttrs(as)
	return &out
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	if out.group != "" {
		out.group += "." + name
	} else {
		out.group = name
	}
	out.sys = h.sys.WithGroup(name)
	return &out
}

func appendAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := a.Key
		if group != "" {
			sub = group + "." + a.Key
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, sub, ga)
		}
		return
	}
	b.WriteByte(' ')
	if group != "" {
		b.WriteString(group)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}
