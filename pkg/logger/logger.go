// Package logger is the structured logger of the motivation hub: typed
// fields, JSON lines in production and key=value text on a terminal.
// Records are encoded by log/slog handlers.
package logger

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Level is a record severity.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError

	levelOff = slog.Level(64)
)

// ParseLevel maps debug, info, warn(ing) and error to a Level. Anything
// else is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects the line encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat returns FormatText for "text" in any case, else FormatJSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// Field is one structured key/value pair.
type Field = slog.Attr

func String(key, v string) Field          { return slog.String(key, v) }
func Int(key string, v int) Field         { return slog.Int(key, v) }
func Int64(key string, v int64) Field     { return slog.Int64(key, v) }
func Float64(key string, v float64) Field { return slog.Float64(key, v) }
func Bool(key string, v bool) Field       { return slog.Bool(key, v) }
func Any(key string, v any) Field         { return slog.Any(key, v) }

// Duration renders d as a Go duration string ("1.5s") in both formats.
func Duration(key string, d time.Duration) Field { return slog.String(key, d.String()) }

// Err records err under "error". A nil error is recorded as null.
func Err(err error) Field {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}

// Options configures New.
type Options struct {
	Output    io.Writer // default os.Stdout
	Format    Format    // default FormatJSON
	Level     Level
	AddSource bool
}

// Logger writes structured records. The zero value is not usable; build
// one with New, Default or Nop.
type Logger struct {
	h slog.Handler
}

// New creates a Logger.
func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}

	var h slog.Handler
	if opts.Format == FormatText {
		h = slog.NewTextHandler(opts.Output, ho)
	} else {
		h = slog.NewJSONHandler(opts.Output, ho)
	}
	return &Logger{h: h}
}

// Default writes info and above as JSON to stdout.
func Default() *Logger {
	return New(Options{Level: LevelInfo})
}

// Nop discards everything.
func Nop() *Logger {
	return New(Options{Output: io.Discard, Level: levelOff})
}

// With returns a child logger that adds fields to every record.
func (l *Logger) With(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	return &Logger{h: l.h.WithAttrs(fields)}
}

// WithRequestID tags records with the HTTP request id.
func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(String("request_id", id))
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }

// Enabled reports whether records at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l.h.Enabled(context.Background(), level)
}

func (l *Logger) log(level Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.h.Enabled(ctx, level) {
		return
	}
	// Skip runtime.Callers, log and the exported method so the source
	// attribute names the caller.
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(fields...)
	_ = l.h.Handle(ctx, r)
}

// StdLogger adapts l for APIs that want a *log.Logger, such as
// http.Server.ErrorLog. Lines are written at level.
func (l *Logger) StdLogger(level Level) *log.Logger {
	return slog.NewLogLogger(l.h, level)
}

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// Domain fields.
func StudentID(id string) Field     { return String("student_id", id) }
func MaterialID(id string) Field    { return String("material_id", id) }
func Mode(mode string) Field        { return String("mode", mode) }
func Priority(p string) Field       { return String("priority", p) }
func GroupCount(k int) Field        { return Int("group_count", k) }
func CohortSize(n int) Field        { return Int("cohort_size", n) }
func Fitness(f float64) Field       { return Float64("fitness", f) }
func Digest(d string) Field         { return String("digest", d) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
