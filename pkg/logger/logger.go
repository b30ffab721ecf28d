// Package logger provides structured logging for the progress engine.
// It keeps a small field-based API and writes JSON lines through zerolog.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's levels.
type Level int8

const (
	LevelDebug = Level(zerolog.DebugLevel)
	LevelInfo  = Level(zerolog.InfoLevel)
	LevelWarn  = Level(zerolog.WarnLevel)
	LevelError = Level(zerolog.ErrorLevel)
)

func (l Level) String() string { return strings.ToUpper(zerolog.Level(l).String()) }

// ParseLevel accepts debug, info, warn/warning and error in any case.
// Anything else means info.
func ParseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	zl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || zl > zerolog.ErrorLevel {
		return LevelInfo
	}
	return Level(zl)
}

// Field is a key-value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field      { return Field{key, value} }
func Int(key string, value int) Field     { return Field{key, value} }
func Int64(key string, value int64) Field { return Field{key, value} }
func Bool(key string, value bool) Field   { return Field{key, value} }
func Any(key string, value any) Field     { return Field{key, value} }

// Duration renders d as a Go duration string ("1.5s").
func Duration(key string, d time.Duration) Field { return Field{key, d.String()} }

// Err is the "error" field; a nil err renders as null.
func Err(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

// Format selects the output encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Options configures New.
type Options struct {
	// Output defaults to stdout.
	Output io.Writer
	Level  Level
	Format Format

	// AddCaller adds file:line of the logging call.
	AddCaller bool
}

// Logger is an immutable zerolog logger; With returns a child.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger from opts.
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zctx := zerolog.New(out).Level(zerolog.Level(opts.Level)).With().Timestamp()
	if opts.AddCaller {
		// Skip write and the level method.
		zctx = zctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}
	return &Logger{zl: zctx.Logger()}
}

// Nop discards everything.
func Nop() *Logger { return &Logger{zl: zerolog.Nop()} }

// With returns a child logger that adds fields to every line.
func (l *Logger) With(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	return &Logger{zl: l.zl.With().Fields(pairs(fields)).Logger()}
}

// Enabled reports whether a line at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return zerolog.Level(level) >= l.zl.GetLevel()
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.write(l.zl.Error(), msg, fields) }

func (l *Logger) write(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(pairs(fields))
	}
	ev.Msg(msg)
}

func pairs(fields []Field) []any {
	kv := make([]any, 0, 2*len(fields))
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}

// ─────────────────────────────────────────────────────────────────────────────
// Context propagation
// ─────────────────────────────────────────────────────────────────────────────

type ctxKey struct{}

// WithContext attaches l to ctx.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

var fallback = sync.OnceValue(func() *Logger {
	return New(Options{Level: LevelInfo, Format: FormatJSON})
})

// FromContext returns the logger attached to ctx, or a stdout JSON logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return fallback()
}

// RequestIDKey names the request correlation field.
const RequestIDKey = "request_id"

// WithRequestID is With(String(RequestIDKey, id)).
func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(String(RequestIDKey, id))
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress-engine fields
// ─────────────────────────────────────────────────────────────────────────────

func LearnerID(id string) Field         { return String("learner_id", id) }
func ContentKind(kind string) Field     { return String("content_kind", kind) }
func ContentID(id string) Field         { return String("content_id", id) }
func QuizID(id string) Field            { return String("quiz_id", id) }
func AchievementID(id string) Field     { return String("achievement_id", id) }
func Attempt(n int) Field               { return Int("attempt", n) }
func Component(name string) Field       { return String("component", name) }
func Operation(name string) Field       { return String("operation", name) }
func Latency(d time.Duration) Field     { return Duration("latency", d) }
func RecordVersion(version int64) Field { return Int64("record_version", version) }
