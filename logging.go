// logging.go - structured logging interface for the gomain package.
//
// Package-level shape follows the teacher eventloop package's logging.go:
// a small Logger interface plus LogEntry/LogLevel types, kept independent
// of any particular backend, so callers can plug zerolog/logrus/slog via
// logiface the same way the teacher's test suite does. NewDefaultLogger
// wires logiface with the teacher's own stumpy JSON writer, so the package
// logs usefully out of the box.
package gomain

import (
	"sync"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// LogLevel is the severity of a LogEntry.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LogEntry is a single structured log record emitted by a Context, Loop,
// or builtin source.
type LogEntry struct {
	Level     LogLevel
	Category  string // "pollset", "source", "context"
	Source    string // the source's name, if any
	Fields    map[string]any
	Message   string
	Err       error
	Timestamp time.Time
}

// Logger is the structured logging sink used throughout gomain. Failures
// inside the iteration pipeline (Pending, Iteration, invoked functions
// and dispatch callbacks) are reported through this interface rather than
// returned; source and loop operations such as Attach, SetPriority,
// SetReadyTime and Loop.Run return sentinel errors instead.
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// noOpLogger discards everything; a Context built without WithLogger uses it.
type noOpLogger struct{}

func (noOpLogger) Log(LogEntry)          {}
func (noOpLogger) IsEnabled(LogLevel) bool { return false }

// NewNoOpLogger returns a Logger that discards all entries.
func NewNoOpLogger() Logger { return noOpLogger{} }

// logifaceLogger adapts a Logger onto a logiface.Logger[*stumpy.Event],
// following the adapter shape used by the teacher's own test suite
// (coverage_extra_test.go wires a minimal logiface.Event for exactly this
// purpose).
type logifaceLogger struct {
	mu sync.Mutex
	l  *logiface.Logger[*stumpy.Event]
}

func levelToLogiface(l LogLevel) logiface.Level {
	switch l {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func (x *logifaceLogger) IsEnabled(level LogLevel) bool {
	return x.l.Level() >= levelToLogiface(level)
}

func (x *logifaceLogger) Log(entry LogEntry) {
	if !x.IsEnabled(entry.Level) {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	b := x.l.Build(levelToLogiface(entry.Level))
	if b == nil {
		return
	}
	if entry.Category != "" {
		b = b.Str("category", entry.Category)
	}
	if entry.Source != "" {
		b = b.Str("source", entry.Source)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	for k, v := range entry.Fields {
		if s, ok := v.(string); ok {
			b = b.Str(k, s)
			continue
		}
		if i, ok := v.(int); ok {
			b = b.Int(k, i)
			continue
		}
	}
	b.Log(entry.Message)
}

// NewDefaultLogger builds a Logger backed by logiface + stumpy (the
// teacher's own JSON event writer), at the given minimum level.
func NewDefaultLogger(level LogLevel) Logger {
	l := stumpy.L.New(stumpy.WithStumpy(), logiface.WithLevel[*stumpy.Event](levelToLogiface(level)))
	return &logifaceLogger{l: l}
}
