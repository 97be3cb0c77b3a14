// Package rtlog wraps zerolog with the small level-gated facade the rest
// of the daemon depends on, in the shape of the teacher's pkg/common
// logger (NewLogger/SetLevel/Debug/Info/Warn/Error) but backed by a real
// structured-logging library instead of a hand-rolled one.
package rtlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog.Level so callers don't need to import zerolog directly.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// Logger is a thin facade over a zerolog.Logger carrying a component name.
type Logger struct {
	z zerolog.Logger
}

// New creates a Logger writing to w at the given level with a "component" field.
func New(w io.Writer, component string, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(w).With().Timestamp().Str("component", component).Logger().Level(level)
	return &Logger{z: z}
}

// Default returns a logger writing to stderr at info level.
func Default(component string) *Logger {
	return New(os.Stderr, component, InfoLevel)
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to
// a Level, defaulting to InfoLevel for anything unrecognized.
func ParseLevel(s string) Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return InfoLevel
	}
	return level
}

// With returns a derived logger with an additional structured field attached
// (e.g. the current agent name or tick count), without mutating the receiver.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

func (l *Logger) SetLevel(level Level) { l.z = l.z.Level(level) }

func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(l.z.Debug(), msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(l.z.Info(), msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(l.z.Warn(), msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(l.z.Error(), msg, kv...) }

// log applies trailing key/value pairs as structured fields before emitting.
func (l *Logger) log(ev *zerolog.Event, msg string, kv ...interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			ev = ev.Interface(key, kv[i+1])
		}
	}
	ev.Msg(msg)
}
