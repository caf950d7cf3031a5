// package logger is a package that provides a structured logger that's
// context.Context aware.
package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

// Level is the severity of a log line.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	CRIT
)

var levelNames = map[Level]string{
	DEBUG: "debug",
	INFO:  "info",
	WARN:  "warn",
	ERROR: "error",
	CRIT:  "crit",
}

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "unknown"
}

// ParseLevel converts a level name to a Level. Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "crit", "critical":
		return CRIT
	default:
		return INFO
	}
}

// Logger represents a structured leveled logger.
type Logger interface {
	Debug(msg string, pairs ...interface{})
	Info(msg string, pairs ...interface{})
	Warn(msg string, pairs ...interface{})
	Error(msg string, pairs ...interface{})
	Crit(msg string, pairs ...interface{})
	With(pairs ...interface{}) Logger
}

// DefaultLogger is used by the package level functions when the context does
// not carry a Logger.
var DefaultLogger Logger = New(log.New(os.Stdout, "", 0), INFO)

// logger is an implementation of the Logger interface backed by the stdlib's
// logging facility.
type logger struct {
	*log.Logger
	level  Level
	fields []interface{}
}

// New wraps the log.Logger to implement the Logger interface. Lines below
// level are dropped.
func New(l *log.Logger, level Level) Logger {
	return &logger{
		Logger: l,
		level:  level,
	}
}

// Log logs the pairs in logfmt. It will treat consecutive arguments as a key
// value pair. Given the input:
//
//	l.Log(INFO, "message", "key", "value")
//
// The output will be:
//
//	status=info message key=value
func (l *logger) Log(level Level, msg string, pairs ...interface{}) {
	if level < l.level {
		return
	}
	all := append(append([]interface{}{}, l.fields...), pairs...)
	l.Printf("status=%s %s %s", level, msg, message(all...))
}

func (l *logger) Debug(msg string, pairs ...interface{}) { l.Log(DEBUG, msg, pairs...) }
func (l *logger) Info(msg string, pairs ...interface{})  { l.Log(INFO, msg, pairs...) }
func (l *logger) Warn(msg string, pairs ...interface{})  { l.Log(WARN, msg, pairs...) }
func (l *logger) Error(msg string, pairs ...interface{}) { l.Log(ERROR, msg, pairs...) }
func (l *logger) Crit(msg string, pairs ...interface{})  { l.Log(CRIT, msg, pairs...) }

// With returns a Logger that prefixes every line with the given pairs.
func (l *logger) With(pairs ...interface{}) Logger {
	return &logger{
		Logger: l.Logger,
		level:  l.level,
		fields: append(append([]interface{}{}, l.fields...), pairs...),
	}
}

func message(pairs ...interface{}) string {
	if len(pairs) == 1 {
		return fmt.Sprintf("%v", pairs[0])
	}

	var parts []string

	for i := 0; i < len(pairs); i += 2 {
		// This conditional means that the pairs are uneven and we've
		// reached the end of iteration. We treat the last value as a
		// simple string message. Given an input pair as:
		//
		//	["key", "value", "message"]
		//
		// The output will be:
		//
		//	key=value message
		if len(pairs) == i+1 {
			parts = append(parts, fmt.Sprintf("%v", pairs[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%v", pairs[i], pairs[i+1]))
		}
	}

	return strings.Join(parts, " ")
}

// WithLogger inserts a Logger into the provided context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns a Logger from the context.
func FromContext(ctx context.Context) (Logger, bool) {
	l, ok := ctx.Value(loggerKey).(Logger)
	return l, ok
}

func Debug(ctx context.Context, msg string, pairs ...interface{}) {
	withLogger(ctx, func(l Logger) {
		l.Debug(msg, pairs...)
	})
}

func Info(ctx context.Context, msg string, pairs ...interface{}) {
	withLogger(ctx, func(l Logger) {
		l.Info(msg, pairs...)
	})
}

func Warn(ctx context.Context, msg string, pairs ...interface{}) {
	withLogger(ctx, func(l Logger) {
		l.Warn(msg, pairs...)
	})
}

func Error(ctx context.Context, msg string, pairs ...interface{}) {
	withLogger(ctx, func(l Logger) {
		l.Error(msg, pairs...)
	})
}

func Crit(ctx context.Context, msg string, pairs ...interface{}) {
	withLogger(ctx, func(l Logger) {
		l.Crit(msg, pairs...)
	})
}

// FromContextOrDefault returns the context's Logger, or DefaultLogger.
func FromContextOrDefault(ctx context.Context) Logger {
	if l, ok := FromContext(ctx); ok {
		return l
	}
	return DefaultLogger
}

func withLogger(ctx context.Context, fn func(l Logger)) {
	if l := FromContextOrDefault(ctx); l != nil {
		fn(l)
	}
}

type key int

const (
	loggerKey key = iota
)
