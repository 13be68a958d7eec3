// Package logx provides the logger interface used across the conduit runtime.
package logx

import (
	"log"
	"os"
	"sync"
)

// Level controls which messages a logger emits.
type Level int

// Log levels, lowest to highest severity.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger defines the interface for logging. All runtime components log
// through this interface, never through a package-level global.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	SetLevel(level Level)
}

// DefaultLogger provides a basic logger implementation using the standard
// log package, writing to stderr.
type DefaultLogger struct {
	logger *log.Logger
	level  Level
	mu     sync.Mutex
}

// NewDefaultLogger creates a new logger writing to stderr with standard flags.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "[conduit] ", log.LstdFlags|log.Lmsgprefix),
		level:  LevelInfo,
	}
}

// NewLoggerWithPrefix creates a stderr logger with a custom prefix, typically
// the server name so interleaved connection logs stay attributable.
func NewLoggerWithPrefix(prefix string) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "["+prefix+"] ", log.LstdFlags|log.Lmsgprefix),
		level:  LevelInfo,
	}
}

func (l *DefaultLogger) enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

// Debug logs a debug message.
func (l *DefaultLogger) Debug(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.logger.Printf("DEBUG: "+format, v...)
	}
}

// Info logs an info message.
func (l *DefaultLogger) Info(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.logger.Printf("INFO: "+format, v...)
	}
}

// Warn logs a warning message.
func (l *DefaultLogger) Warn(format string, v ...interface{}) {
	if l.enabled(LevelWarn) {
		l.logger.Printf("WARN: "+format, v...)
	}
}

// Error logs an error message.
func (l *DefaultLogger) Error(format string, v ...interface{}) {
	if l.enabled(LevelError) {
		l.logger.Printf("ERROR: "+format, v...)
	}
}

// SetLevel updates the logging level.
func (l *DefaultLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// NilLogger discards all log messages. Useful in tests.
type NilLogger struct{}

// NewNilLogger creates a logger that discards everything.
func NewNilLogger() *NilLogger { return &NilLogger{} }

func (*NilLogger) Debug(string, ...interface{}) {}
func (*NilLogger) Info(string, ...interface{})  {}
func (*NilLogger) Warn(string, ...interface{})  {}
func (*NilLogger) Error(string, ...interface{}) {}
func (*NilLogger) SetLevel(Level)               {}

// Ensure interface compliance.
var (
	_ Logger = (*DefaultLogger)(nil)
	_ Logger = (*NilLogger)(nil)
)
