// Package logger provides a thread-safe, levelled logger backed by the
// standard library's log package.
//
// The core library packages never write to stdout: all output goes to stderr,
// and an optional sink lets the gateway mirror every entry into its log ring
// buffer for the /api/logs endpoint without a second logging pipeline.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO and ERROR messages.
	LevelInfo
	// LevelError emits only ERROR messages.
	LevelError
)

// Sink receives a copy of every emitted log entry. Implementations must be
// fast and non-blocking; the gateway's ring buffer qualifies.
type Sink func(level, msg string)

// Logger is a structured, levelled logger.
//
// Thread-safety: log.Logger (from the standard library) serialises writes to
// the underlying io.Writer with its own mutex. The Logger wrapper adds a
// second mutex for the level and sink fields so that SetLevel and SetSink may
// be called concurrently with logging methods.
type Logger struct {
	infoLog  *log.Logger
	errorLog *log.Logger
	debugLog *log.Logger
	mu       sync.RWMutex
	level    Level
	sink     Sink
}

// New creates a Logger that writes to stderr at the given minimum level.
// log.Ldate|log.Ltime|log.Lmicroseconds gives millisecond-resolution
// timestamps which are sufficient for diagnosing latency in the long-poll
// and pagination paths.
func New(level Level) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	return &Logger{
		infoLog:  log.New(os.Stderr, "INFO  ", flags),
		errorLog: log.New(os.Stderr, "ERROR ", flags),
		debugLog: log.New(os.Stderr, "DEBUG ", flags),
		level:    level,
	}
}

// SetLevel changes the minimum log level at runtime. Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// SetSink attaches a sink that receives a copy of every emitted entry.
// Pass nil to detach. Safe for concurrent use.
func (l *Logger) SetSink(s Sink) {
	l.mu.Lock()
	l.sink = s
	l.mu.Unlock()
}

func (l *Logger) emit(out *log.Logger, min Level, label, msg string) {
	l.mu.RLock()
	lvl, sink := l.level, l.sink
	l.mu.RUnlock()
	if lvl > min {
		return
	}
	out.Output(3, msg) //nolint:errcheck
	if sink != nil {
		sink(label, msg)
	}
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string) { l.emit(l.infoLog, LevelInfo, "INFO", msg) }

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string) { l.emit(l.errorLog, LevelError, "ERROR", msg) }

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string) { l.emit(l.debugLog, LevelDebug, "DEBUG", msg) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}
