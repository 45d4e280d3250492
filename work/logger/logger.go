package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel orders log severities so a configured threshold can suppress noise. The
// zero value is DEBUG; anything below the threshold is dropped before formatting.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger instance. Every line is written as "[LEVEL] message"
// through the wrapped std logger so timestamps and the process prefix stay uniform
// across packages. The threshold can be changed at runtime, which the restart path
// uses after reloading the configuration.
type Logger struct {
	level LogLevel
	out   *log.Logger
	mu    sync.RWMutex
}

// New creates a new Logger instance writing to stdout with the [TESLATV] prefix. An
// unknown level string falls back to INFO.
func New(level string) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
		out:   log.New(os.Stdout, "[TESLATV] ", log.LstdFlags),
	}
}

// NewWithWriter creates a Logger writing to w without prefix or timestamps. Tests use
// it to capture output.
func NewWithWriter(level string, w io.Writer) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
		out:   log.New(w, "", 0),
	}
}

// getDefaultLogger returns the singleton default logger, creating it at INFO on first
// use.
func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New("INFO")
	})
	return defaultLogger
}

// ParseLogLevel converts a config string to a LogLevel. Matching ignores case and
// surrounding space; WARNING is accepted for WARN and anything unknown maps to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// String returns the canonical upper-case name of the level.
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// SetLogLevel sets the package-level logger threshold.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns the package-level threshold as a string.
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetLevel sets this logger's threshold.
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

// GetLevel returns this logger's threshold as a string.
func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level.String()
}

// shouldLog checks if a message at level passes the current threshold
func (l *Logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

// write formats and outputs one message
func (l *Logger) write(level LogLevel, format string, v ...interface{}) {
	// skip the formatting work entirely below the threshold
	if !l.shouldLog(level) {
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

// Debug logs at DEBUG.
func (l *Logger) Debug(format string, v ...interface{}) { l.write(DEBUG, format, v...) }

// Info logs at INFO.
func (l *Logger) Info(format string, v ...interface{}) { l.write(INFO, format, v...) }

// Warn logs at WARN.
func (l *Logger) Warn(format string, v ...interface{}) { l.write(WARN, format, v...) }

// Error logs at ERROR.
func (l *Logger) Error(format string, v ...interface{}) { l.write(ERROR, format, v...) }

// Package-level functions (for direct use like logger.Info()), routed to the default
// logger.

// Debug logs at DEBUG on the package logger.
func Debug(format string, v ...interface{}) { getDefaultLogger().Debug(format, v...) }

// Info logs at INFO on the package logger.
func Info(format string, v ...interface{}) { getDefaultLogger().Info(format, v...) }

// Warn logs at WARN on the package logger.
func Warn(format string, v ...interface{}) { getDefaultLogger().Warn(format, v...) }

// Error logs at ERROR on the package logger.
func Error(format string, v ...interface{}) { getDefaultLogger().Error(format, v...) }
