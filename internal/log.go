package internal

import (
	"log"
	"os"
	"strings"
)

// LogLevel represents different logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

// Logger provides leveled logging with an optional component prefix
type Logger struct {
	level     LogLevel
	component string
}

// NewLogger creates a new logger with the specified level
func NewLogger(level LogLevel) *Logger {
	return &Logger{level: level}
}

// ParseLogLevel maps ERROR/WARN/INFO/DEBUG/TRACE (any case) to a level
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LogLevelError, true
	case "WARN":
		return LogLevelWarn, true
	case "INFO":
		return LogLevelInfo, true
	case "DEBUG":
		return LogLevelDebug, true
	case "TRACE":
		return LogLevelTrace, true
	}
	return LogLevelInfo, false
}

// NewDefaultLogger creates a logger based on LOG_LEVEL environment variable
func NewDefaultLogger() *Logger {
	level, _ := ParseLogLevel(os.Getenv("LOG_LEVEL"))
	return &Logger{level: level}
}

// With returns a logger sharing the level that prefixes every line with a component
func (l *Logger) With(component string) *Logger {
	return &Logger{level: l.level, component: component}
}

// SetLevel changes the verbosity
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

func (l *Logger) logf(tag string, format string, args ...interface{}) {
	if l.component != "" {
		log.Printf("["+tag+"] ["+l.component+"] "+format, args...)
		return
	}
	log.Printf("["+tag+"] "+format, args...)
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	if l.level >= LogLevelError {
		l.logf("ERROR", format, args...)
	}
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogLevelWarn {
		l.logf("WARN", format, args...)
	}
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogLevelInfo {
		l.logf("INFO", format, args...)
	}
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogLevelDebug {
		l.logf("DEBUG", format, args...)
	}
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	if l.level >= LogLevelTrace {
		l.logf("TRACE", format, args...)
	}
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// Global logger instance
var DefaultLogger = NewDefaultLogger()
