// Package logger provides the leveled logger shared by the coordinator and
// the workers.
package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// ParseLevel maps a level name to a Level, defaulting to INFO.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l Level) String() string {
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

// Logger writes printf-style messages at or above its level.
// Children created by Named share the parent's sinks and lock.
type Logger struct {
	level    Level
	name     string
	mu       *sync.Mutex
	debugLog *log.Logger
	infoLog  *log.Logger
	warnLog  *log.Logger
	errorLog *log.Logger
}

// New creates a logger writing to stderr.
func New(level string) *Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(level string, w io.Writer) *Logger {
	flags := log.LstdFlags | log.Lmicroseconds

	return &Logger{
		level:    ParseLevel(level),
		mu:       &sync.Mutex{},
		debugLog: log.New(w, "[DEBUG] ", flags),
		infoLog:  log.New(w, "[INFO] ", flags),
		warnLog:  log.New(w, "[WARN] ", flags),
		errorLog: log.New(w, "[ERROR] ", flags),
	}
}

// Named returns a child logger whose messages are prefixed with name.
func (l *Logger) Named(name string) *Logger {
	child := *l
	if l.name != "" {
		child.name = l.name + "." + name
	} else {
		child.name = name
	}
	return &child
}

// Level returns the minimum level that is written.
func (l *Logger) Level() Level { return l.level }

func (l *Logger) output(lg *log.Logger, at Level, format string, args ...interface{}) {
	if l.level > at {
		return
	}
	if l.name != "" {
		format = l.name + ": " + format
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lg.Printf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.output(l.debugLog, DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.output(l.infoLog, INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.output(l.warnLog, WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.output(l.errorLog, ERROR, format, args...)
}
