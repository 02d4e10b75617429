// Package logger provides a simple logging interface and implementation
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger defines the logging interface
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
}

// Level represents logging levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// logger implements the Logger interface
type logger struct {
	level   Level
	loggers map[Level]*log.Logger
	mu      sync.RWMutex
}

var (
	defaultLogger Logger
	once          sync.Once
)

// New returns the process-wide logger, creating it on first use.
// The level is taken from the LOG_LEVEL environment variable.
func New() Logger {
	once.Do(func() {
		defaultLogger = newLogger(parseLevel(os.Getenv("LOG_LEVEL")))
	})
	return defaultLogger
}

// NewWithLevel creates an independent logger at the given level.
// Mainly useful in tests.
func NewWithLevel(level Level) Logger {
	return newLogger(level)
}

func newLogger(level Level) *logger {
	flags := log.LstdFlags
	return &logger{
		level: level,
		loggers: map[Level]*log.Logger{
			LevelDebug: log.New(os.Stdout, "DEBUG ", flags),
			LevelInfo:  log.New(os.Stdout, "INFO  ", flags),
			LevelWarn:  log.New(os.Stdout, "WARN  ", flags),
			LevelError: log.New(os.Stderr, "ERROR ", flags),
		},
	}
}

func parseLevel(s string) Level {
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

func (l *logger) log(level Level, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}
	l.loggers[level].Output(3, fmt.Sprintln(v...))
}

func (l *logger) logf(level Level, format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}
	l.loggers[level].Output(3, fmt.Sprintf(format, v...))
}

func (l *logger) Debug(v ...interface{})                 { l.log(LevelDebug, v...) }
func (l *logger) Debugf(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }
func (l *logger) Info(v ...interface{})                  { l.log(LevelInfo, v...) }
func (l *logger) Infof(format string, v ...interface{})  { l.logf(LevelInfo, format, v...) }
func (l *logger) Warn(v ...interface{})                  { l.log(LevelWarn, v...) }
func (l *logger) Warnf(format string, v ...interface{})  { l.logf(LevelWarn, format, v...) }
func (l *logger) Error(v ...interface{})                 { l.log(LevelError, v...) }
func (l *logger) Errorf(format string, v ...interface{}) { l.logf(LevelError, format, v...) }

func (l *logger) Fatal(v ...interface{}) {
	l.log(LevelError, v...)
	os.Exit(1)
}

func (l *logger) Fatalf(format string, v ...interface{}) {
	l.logf(LevelError, format, v...)
	os.Exit(1)
}
