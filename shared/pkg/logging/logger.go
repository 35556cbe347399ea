package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger provides structured logging on top of logrus
type Logger struct {
	entry   *logrus.Entry
	logFile *os.File
}

// NewLogger creates a logger writing to stderr
func NewLogger(level Level, jsonFormat bool) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(level.logrus())
	if jsonFormat {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
	return &Logger{entry: logrus.NewEntry(base)}
}

// NewFileLogger creates a logger that writes to <dir>/<component>.log and stderr.
// An empty dir defaults to $HOME/.genctl/logs.
func NewFileLogger(dir, component string, level Level, jsonFormat bool) (*Logger, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to find home directory: %w", err)
		}
		dir = filepath.Join(home, ".genctl", "logs")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, component+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	l := NewLogger(level, jsonFormat)
	l.entry.Logger.SetOutput(io.MultiWriter(logFile, os.Stderr))
	l = l.WithField("component", component)
	l.logFile = logFile
	return l, nil
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

func firstFields(fields []map[string]interface{}) logrus.Fields {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}
	return logrus.Fields(fields[0])
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.entry.WithFields(firstFields(fields)).Debug(message)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.entry.WithFields(firstFields(fields)).Info(message)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.entry.WithFields(firstFields(fields)).Warn(message)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.entry.WithFields(firstFields(fields)).Error(message)
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithError attaches err under the "error" field
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch level {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}
