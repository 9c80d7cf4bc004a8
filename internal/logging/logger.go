// Package logging provides structured logging for Nightshade
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for Nightshade
type Logger struct {
	zerolog.Logger
	file *os.File // Keep reference to close later
}

// New creates a new logger with default settings
func New() *Logger {
	return NewWithConfig("info", "text", "")
}

// NewWithConfig creates a logger from configuration
func NewWithConfig(level, format, filePath string) *Logger {
	lvl := parseLevel(level)

	// Determine output destination
	var output io.Writer = os.Stdout
	var logFile *os.File

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			output = f
			logFile = f
		}
		// If file open fails, fall back to stdout silently
	}

	if format != "json" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.DateTime,
			NoColor:    logFile != nil,
		}
	}

	zlog := zerolog.New(output).Level(lvl).With().
		Timestamp().
		Str("app", "nightshade").
		Logger()

	return &Logger{Logger: zlog, file: logFile}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close closes the log file if one is open
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
