// Package logging wraps log/slog with the small surface used across
// go-sessionkey components.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Logger provides leveled, structured logging for key store and sealing
// operations.
type Logger struct {
	logger *slog.Logger
	debug  bool
}

// NewLogger creates a text logger writing to stderr
func NewLogger(debug bool) *Logger {
	return NewLoggerWithWriter(os.Stderr, debug)
}

// NewLoggerWithWriter creates a text logger writing to w
func NewLoggerWithWriter(w io.Writer, debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{logger: slog.New(handler), debug: debug}
}

// NewLoggerWithHandler wraps an existing slog handler, e.g. a JSON handler
func NewLoggerWithHandler(handler slog.Handler, debug bool) *Logger {
	return &Logger{logger: slog.New(handler), debug: debug}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLoggerWithHandler(slog.NewTextHandler(io.Discard, nil), false)
}

// With returns a child logger carrying the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), debug: l.debug}
}

// Slog exposes the underlying slog.Logger
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Infof logs a formatted informational message
func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	if l.debug {
		l.logger.Debug(msg, args...)
	}
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...any) {
	if l.debug {
		l.logger.Debug(fmt.Sprintf(format, args...))
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error
func (l *Logger) Error(err error, args ...any) {
	l.logger.Error(err.Error(), args...)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// MaybeError logs an error if it's not nil
func (l *Logger) MaybeError(err error) {
	if err != nil {
		l.logger.Error(err.Error())
	}
}

// DefaultLogger returns a default logger instance with debug=false
func DefaultLogger() *Logger {
	return NewLogger(false)
}

// OrDefault returns l, or the default logger when l is nil
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return DefaultLogger()
	}
	return l
}
