// Package logger implements structured logging on charmbracelet/log.
package logger

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
	"go.trai.ch/kiln/internal/core/ports"
)

var _ ports.Logger = (*Logger)(nil)

// Logger implements ports.Logger.
type Logger struct {
	l *charmlog.Logger
}

// New creates a Logger writing human-readable output to stderr. The
// KILN_LOG environment variable selects the level (debug, info, warn,
// error); the default is info.
func New() *Logger {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer) *Logger {
	l := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: false,
	})
	if level, err := charmlog.ParseLevel(os.Getenv("KILN_LOG")); err == nil && os.Getenv("KILN_LOG") != "" {
		l.SetLevel(level)
	}
	return &Logger{l: l}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.l.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.l.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.l.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.l.Error(msg, keyvals...) }
