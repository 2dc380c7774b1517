// Package logger provides modifications to charmbracelet/log's default logger to be used in various files/packages.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	outMu sync.RWMutex
	out   io.Writer = os.Stderr
)

// SetOutput redirects the global logger and every logger created afterwards.
// Server mode keeps stdout for the protocol, so the default is stderr.
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
	log.SetOutput(w)
}

// Output returns the writer new loggers use.
func Output() io.Writer {
	outMu.RLock()
	defer outMu.RUnlock()
	return out
}

// New creates a new default charm log.
func New(prefix string) *log.Logger {
	return log.NewWithOptions(Output(), log.Options{
		Prefix:          prefix,
		ReportCaller:    false,
		ReportTimestamp: true,
		Formatter:       log.TextFormatter,
		Level:           log.GetLevel(),
	})
}

// NewWithConfig creates a new charm log with custom config
func NewWithConfig(prefix string, level log.Level, caller bool, showTimestamp bool, fmt log.Formatter) *log.Logger {
	return log.NewWithOptions(Output(), log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportCaller:    caller,
		ReportTimestamp: showTimestamp,
		Formatter:       fmt,
	})
}

// Setup configures the global logger the way every command wants it.
func Setup(debug bool) {
	level := log.WarnLevel
	if debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetReportTimestamp(debug)
	log.SetOutput(Output())
}
