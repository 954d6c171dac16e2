package assetpipe

import (
	"fmt"
	"log"
	"os"
)

// Logger is a small leveled wrapper around the standard library logger,
// matching the plain stdout/stderr logging texture used throughout the
// teacher package rather than pulling in a structured-logging dependency
// (see DESIGN.md).
type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	error *log.Logger
	debug bool
}

// NewLogger creates a Logger. When debug is true, Debugf lines are emitted;
// otherwise they're discarded.
func NewLogger(debug bool) *Logger {
	flags := log.LstdFlags
	return &Logger{
		info:  log.New(os.Stdout, "[INFO] ", flags),
		warn:  log.New(os.Stdout, "[WARN] ", flags),
		error: log.New(os.Stderr, "[ERROR] ", flags),
		debug: debug,
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.info.Printf(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.warn.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.error.Printf(format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.info.Printf("[DEBUG] "+format, args...)
}

// quoteList renders a slice of paths compactly for warn log lines.
func quoteList(paths []string) string {
	return fmt.Sprintf("%q", paths)
}
