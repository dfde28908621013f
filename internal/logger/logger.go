// Package logger is the centralized logging facility for the backtest
// core: four verbosity levels over the standard log package, written to
// stderr so machine-readable output on stdout stays clean.
//
// Verbosity levels, in increasing order:
//
//	Error < Info < Debug < Trace
package logger

import (
	"log"
	"os"
)

// Level is a logging verbosity level; higher values log more.
type Level int

const (
	Error Level = iota // critical failures only
	Info               // high-level run progress
	Debug              // per-day/per-trade diagnostics
	Trace              // very fine-grained execution detail
)

// current gates output: only messages with level <= current are logged.
var current Level = Info

func init() {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// SetVerbosity sets the global verbosity, typically once at startup
// after flag/config parsing.
func SetVerbosity(v int) {
	current = Level(v)
}

func logf(l Level, prefix, format string, args ...any) {
	if current >= l {
		log.Printf(prefix+format, args...)
	}
}

// Errorf logs a failure that requires attention.
func Errorf(format string, args ...any) {
	logf(Error, "[ERROR] ", format, args...)
}

// Infof logs a major lifecycle event.
func Infof(format string, args ...any) {
	logf(Info, "[INFO]  ", format, args...)
}

// Debugf logs diagnostic detail.
func Debugf(format string, args ...any) {
	logf(Debug, "[DEBUG] ", format, args...)
}

// Tracef logs very high-volume execution traces.
func Tracef(format string, args ...any) {
	logf(Trace, "[TRACE] ", format, args...)
}
