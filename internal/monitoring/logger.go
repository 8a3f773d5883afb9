// Package monitoring holds the diagnostic logger shared by the library
// packages. Binaries log with the standard log package directly.
package monitoring

import (
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// WithPrefix returns a logger that writes through the current Logf with
// prefix in front of every message.
func WithPrefix(prefix string) func(format string, v ...interface{}) {
	prefix = strings.ReplaceAll(prefix, "%", "%%")
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
