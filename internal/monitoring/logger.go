// Package monitoring holds the redirectable diagnostic logger shared by
// the pipeline workers.
package monitoring

import "log"

// Logf is the package-level diagnostic logger, defaulting to
// log.Printf. Replace it via SetLogger to redirect or mute worker
// chatter.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil f installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
