package sched

import (
	"fmt"
	"time"
)

// Logger is the scheduler's diagnostic logger, grounded on the teacher's
// internal/cli.Logger: a pair of bools gating verbosity rather than a
// leveled logging library, since nothing else in this codebase pulls one
// in either.
type Logger struct {
	Verbose   bool
	DebugMode bool
}

// NewLogger returns a Logger with both verbosity flags off.
func NewLogger() *Logger { return &Logger{} }

func (l *Logger) timestamp() string {
	return time.Now().Format("15:04:05.000")
}

// Info prints unconditionally, prefixed with a timestamp.
func (l *Logger) Info(format string, args ...interface{}) {
	fmt.Printf("[%s] INFO  %s\n", l.timestamp(), fmt.Sprintf(format, args...))
}

// Debug prints only when DebugMode is set.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.DebugMode {
		return
	}
	fmt.Printf("[%s] DEBUG %s\n", l.timestamp(), fmt.Sprintf(format, args...))
}

// Warn prints only when Verbose or DebugMode is set.
func (l *Logger) Warn(format string, args ...interface{}) {
	if !l.Verbose && !l.DebugMode {
		return
	}
	fmt.Printf("[%s] WARN  %s\n", l.timestamp(), fmt.Sprintf(format, args...))
}

// Error prints unconditionally.
func (l *Logger) Error(format string, args ...interface{}) {
	fmt.Printf("[%s] ERROR %s\n", l.timestamp(), fmt.Sprintf(format, args...))
}
