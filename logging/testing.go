package logging

import (
	"testing"

	"github.com/edaniels/golog"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger returns a new logger that outputs Debug+ logs to the test output.
func NewTestLogger(tb testing.TB) Logger {
	return golog.NewTestLogger(tb)
}

// NewObservedTestLogger is like NewTestLogger but also saves logs to an in memory observer.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	return golog.NewObservedTestLogger(tb)
}
