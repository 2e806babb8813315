package logging

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	process atomic.Pointer[Logger]
	nop     = NewNop()
)

// Configure installs l as the process logger. Libraries logging through
// zap.L() write to the same cores but skip the pipeline.
func Configure(l *Logger) {
	if l == nil {
		return
	}
	process.Store(l)
	zap.ReplaceGlobals(l.zap)
}

// L returns the process logger, or a nop logger before Configure.
func L() *Logger {
	if l := process.Load(); l != nil {
		return l
	}
	return nop
}
