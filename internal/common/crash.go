package common

import (
	"runtime/debug"
	"time"
)

// ShutdownTimeout bounds how long the process waits for background
// loops to drain before forcing a close.
const ShutdownTimeout = 30 * time.Second

// GetStackTrace returns the current goroutine's stack trace, used by
// panic-recovery wrappers around long-running background loops.
func GetStackTrace() string {
	return string(debug.Stack())
}
