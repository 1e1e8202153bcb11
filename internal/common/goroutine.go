package common

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks background goroutines for crash diagnostics
var goroutineCounter atomic.Int64

// GetGoroutineCount returns the number of goroutines started via SafeGo
// that are still running
func GetGoroutineCount() int64 {
	return goroutineCounter.Load()
}

// SafeGo runs fn in a goroutine. A panic is logged instead of crashing the process.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	goroutineCounter.Add(1)

	go func() {
		defer goroutineCounter.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				if logger == nil {
					fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, debug.Stack())
					return
				}
				logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in goroutine")
			}
		}()

		fn()
	}()
}
