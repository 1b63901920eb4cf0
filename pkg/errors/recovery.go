package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into an error carrying the
// stack trace. Used by the consume loop so a panicking parser counts as a
// poison message instead of killing the process.
func RecoverPanic(r interface{}) error {
	return fmt.Errorf("panic: %v\n%s", r, debug.Stack())
}
