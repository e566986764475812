package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
//
// Usage in defer statements:
//
//	func notify() {
//	    defer observability.RecoverPanic(logger, "webhook delivery")
//	    // ...
//	}
//
// The panic is not re-raised. Use it only at goroutine boundaries where no
// caller is left to handle the failure.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// Go runs fn in a new goroutine that logs instead of crashing on panic
func Go(logger *Logger, context string, fn func()) {
	go func() {
		defer RecoverPanic(logger, context)
		fn()
	}()
}
