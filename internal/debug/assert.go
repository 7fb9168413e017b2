package debug

import (
	"fmt"
	"runtime"
)

// Assert panics with the caller's location when truth is false. it is meant for
// programmer errors only (a schema table that does not add up, a value built
// from a constant that does not encode), never for anything a peer can send.
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if !truth {
		fail(fmt.Sprintf("assertion failed(%s)", msg))
	}
}

// Assertf is Assert with a formatted message.
func Assertf(truth bool, format string, args ...any) {
	if !truth {
		fail("assertion failed: " + fmt.Sprintf(format, args...))
	}
}

func fail(msg string) {
	// skip fail and Assert/Assertf so that the location points at the call
	// site; otherwise it is buried in the middle of the panicking stack.
	if _, file, line, ok := runtime.Caller(2); ok {
		msg = fmt.Sprintf("%s:%d: %s", file, line, msg)
	}
	panic(msg)
}
