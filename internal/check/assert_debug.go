//go:build debug

// Package check holds invariant assertions that only fire in builds tagged
// debug.
package check

import "fmt"

// Assert panics if cond is false.
func Assert(cond bool, msg string) {
	if !cond {
		panic("wgsync: invariant violated: " + msg)
	}
}

// Assertf panics with a formatted message if cond is false.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("wgsync: invariant violated: " + fmt.Sprintf(format, args...))
	}
}
