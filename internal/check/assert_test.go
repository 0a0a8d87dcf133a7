//go:build debug

package check

import (
	"strings"
	"testing"
)

func TestAssertfPanics(t *testing.T) {
	defer func() {
		r := recover()
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "3 keys") {
			t.Fatalf("recover() = %v", r)
		}
	}()
	Assertf(false, "%d keys", 3)
}

func TestAssertHolds(t *testing.T) {
	Assert(true, "never")
	Assertf(true, "never %d", 1)
}
