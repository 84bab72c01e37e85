package testutil

import "testing"

// Given, When, Then and And nest scenario steps as subtests so a failing step
// reads as a sentence in `go test -v` output. Steps share state through the
// enclosing closure and run in declaration order.

func Given(t *testing.T, context string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Given", context, fn)
}

func When(t *testing.T, action string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "When", action, fn)
}

func Then(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Then", outcome, fn)
}

func And(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "And", outcome, fn)
}

func step(t *testing.T, keyword, desc string, fn func(t *testing.T)) {
	t.Helper()
	if !t.Run(keyword+" "+desc, fn) {
		t.FailNow()
	}
}
