package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r := &Result{ResetAt: now.Add(42 * time.Second)}
	assert.Equal(t, 42, r.RetryAfter(now))

	r = &Result{ResetAt: now.Add(-time.Second)}
	assert.Equal(t, 1, r.RetryAfter(now))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "actor:org-1:a1", ActorKey("org-1", "a1"))
	assert.Equal(t, "ip:10.0.0.1", ClientKey("10.0.0.1"))
}
