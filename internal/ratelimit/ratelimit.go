// Package ratelimit caps how many access requests one actor can make within a
// sliding window.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees a slot,
// never less than one.
func (r *Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Store counts requests per key. Allow records the request only when it is
// admitted.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// ActorKey builds the bucket key for an actor.
func ActorKey(organization, actorID string) string {
	return "actor:" + organization + ":" + actorID
}

// ClientKey builds the bucket key for an unidentified caller.
func ClientKey(ip string) string {
	return "ip:" + ip
}
