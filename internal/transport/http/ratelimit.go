package http

import (
	"sync/atomic"
	"time"
)

const rateLimitWindow = time.Minute

// rateLimiter caps inbound frames on one connection per window. A limit of
// zero disables it.
type rateLimiter struct {
	limit int64
	count atomic.Int64
}

func newRateLimiter(limit int) *rateLimiter {
	if limit < 0 {
		limit = 0
	}
	return &rateLimiter{limit: int64(limit)}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit == 0 {
		return true
	}
	return r.count.Add(1) <= r.limit
}

// startReset clears the counter every window until stop is closed.
func (r *rateLimiter) startReset(stop <-chan struct{}) {
	if r == nil || r.limit == 0 {
		return
	}
	go func() {
		t := time.NewTicker(rateLimitWindow)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.count.Store(0)
			case <-stop:
				return
			}
		}
	}()
}
