package http

import "testing"

func TestRateLimiter(t *testing.T) {
	l := newRateLimiter(2)
	if !l.allow() || !l.allow() {
		t.Fatal("requests under the limit must pass")
	}
	if l.allow() {
		t.Fatal("request over the limit must be refused")
	}

	unlimited := newRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !unlimited.allow() {
			t.Fatal("zero limit must disable the limiter")
		}
	}

	var nilLimiter *rateLimiter
	if !nilLimiter.allow() {
		t.Fatal("nil limiter must pass everything")
	}
}
