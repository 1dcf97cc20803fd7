package runs

import (
	"testing"
	"time"
)

func TestPollLimiterThrottlesRepeatPolls(t *testing.T) {
	current := time.Unix(1700000000, 0)
	limiter := newPollLimiter(time.Second, func() time.Time { return current })

	if !limiter.Allow("1.2.3.4", "run-1") {
		t.Fatal("first poll should pass")
	}
	current = current.Add(200 * time.Millisecond)
	if limiter.Allow("1.2.3.4", "run-1") {
		t.Fatal("poll inside the window should be throttled")
	}
	current = current.Add(900 * time.Millisecond)
	if !limiter.Allow("1.2.3.4", "run-1") {
		t.Fatal("poll after the window should pass")
	}
}

func TestPollLimiterKeysAreIndependent(t *testing.T) {
	current := time.Unix(1700000000, 0)
	limiter := newPollLimiter(time.Second, func() time.Time { return current })

	if !limiter.Allow("1.2.3.4", "run-1") {
		t.Fatal("first poll should pass")
	}
	if !limiter.Allow("1.2.3.4", "run-2") {
		t.Fatal("different run should not share the window")
	}
	if !limiter.Allow("5.6.7.8", "run-1") {
		t.Fatal("different client should not share the window")
	}
}

func TestPollLimiterNilAllowsEverything(t *testing.T) {
	var limiter *pollLimiter
	if !limiter.Allow("1.2.3.4", "run-1") {
		t.Fatal("nil limiter should allow")
	}
	if limiter.RetryAfterSeconds() != 1 {
		t.Fatalf("retry after = %d, want 1", limiter.RetryAfterSeconds())
	}
}

func TestPollLimiterRetryAfterSeconds(t *testing.T) {
	limiter := newPollLimiter(3*time.Second, nil)
	if got := limiter.RetryAfterSeconds(); got != 3 {
		t.Fatalf("retry after = %d, want 3", got)
	}
}
