package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, window time.Duration) *Limiter {
	t.Helper()
	l, err := Open(t.TempDir(), window)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAllowUnderLimit(t *testing.T) {
	l := newTestLimiter(t, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.SetNowFunc(fixedClock(now))

	for i := 0; i < 2; i++ {
		d, err := l.Allow("ep_1", 2)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Limit != 2 {
			t.Fatalf("limit = %d, want 2", d.Limit)
		}
		if d.Remaining != 1-i {
			t.Fatalf("request %d: remaining = %d, want %d", i+1, d.Remaining, 1-i)
		}
	}

	d, err := l.Allow("ep_1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("third request in the window must be denied")
	}
	if d.Remaining != 0 {
		t.Fatalf("denied remaining = %d, want 0", d.Remaining)
	}
	if d.RetryAfterSec < 1 {
		t.Fatalf("RetryAfterSec = %d, want >= 1", d.RetryAfterSec)
	}
}

func TestDenialDoesNotConsume(t *testing.T) {
	l := newTestLimiter(t, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.SetNowFunc(fixedClock(now))

	if _, err := l.Allow("ep_1", 1); err != nil {
		t.Fatal(err)
	}
	// Denials keep the counter where it is; a window reset restores
	// exactly `limit` slots.
	for i := 0; i < 5; i++ {
		d, err := l.Allow("ep_1", 1)
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed {
			t.Fatal("over-limit request allowed")
		}
	}

	l.SetNowFunc(fixedClock(now.Add(time.Minute)))
	d, err := l.Allow("ep_1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("new window must start fresh")
	}
}

func TestWindowRollover(t *testing.T) {
	l := newTestLimiter(t, time.Minute)
	base := time.Unix(1_700_000_040, 0) // 40s into a minute window
	l.SetNowFunc(fixedClock(base))

	d, err := l.Allow("ep_1", 5)
	if err != nil {
		t.Fatal(err)
	}
	wantReset := (base.Unix()/60 + 1) * 60
	if d.ResetUnix != wantReset {
		t.Fatalf("ResetUnix = %d, want %d", d.ResetUnix, wantReset)
	}
	if d.RetryAfterSec != wantReset-base.Unix() {
		t.Fatalf("RetryAfterSec = %d, want %d", d.RetryAfterSec, wantReset-base.Unix())
	}

	// 21 seconds later we are in the next window with a clean count.
	l.SetNowFunc(fixedClock(base.Add(21 * time.Second)))
	d, err = l.Allow("ep_1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if d.Remaining != 4 {
		t.Fatalf("next window remaining = %d, want 4", d.Remaining)
	}
}

func TestEndpointsIsolated(t *testing.T) {
	l := newTestLimiter(t, time.Minute)
	l.SetNowFunc(fixedClock(time.Unix(1_700_000_000, 0)))

	if _, err := l.Allow("ep_a", 1); err != nil {
		t.Fatal(err)
	}
	d, err := l.Allow("ep_b", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("counters must be per endpoint")
	}
}

func TestMinimumLimit(t *testing.T) {
	l := newTestLimiter(t, time.Minute)
	l.SetNowFunc(fixedClock(time.Unix(1_700_000_000, 0)))

	// limit < 1 is clamped to 1, never unlimited.
	d, err := l.Allow("ep_1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Limit != 1 {
		t.Fatalf("clamped first request: %+v", d)
	}
	d, err = l.Allow("ep_1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("clamped second request must be denied")
	}
}

func TestSweep(t *testing.T) {
	l := newTestLimiter(t, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.SetNowFunc(fixedClock(now))

	if _, err := l.Allow("ep_1", 5); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Allow("ep_2", 5); err != nil {
		t.Fatal(err)
	}

	// Nothing has expired yet.
	n, err := l.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("swept %d rows before expiry", n)
	}

	// Rows live two windows; three minutes later both are stale.
	l.SetNowFunc(fixedClock(now.Add(3 * time.Minute)))
	n, err = l.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("swept %d rows, want 2", n)
	}
}
