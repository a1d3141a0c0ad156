package ratelimit

import (
	"testing"
	"time"
)

func TestAllow(t *testing.T) {
	l := New(2, time.Minute)
	defer l.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		if got := l.Allow("a"); got != want {
			t.Errorf("call %d: Allow = %v, want %v", i, got, want)
		}
	}
	if !l.Allow("b") {
		t.Error("separate key limited")
	}

	now = now.Add(30 * time.Second)
	if !l.Allow("a") {
		t.Error("token not refilled after half a window")
	}
	if l.Allow("a") {
		t.Error("refill exceeded rate")
	}

	l.Reset("a")
	if !l.Allow("a") {
		t.Error("Reset did not clear bucket")
	}
}

func TestAllow_ZeroLimit(t *testing.T) {
	l := New(0, time.Minute)
	defer l.Close()
	if l.Allow("a") {
		t.Error("zero limit allowed a request")
	}
}
