package ratelimit

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"docsage/internal/config"
)

func testLimiter(t *testing.T) *Limiter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return New(config.LimitsConfig{
		Commands:          config.LimitCategory{MaxCount: 3, WindowSeconds: 60},
		Messages:          config.LimitCategory{MaxCount: 5, WindowSeconds: 60},
		Uploads:           config.LimitCategory{MaxCount: 2, WindowSeconds: 300},
		ChannelResponses:  config.LimitCategory{MaxCount: 10, WindowSeconds: 60},
		EvictAfterSeconds: 600,
	}, logger)
}

func TestAllow_UpToLimit(t *testing.T) {
	l := testLimiter(t)

	for i := 0; i < 3; i++ {
		if !l.Allow("user1", CategoryCommands) {
			t.Fatalf("check %d denied, want admitted", i+1)
		}
	}
	if l.Allow("user1", CategoryCommands) {
		t.Fatal("4th check admitted, want denied")
	}
}

func TestAllow_PerActorIsolation(t *testing.T) {
	l := testLimiter(t)

	for i := 0; i < 3; i++ {
		l.Allow("user1", CategoryCommands)
	}
	if !l.Allow("user2", CategoryCommands) {
		t.Fatal("user2 denied by user1's bucket")
	}
}

func TestAllow_WindowRollover(t *testing.T) {
	l := testLimiter(t)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		l.Allow("user1", CategoryCommands)
	}
	if l.Allow("user1", CategoryCommands) {
		t.Fatal("expected denial inside window")
	}

	// Past the window a check always admits and resets the window.
	now = now.Add(61 * time.Second)
	if !l.Allow("user1", CategoryCommands) {
		t.Fatal("expected admission after window rollover")
	}
	if got := l.Remaining("user1", CategoryCommands); got != 2 {
		t.Fatalf("Remaining = %d, want 2", got)
	}
}

func TestAllow_DeniedCallsStillCount(t *testing.T) {
	l := testLimiter(t)

	for i := 0; i < 10; i++ {
		l.Allow("user1", CategoryUploads)
	}
	if got := l.Remaining("user1", CategoryUploads); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
}

func TestResetAt(t *testing.T) {
	l := testLimiter(t)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("user1", CategoryMessages)
	want := now.Add(60 * time.Second)
	if got := l.ResetAt("user1", CategoryMessages); !got.Equal(want) {
		t.Fatalf("ResetAt = %v, want %v", got, want)
	}
}

func TestRemaining_UnknownActor(t *testing.T) {
	l := testLimiter(t)
	if got := l.Remaining("nobody", CategoryMessages); got != 5 {
		t.Fatalf("Remaining = %d, want full quota 5", got)
	}
}

func TestEvictIdle(t *testing.T) {
	l := testLimiter(t)
	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("user1", CategoryMessages)
	l.Allow("user2", CategoryMessages)

	now = now.Add(11 * time.Minute)
	l.Allow("user2", CategoryMessages)

	// user1 idle past the eviction threshold, user2 active.
	if got := l.evictIdle(); got != 1 {
		t.Fatalf("evicted %d buckets, want 1", got)
	}
}
