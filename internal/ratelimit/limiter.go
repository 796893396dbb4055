// Package ratelimit provides per-actor, per-category sliding-window
// admission control for inbound activity.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docsage/internal/config"
)

// Category classifies the action being admitted.
type Category string

const (
	CategoryCommands         Category = "commands"
	CategoryMessages         Category = "messages"
	CategoryUploads          Category = "uploads"
	CategoryChannelResponses Category = "channelResponses"
)

type limit struct {
	maxCount int
	window   time.Duration
}

type bucket struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

// Limiter tracks sliding-window buckets keyed by (actor-or-channel, category).
// Buckets are created lazily and evicted after a period of inactivity.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limits  map[Category]limit

	evictAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time // injectable for tests
}

// New creates a Limiter from the configured per-category pairs.
func New(cfg config.LimitsConfig, logger *slog.Logger) *Limiter {
	evictAfter := time.Duration(cfg.EvictAfterSeconds) * time.Second
	if evictAfter <= 0 {
		evictAfter = 30 * time.Minute
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		limits: map[Category]limit{
			CategoryCommands:         {cfg.Commands.MaxCount, time.Duration(cfg.Commands.WindowSeconds) * time.Second},
			CategoryMessages:         {cfg.Messages.MaxCount, time.Duration(cfg.Messages.WindowSeconds) * time.Second},
			CategoryUploads:          {cfg.Uploads.MaxCount, time.Duration(cfg.Uploads.WindowSeconds) * time.Second},
			CategoryChannelResponses: {cfg.ChannelResponses.MaxCount, time.Duration(cfg.ChannelResponses.WindowSeconds) * time.Second},
		},
		evictAfter: evictAfter,
		logger:     logger,
		now:        time.Now,
	}
}

func bucketKey(actorID string, cat Category) string {
	return actorID + "|" + string(cat)
}

// Allow performs one admission check. The bucket is incremented on every
// call, including denied ones, so that hammering a denied action pushes the
// reset further out instead of slipping through on the rollover.
func (l *Limiter) Allow(actorID string, cat Category) bool {
	lim, ok := l.limits[cat]
	if !ok {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := bucketKey(actorID, cat)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	if now.Sub(b.windowStart) > lim.window {
		b.count = 0
		b.windowStart = now
	}

	b.count++
	b.lastSeen = now
	return b.count <= lim.maxCount
}

// Remaining returns how many admissions are left in the current window.
func (l *Limiter) Remaining(actorID string, cat Category) int {
	lim, ok := l.limits[cat]
	if !ok {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[bucketKey(actorID, cat)]
	if !ok || l.now().Sub(b.windowStart) > lim.window {
		return lim.maxCount
	}
	remaining := lim.maxCount - b.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetAt returns when the current window expires and the count resets.
func (l *Limiter) ResetAt(actorID string, cat Category) time.Time {
	lim, ok := l.limits[cat]
	if !ok {
		return l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[bucketKey(actorID, cat)]
	if !ok {
		return l.now()
	}
	return b.windowStart.Add(lim.window)
}

// RunJanitor evicts buckets for inactive actors until the context is
// cancelled. Intended to run as a background goroutine.
func (l *Limiter) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := l.evictIdle()
			if evicted > 0 {
				l.logger.Debug("evicted idle rate-limit buckets", "count", evicted)
			}
		}
	}
}

func (l *Limiter) evictIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.evictAfter {
			delete(l.buckets, key)
			evicted++
		}
	}
	return evicted
}
