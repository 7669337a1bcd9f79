package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/sipico/keygate/internal/storage"
)

// Window kinds for the fixed-window counters.
const (
	windowMinute = "minute"
	windowHour   = "hour"
)

// WindowStore is the counter surface the limiter needs.
// *storage.SQLiteStorage satisfies it.
type WindowStore interface {
	IncrementWindow(ctx context.Context, keyID, window string, slot int64) (int64, error)
	WindowCount(ctx context.Context, keyID, window string, slot int64) (int64, error)
	PruneWindows(ctx context.Context, window string, beforeSlot int64) (int64, error)
}

// Decision is the outcome of a rate-limit check for one request.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// RetryAfterSeconds reports the whole seconds until the binding window
// resets, at least 1 so Retry-After headers stay meaningful.
func (d Decision) RetryAfterSeconds() int64 {
	secs := int64(time.Until(d.ResetAt).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter enforces each key's per-minute and per-hour quotas with
// fixed-window counters keyed by key id and window slot. Counting happens
// in single upsert-increment statements, so concurrent requests against
// the same key never lose counts.
type Limiter struct {
	store WindowStore
	now   func() time.Time
}

// NewLimiter creates a Limiter.
func NewLimiter(store WindowStore) *Limiter {
	return &Limiter{
		store: store,
		now:   time.Now,
	}
}

// WithClock overrides the limiter's clock. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow consumes one request from both of the key's windows and reports
// whether it fits the quotas. A limit of zero or below disables that window.
func (l *Limiter) Allow(ctx context.Context, key *storage.APIKey) (Decision, error) {
	if l.store == nil {
		return Decision{}, fmt.Errorf("rate limit store is nil")
	}

	now := l.now().UTC()
	minuteCount, hourCount := int64(0), int64(0)

	if key.RateLimitPerMinute > 0 {
		count, err := l.store.IncrementWindow(ctx, key.ID, windowMinute, minuteSlot(now))
		if err != nil {
			return Decision{}, err
		}
		minuteCount = count
	}

	if key.RateLimitPerHour > 0 {
		count, err := l.store.IncrementWindow(ctx, key.ID, windowHour, hourSlot(now))
		if err != nil {
			return Decision{}, err
		}
		hourCount = count
	}

	return l.decide(key, now, minuteCount, hourCount, true), nil
}

// Check reports the key's current quota state without consuming a request.
func (l *Limiter) Check(ctx context.Context, key *storage.APIKey) (Decision, error) {
	if l.store == nil {
		return Decision{}, fmt.Errorf("rate limit store is nil")
	}

	now := l.now().UTC()
	minuteCount, hourCount := int64(0), int64(0)

	if key.RateLimitPerMinute > 0 {
		count, err := l.store.WindowCount(ctx, key.ID, windowMinute, minuteSlot(now))
		if err != nil {
			return Decision{}, err
		}
		minuteCount = count
	}

	if key.RateLimitPerHour > 0 {
		count, err := l.store.WindowCount(ctx, key.ID, windowHour, hourSlot(now))
		if err != nil {
			return Decision{}, err
		}
		hourCount = count
	}

	return l.decide(key, now, minuteCount, hourCount, false), nil
}

// Prune deletes counter rows older than the previous hour slot. Meant to
// run alongside the credential expiry sweeps.
func (l *Limiter) Prune(ctx context.Context) (int64, error) {
	now := l.now().UTC()

	minutes, err := l.store.PruneWindows(ctx, windowMinute, minuteSlot(now)-1)
	if err != nil {
		return 0, err
	}

	hours, err := l.store.PruneWindows(ctx, windowHour, hourSlot(now)-1)
	if err != nil {
		return minutes, err
	}

	return minutes + hours, nil
}

// decide translates window counts into a Decision. When consumed is true
// the counts already include the current request.
func (l *Limiter) decide(key *storage.APIKey, now time.Time, minuteCount, hourCount int64, consumed bool) Decision {
	perMinute := int64(key.RateLimitPerMinute)
	perHour := int64(key.RateLimitPerHour)

	minuteExceeded := perMinute > 0 && exceeds(minuteCount, perMinute, consumed)
	hourExceeded := perHour > 0 && exceeds(hourCount, perHour, consumed)

	remaining := int64(-1)
	if perMinute > 0 {
		remaining = clampZero(perMinute - minuteCount)
	}
	if perHour > 0 {
		if r := clampZero(perHour - hourCount); remaining < 0 || r < remaining {
			remaining = r
		}
	}
	if remaining < 0 {
		remaining = 0
	}

	// ResetAt is the boundary of the binding window: the hour boundary when
	// only the hourly quota is exhausted, otherwise the next minute.
	resetAt := nextMinute(now)
	if hourExceeded && !minuteExceeded {
		resetAt = nextHour(now)
	}

	return Decision{
		Allowed:   !minuteExceeded && !hourExceeded,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// exceeds compares a count against a limit. For consumed counts the current
// request is already included, so the limit itself is still allowed.
func exceeds(count, limit int64, consumed bool) bool {
	if consumed {
		return count > limit
	}
	return count >= limit
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func minuteSlot(t time.Time) int64 { return t.Unix() / 60 }
func hourSlot(t time.Time) int64   { return t.Unix() / 3600 }

func nextMinute(t time.Time) time.Time { return time.Unix((minuteSlot(t)+1)*60, 0).UTC() }
func nextHour(t time.Time) time.Time   { return time.Unix((hourSlot(t)+1)*3600, 0).UTC() }
