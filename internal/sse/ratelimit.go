package sse

import (
	"sync"
	"time"
)

// upsLimiter enforces the per-connection minimum interval between
// metrics frames for each ups_id. One instance per connection, guarded
// by a mutex because the bus delivers on its own goroutines.
type upsLimiter struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func newUPSLimiter(interval time.Duration) *upsLimiter {
	return &upsLimiter{
		interval: interval,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Allow reports whether a metrics frame for upsID may go out now.
// admit is consulted after the interval check; the emission timestamp
// is recorded only when both pass, so a frame vetoed downstream does
// not silence the ups_id for a full interval.
func (l *upsLimiter) Allow(upsID string, admit func() bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if last, ok := l.last[upsID]; ok && now.Sub(last) < l.interval {
		return false
	}
	if admit != nil && !admit() {
		return false
	}
	l.last[upsID] = now
	return true
}

// GlobalLimiter caps metrics frames across every connection at
// maxFrames per rolling-reset window: the counter resets whenever a
// full window has elapsed since the window opened.
type GlobalLimiter struct {
	maxFrames int
	window    time.Duration
	now       func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

const (
	globalMaxFrames = 50
	globalWindow    = time.Second
)

func NewGlobalLimiter() *GlobalLimiter {
	return &GlobalLimiter{
		maxFrames: globalMaxFrames,
		window:    globalWindow,
		now:       time.Now,
	}
}

func (l *GlobalLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.maxFrames {
		return false
	}
	l.count++
	return true
}

// parseRate maps the ?rate= query value onto the supported intervals.
func parseRate(raw string) time.Duration {
	switch raw {
	case "1s":
		return time.Second
	case "5s":
		return 5 * time.Second
	default:
		return 3 * time.Second
	}
}
