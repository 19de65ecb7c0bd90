// ABOUTME: Sliding-window rate limiter keyed by caller identifier
// ABOUTME: Per-identifier locking with a background sweep for idle windows

package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter enforces one quota class over a sliding window. The gateway runs
// two instances, one keyed by network address and one by credential; a
// request must pass both.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	quota   int
	period  time.Duration
	done    chan struct{}
	closed  bool
}

// New builds a limiter admitting at most quota requests per identifier in
// any trailing period. The sweeper drops fully idle identifiers every
// sweepInterval until Close.
func New(quota int, period, sweepInterval time.Duration) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		quota:   quota,
		period:  period,
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go l.sweep(sweepInterval)
	}
	return l
}

// Admit decides whether identifier may proceed right now. On admission it
// records the instant and reports the remaining quota. On rejection it
// reports how long until the oldest in-window instant slides out.
func (l *Limiter) Admit(identifier string) (allowed bool, remaining int, retryAfter time.Duration) {
	w := l.windowFor(identifier)
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, l.period)
	if len(w.timestamps) >= l.quota {
		retryAfter = l.period - now.Sub(w.timestamps[0])
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, 0, retryAfter
	}

	w.timestamps = append(w.timestamps, now)
	return true, l.quota - len(w.timestamps), 0
}

// Remaining reports the quota left for identifier without consuming any.
func (l *Limiter) Remaining(identifier string) int {
	l.mu.RLock()
	w, ok := l.windows[identifier]
	l.mu.RUnlock()
	if !ok {
		return l.quota
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(time.Now(), l.period)
	return l.quota - len(w.timestamps)
}

// SweepExpired removes identifiers whose whole window is stale and reports
// how many were dropped.
func (l *Limiter) SweepExpired(now time.Time) int {
	l.mu.RLock()
	candidates := make(map[string]*window, len(l.windows))
	for id, w := range l.windows {
		candidates[id] = w
	}
	l.mu.RUnlock()

	var idle []string
	for id, w := range candidates {
		w.mu.Lock()
		w.prune(now, l.period)
		if len(w.timestamps) == 0 {
			idle = append(idle, id)
		}
		w.mu.Unlock()
	}
	if len(idle) == 0 {
		return 0
	}

	removed := 0
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range idle {
		w, ok := l.windows[id]
		if !ok {
			continue
		}
		w.mu.Lock()
		empty := len(w.timestamps) == 0
		w.mu.Unlock()
		if empty {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Close stops the sweeper. Safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		close(l.done)
		l.closed = true
	}
}

func (l *Limiter) windowFor(identifier string) *window {
	l.mu.RLock()
	w, ok := l.windows[identifier]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[identifier]; ok {
		return w
	}
	w = &window{}
	l.windows[identifier] = w
	return w
}

func (l *Limiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.SweepExpired(time.Now())
		case <-l.done:
			return
		}
	}
}

// prune drops instants that have slid out of the trailing period. Instants
// arrive in order, so only a leading run can be stale. Must be called with
// the window lock held.
func (w *window) prune(now time.Time, period time.Duration) {
	cutoff := now.Add(-period)
	stale := 0
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			break
		}
		stale++
	}
	if stale > 0 {
		w.timestamps = append([]time.Time(nil), w.timestamps[stale:]...)
	}
}
