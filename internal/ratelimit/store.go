package ratelimit

import (
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of taking one request slot from a Store.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Entry is a point-in-time view of one key's quota, for inspection.
type Entry struct {
	Key       string    `json:"key"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Store holds quota state. Implementations must be safe for concurrent use.
// A shared (e.g. networked) implementation can replace the in-memory ones
// when the relay runs as more than one process.
type Store interface {
	// Take consumes one slot for key at time now.
	Take(key string, now time.Time) Decision
	// Reset discards all state.
	Reset()
	// Snapshot reports the state of every tracked key.
	Snapshot(now time.Time) []Entry
}

type window struct {
	start time.Time
	count int
}

// FixedWindow allows max requests per key in consecutive windows of the
// given length. The window for a key opens on its first request.
type FixedWindow struct {
	mu      sync.Mutex
	max     int
	length  time.Duration
	windows map[string]*window
}

// NewFixedWindow creates a fixed-window counter store.
func NewFixedWindow(max int, length time.Duration) *FixedWindow {
	return &FixedWindow{
		max:     max,
		length:  length,
		windows: make(map[string]*window),
	}
}

// Take implements Store. Rejected requests do not count against the window.
func (f *FixedWindow) Take(key string, now time.Time) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := f.current(key, now)
	reset := w.start.Add(f.length)
	if w.count >= f.max {
		return Decision{Allowed: false, Limit: f.max, Remaining: 0, ResetAt: reset}
	}
	w.count++
	return Decision{Allowed: true, Limit: f.max, Remaining: f.max - w.count, ResetAt: reset}
}

// current returns the live window for key, opening a new one when the
// previous has expired. Caller must hold f.mu.
func (f *FixedWindow) current(key string, now time.Time) *window {
	w, ok := f.windows[key]
	if !ok || !now.Before(w.start.Add(f.length)) {
		w = &window{start: now}
		f.windows[key] = w
	}
	return w
}

// Reset implements Store.
func (f *FixedWindow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = make(map[string]*window)
}

// Snapshot implements Store. Expired windows are reported as full quota.
func (f *FixedWindow) Snapshot(now time.Time) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := make([]Entry, 0, len(f.windows))
	for key, w := range f.windows {
		e := Entry{Key: key, Limit: f.max, Remaining: f.max - w.count, ResetAt: w.start.Add(f.length)}
		if !now.Before(e.ResetAt) {
			e.Remaining = f.max
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries
}

// TokenBucket spreads the quota evenly: a burst of max requests, refilled at
// max per window.
type TokenBucket struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// NewTokenBucket creates a token-bucket store backed by golang.org/x/time/rate.
func NewTokenBucket(max int, length time.Duration) *TokenBucket {
	return &TokenBucket{
		limit:   rate.Limit(float64(max) / length.Seconds()),
		burst:   max,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (b *TokenBucket) bucket(key string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.buckets[key]
	if !ok {
		lim = rate.NewLimiter(b.limit, b.burst)
		b.buckets[key] = lim
	}
	return lim
}

// Take implements Store. rate.Limiter is internally goroutine-safe so
// AllowN does not need to be called under our lock.
func (b *TokenBucket) Take(key string, now time.Time) Decision {
	lim := b.bucket(key)
	allowed := lim.AllowN(now, 1)
	tokens := lim.TokensAt(now)

	d := Decision{Allowed: allowed, Limit: b.burst, Remaining: remainingTokens(tokens)}
	if allowed {
		d.ResetAt = now.Add(b.refill(float64(b.burst) - tokens))
	} else {
		d.ResetAt = now.Add(b.refill(1 - tokens))
	}
	return d
}

// refill returns how long it takes to earn n tokens.
func (b *TokenBucket) refill(n float64) time.Duration {
	if n <= 0 || b.limit <= 0 {
		return 0
	}
	return time.Duration(n / float64(b.limit) * float64(time.Second))
}

// Reset implements Store.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buckets = make(map[string]*rate.Limiter)
}

// Snapshot implements Store.
func (b *TokenBucket) Snapshot(now time.Time) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]Entry, 0, len(b.buckets))
	for key, lim := range b.buckets {
		tokens := lim.TokensAt(now)
		entries = append(entries, Entry{
			Key:       key,
			Limit:     b.burst,
			Remaining: remainingTokens(tokens),
			ResetAt:   now.Add(b.refill(float64(b.burst) - tokens)),
		})
	}
	sortEntries(entries)
	return entries
}

func remainingTokens(tokens float64) int {
	if tokens < 0 {
		return 0
	}
	return int(math.Floor(tokens))
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}
