package cache

import (
	"sync"
	"time"
)

// Dedupe remembers keys for a bounded window so redelivered platform
// updates can be dropped instead of producing a second reply. Size is
// capped; when full, the oldest entry is evicted.
type Dedupe struct {
	mu      sync.Mutex
	seen    map[string]int64
	ttl     time.Duration
	maxSize int
}

// NewDedupe creates a dedupe window. A non-positive ttl means entries
// never age out; a non-positive maxSize defaults to 4096.
func NewDedupe(ttl time.Duration, maxSize int) *Dedupe {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &Dedupe{
		seen:    make(map[string]int64),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Seen reports whether key was recorded within the window, recording
// it either way. The empty key is never a duplicate.
func (d *Dedupe) Seen(key string) bool {
	return d.SeenAt(key, time.Now())
}

// SeenAt is Seen with an explicit clock (for testing).
func (d *Dedupe) SeenAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	nowMs := now.UnixMilli()
	if prior, ok := d.seen[key]; ok {
		if d.ttl <= 0 || nowMs-prior < d.ttl.Milliseconds() {
			d.seen[key] = nowMs
			return true
		}
	}

	d.seen[key] = nowMs
	d.prune(nowMs)
	return false
}

// Len returns the number of remembered keys.
func (d *Dedupe) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// prune must be called with the lock held.
func (d *Dedupe) prune(nowMs int64) {
	if d.ttl > 0 {
		cutoff := nowMs - d.ttl.Milliseconds()
		for key, ts := range d.seen {
			if ts < cutoff {
				delete(d.seen, key)
			}
		}
	}

	for len(d.seen) > d.maxSize {
		var oldestKey string
		oldestTs := int64(1<<63 - 1)
		for k, ts := range d.seen {
			if ts < oldestTs {
				oldestTs = ts
				oldestKey = k
			}
		}
		delete(d.seen, oldestKey)
	}
}
