package scoring

import (
	"sync"
	"time"
)

// UsageTracker records per-chunk access times and counts, feeding the
// recency and frequency scorers. Usage data is session-volatile by design
// (§11 Open Questions): it is not persisted across process restarts.
type UsageTracker struct {
	mu         sync.Mutex
	lastAccess map[string]time.Time
	counts     map[string]int
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		lastAccess: make(map[string]time.Time),
		counts:     make(map[string]int),
	}
}

// RecordAccess marks chunkID as accessed now, incrementing its usage count.
func (t *UsageTracker) RecordAccess(chunkID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAccess[chunkID] = time.Now()
	t.counts[chunkID]++
}

// LastAccess implements the lookup signature RecencyScorer expects.
func (t *UsageTracker) LastAccess(chunkID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastAccess[chunkID]
	return ts, ok
}

// Count implements the lookup signature FrequencyScorer expects.
func (t *UsageTracker) Count(chunkID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[chunkID]
}
