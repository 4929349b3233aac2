package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/prism/prism/pkg/chunk"
)

// resultCache wraps go-cache with the size-capped LRU-style eviction of §4.4:
// entries carry a TTL, and once the item count reaches cap the oldest 10%
// (by nearest expiration) are evicted. go-cache does not track insertion
// order, so "oldest" is approximated by earliest expiration, which for a
// fixed-TTL cache is equivalent to insertion order.
type resultCache struct {
	mu  sync.Mutex
	c   *gocache.Cache
	ttl time.Duration
	cap int
}

func newResultCache(ttl time.Duration, capacity int) *resultCache {
	return &resultCache{
		c:   gocache.New(ttl, ttl/2),
		ttl: ttl,
		cap: capacity,
	}
}

func cacheKey(chunkID, query, currentFile, currentDir string) string {
	h := sha256.New()
	h.Write([]byte(chunkID))
	h.Write([]byte{0})
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(currentFile))
	h.Write([]byte{0})
	h.Write([]byte(currentDir))
	return hex.EncodeToString(h.Sum(nil))
}

func (rc *resultCache) get(key string) (chunk.RelevanceScore, bool) {
	v, ok := rc.c.Get(key)
	if !ok {
		return chunk.RelevanceScore{}, false
	}
	score, ok := v.(chunk.RelevanceScore)
	return score, ok
}

func (rc *resultCache) set(key string, score chunk.RelevanceScore) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.c.Set(key, score, rc.ttl)

	if rc.c.ItemCount() >= rc.cap {
		rc.evictOldestLocked()
	}
}

// evictOldestLocked removes the 10% of entries nearest to expiration.
// Caller must hold rc.mu.
func (rc *resultCache) evictOldestLocked() {
	items := rc.c.Items()
	type entry struct {
		key        string
		expiration int64
	}
	entries := make([]entry, 0, len(items))
	for k, item := range items {
		entries = append(entries, entry{key: k, expiration: item.Expiration})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].expiration < entries[j].expiration
	})

	evictCount := len(entries) / 10
	if evictCount == 0 && len(entries) > 0 {
		evictCount = 1
	}
	for i := 0; i < evictCount && i < len(entries); i++ {
		rc.c.Delete(entries[i].key)
	}
}

func (rc *resultCache) clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.c.Flush()
}
