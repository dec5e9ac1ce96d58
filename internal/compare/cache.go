package compare

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
)

// DefaultCacheSize bounds the comparison cache. Entries are content-addressed
// and cheap to recompute, so the eviction victim does not matter.
const DefaultCacheSize = 512

type resultCache struct {
	mu      sync.Mutex
	entries map[string]domain.ComparisonResult
	cap     int
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &resultCache{
		entries: make(map[string]domain.ComparisonResult),
		cap:     capacity,
	}
}

func cacheKey(workflowID, normBaseline, normCurrent string) string {
	h := sha256.New()
	h.Write([]byte(workflowID))
	h.Write([]byte{0})
	h.Write([]byte(normBaseline))
	h.Write([]byte{0})
	h.Write([]byte(normCurrent))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *resultCache) get(key string) (domain.ComparisonResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

func (c *resultCache) put(key string, r domain.ComparisonResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.cap {
		// Random victim via map iteration order
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = r
}
