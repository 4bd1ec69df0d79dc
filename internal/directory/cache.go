package directory

import (
	"strings"
	"sync"
)

// entry is one cached path->prefix resolution with the bookkeeping an
// adaptive frequency/recency score needs.
type entry struct {
	prefix    []byte
	frequency int64
	lastUsed  int64
}

// prefixCache is a bounded cache scored by a blend of access frequency
// and recency, adapted from the teacher's adaptive LRU/LFU cache: each
// hit bumps frequency and recency; eviction under pressure drops the
// lowest-scoring entry rather than strictly the oldest or the
// least-frequently-used one.
type prefixCache struct {
	mu              sync.Mutex
	maxSize         int
	entries         map[string]*entry
	clock           int64
	frequencyWeight float64
	recencyWeight   float64
	hits            int64
	misses          int64
	evictions       int64
}

func newPrefixCache(maxSize int) *prefixCache {
	return &prefixCache{
		maxSize:         maxSize,
		entries:         make(map[string]*entry),
		frequencyWeight: 0.5,
		recencyWeight:   0.5,
	}
}

func (c *prefixCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e.frequency++
	e.lastUsed = c.clock
	c.hits++
	return e.prefix, true
}

func (c *prefixCache) put(key string, prefix []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	if e, ok := c.entries[key]; ok {
		e.prefix = prefix
		e.lastUsed = c.clock
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictLowestScoreLocked()
	}
	c.entries[key] = &entry{prefix: prefix, frequency: 1, lastUsed: c.clock}
}

func (c *prefixCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// removePrefix drops key and every cached entry nested under it
// (key + "/...").
func (c *prefixCache) removePrefix(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	for k := range c.entries {
		if strings.HasPrefix(k, key+"/") {
			delete(c.entries, k)
		}
	}
}

func (c *prefixCache) calculateScore(e *entry) float64 {
	recency := float64(c.clock - e.lastUsed)
	// Lower recency gap and higher frequency both raise the score;
	// recency is inverted (1/(1+gap)) so it stays comparable in scale to
	// frequency instead of dominating it linearly.
	return c.frequencyWeight*float64(e.frequency) + c.recencyWeight*(1.0/(1.0+recency))
}

func (c *prefixCache) evictLowestScoreLocked() {
	var worstKey string
	var worstScore float64
	first := true
	for k, e := range c.entries {
		score := c.calculateScore(e)
		if first || score < worstScore {
			worstKey, worstScore, first = k, score, false
		}
	}
	if !first {
		delete(c.entries, worstKey)
		c.evictions++
	}
}

// AdjustWeights retunes the frequency/recency blend based on the
// observed hit ratio: a cold cache (many misses) leans toward recency
// (favor what was just resolved), a hot cache leans toward frequency.
func (c *prefixCache) AdjustWeights() {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	if total == 0 {
		return
	}
	hitRatio := float64(c.hits) / float64(total)
	c.frequencyWeight = hitRatio
	c.recencyWeight = 1 - hitRatio
}

type CacheStats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
}

func (c *prefixCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Size: len(c.entries), Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
}
