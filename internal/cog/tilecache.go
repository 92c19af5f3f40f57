package cog

import "sync"

// chunkCache keeps decoded chunks (tiles or strips) of one band so that
// adjacent block windows do not decode the same chunk twice. Eviction is
// first-in first-out, which matches the row-major access pattern of block
// iteration.
type chunkCache struct {
	mu         sync.Mutex
	cache      map[int][]float64
	order      []int
	samples    int
	maxSamples int
}

// DefaultCacheSamples bounds the decoded samples kept per band (128 MiB of
// float64). It covers a full block row of a Landsat scene at the default
// block size.
const DefaultCacheSamples = 16 << 20

func newChunkCache(maxSamples int) *chunkCache {
	if maxSamples <= 0 {
		maxSamples = DefaultCacheSamples
	}
	return &chunkCache{
		cache:      make(map[int][]float64),
		maxSamples: maxSamples,
	}
}

// get returns the decoded chunk, or nil if it is not cached.
func (c *chunkCache) get(idx int) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache[idx]
}

// put stores a decoded chunk, evicting the oldest entries while over budget.
func (c *chunkCache) put(idx int, data []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cache[idx]; ok {
		return
	}

	for c.samples+len(data) > c.maxSamples && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		c.samples -= len(c.cache[oldest])
		delete(c.cache, oldest)
	}

	c.cache[idx] = data
	c.order = append(c.order, idx)
	c.samples += len(data)
}

// len returns the number of cached chunks.
func (c *chunkCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
