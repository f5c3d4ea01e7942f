package pricing

import (
	"github.com/sonicx222/arbitrage-new-sub012/internal/models"
)

// pairCache memoises pairKey normalisation for snapshot builds. It is
// bounded; on overflow the oldest fifth of entries is evicted so the hot
// working set survives. Callers hold the store lock.
type pairCache struct {
	max  int
	keys []string
	vals map[string]string
}

func newPairCache(max int) *pairCache {
	return &pairCache{
		max:  max,
		vals: make(map[string]string, max/4),
	}
}

func (c *pairCache) normalise(pairKey string) string {
	if v, ok := c.vals[pairKey]; ok {
		return v
	}
	norm := computeNormalisedPair(pairKey)
	if len(c.vals) >= c.max {
		evict := c.max / 5
		for _, k := range c.keys[:evict] {
			delete(c.vals, k)
		}
		c.keys = append(c.keys[:0:0], c.keys[evict:]...)
	}
	c.vals[pairKey] = norm
	c.keys = append(c.keys, pairKey)
	return norm
}

func (c *pairCache) clear() {
	c.keys = nil
	c.vals = make(map[string]string, c.max/4)
}

func (c *pairCache) len() int {
	return len(c.vals)
}

// computeNormalisedPair returns "" for keys with no extractable base token;
// such pairs are kept in raw but excluded from cross-venue grouping.
func computeNormalisedPair(pairKey string) string {
	base, quote := models.ParseTokenPair(pairKey)
	if base == "" {
		return ""
	}
	return models.CanonicalSymbol(base) + "_" + models.CanonicalSymbol(quote)
}
