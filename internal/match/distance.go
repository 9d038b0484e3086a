package match

import (
	"github.com/agnivade/levenshtein"
	lru "github.com/hashicorp/golang-lru/v2"
)

type pairKey struct {
	a, b string
}

// DistanceCache memoizes edit distances per ordered pair. It is safe for
// concurrent use.
type DistanceCache struct {
	cache *lru.Cache[pairKey, int]
}

func NewDistanceCache(cacheSize int) *DistanceCache {
	return &DistanceCache{cache: newCache[pairKey, int](cacheSize)}
}

// Distance returns the Levenshtein distance between a and b counted in runes.
func (d *DistanceCache) Distance(a, b string) int {
	if d == nil || d.cache == nil {
		return levenshtein.ComputeDistance(a, b)
	}
	key := pairKey{a: a, b: b}
	if cached, ok := d.cache.Get(key); ok {
		return cached
	}
	dist := levenshtein.ComputeDistance(a, b)
	d.cache.Add(key, dist)
	return dist
}
