package measure

import (
	"encoding/binary"
	"math"

	"github.com/coocood/freecache"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/population"
)

// MinCacheBytes is the smallest cache freecache will allocate.
const MinCacheBytes = 512 * 1024

// Cached memoizes another Measurer.  Entries are keyed by object identity,
// voxel set version, intensity volume identity and statistic, so a
// relabeled object or an unmodified reference still hits while a mutated
// one misses.
type Cached struct {
	next  population.Measurer
	cache *freecache.Cache
}

// NewCached wraps next with a cache of roughly numBytes.
func NewCached(next population.Measurer, numBytes int) *Cached {
	if numBytes < MinCacheBytes {
		numBytes = MinCacheBytes
	}
	logging.Debugf("Created freecache of ~ %d KB for intensity measurements.\n", numBytes>>10)
	return &Cached{next: next, cache: freecache.NewCache(numBytes)}
}

// Measure returns the cached value or delegates and stores the result.
func (c *Cached) Measure(obj *population.Object, vol *models.IntensityVolume, s population.Statistic) (float64, error) {
	key := cacheKey(obj, vol, s)
	if b, err := c.cache.Get(key); err == nil && len(b) == 8 {
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	} else if err != nil && err != freecache.ErrNotFound {
		return 0, err
	}
	v, err := c.next.Measure(obj, vol, s)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	if err := c.cache.Set(key, buf[:], 0); err != nil {
		logging.Warningf("unable to cache measurement for object %d: %v\n", obj.Label(), err)
	}
	return v, nil
}

// HitRate returns the fraction of lookups served from the cache.
func (c *Cached) HitRate() float64 {
	return c.cache.HitRate()
}

// Clear drops every cached entry.
func (c *Cached) Clear() {
	c.cache.Clear()
}

func cacheKey(obj *population.Object, vol *models.IntensityVolume, s population.Statistic) []byte {
	key := make([]byte, 0, 16+8+16+1)
	id := obj.ID()
	key = append(key, id[:]...)
	key = binary.LittleEndian.AppendUint64(key, obj.Version())
	key = append(key, vol.ID[:]...)
	return append(key, byte(s))
}
