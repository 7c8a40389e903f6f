package constraint

import (
	"sync"

	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/drmkit/gemkit/gem"
	"github.com/drmkit/gemkit/memregion"
)

type entryKind uint32

const (
	kindMinStartOffset entryKind = iota
	kindMinAlignment
	kindSafeStartOffset
	kindSafeAlignment
)

var entryKindMapping = map[entryKind]string{
	kindMinStartOffset:  "MinStartOffset",
	kindMinAlignment:    "MinAlignment",
	kindSafeStartOffset: "SafeStartOffset",
	kindSafeAlignment:   "SafeAlignment",
}

func (k entryKind) String() string {
	str, ok := entryKindMapping[k]
	if !ok {
		return "unknown entryKind"
	}
	return str
}

// cacheKey identifies one cached constraint: the kind, the hardware the
// value was probed on, and the region key. region2 participates only in
// alignment entries; the safe kinds use neither region field.
type cacheKey struct {
	kind    entryKind
	device  uint32
	region1 gem.RegionID
	region2 gem.RegionID
}

// Cache memoizes probed placement constraints for the life of the process.
// Probes are expensive (several blocking command submissions each), so
// every discovered value is kept forever and shared across threads.
//
// Population is double-checked: the lock covers only lookup and insert,
// never a running probe, so concurrent lookups of different keys do not
// serialize behind one probe. When two threads race to populate the same
// key, the first insert wins and later computations are discarded, keeping
// one canonical value per key.
//
// Cache is safe for concurrent use.
type Cache struct {
	logger *slog.Logger
	prober Prober

	mutex   sync.Mutex
	entries *swiss.Map[cacheKey, uint64]
}

// NewCache creates an empty Cache populating through prober. Most callers
// want the process-wide cache behind the package-level functions instead;
// NewCache exists for harnesses that inject their own prober.
func NewCache(logger *slog.Logger, prober Prober) *Cache {
	return &Cache{
		logger:  logger,
		prober:  prober,
		entries: swiss.NewMap[cacheKey, uint64](16),
	}
}

func (c *Cache) getOrCompute(key cacheKey, compute func() (uint64, error)) (uint64, error) {
	c.mutex.Lock()
	value, ok := c.entries.Get(key)
	c.mutex.Unlock()
	if ok {
		return value, nil
	}

	// Not cached: compute without the lock. A failed computation is never
	// inserted, so the next caller re-probes.
	value, err := compute()
	if err != nil {
		return 0, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	existing, ok := c.entries.Get(key)
	if ok {
		// Another thread finished the same probe first. Its value is the
		// canonical one; drop ours.
		c.logger.Debug("Cache::getOrCompute discarding duplicate computation",
			slog.String("kind", key.kind.String()),
			slog.Uint64("existing", existing),
			slog.Uint64("discarded", value))
		return existing, nil
	}

	c.entries.Put(key, value)
	return value, nil
}

// MinStartOffset returns the smallest offset at which the region accepts a
// pinned object, probing the hardware on the first request per
// (device, region).
func (c *Cache) MinStartOffset(device gem.Device, region gem.RegionID) (uint64, error) {
	key := cacheKey{
		kind:    kindMinStartOffset,
		device:  device.HardwareID(),
		region1: region,
	}
	return c.getOrCompute(key, func() (uint64, error) {
		return c.prober.MinStartOffset(device, region)
	})
}

// MinAlignment returns the smallest placement alignment required between a
// command stream in region1 and an object in region2, probing the hardware
// on the first request per (device, region pair).
func (c *Cache) MinAlignment(device gem.Device, region1, region2 gem.RegionID) (uint64, error) {
	batchOffset, err := c.MinStartOffset(device, region1)
	if err != nil {
		return 0, err
	}

	key := cacheKey{
		kind:    kindMinAlignment,
		device:  device.HardwareID(),
		region1: region1,
		region2: region2,
	}
	return c.getOrCompute(key, func() (uint64, error) {
		return c.prober.MinAlignment(device, region1, region2, batchOffset)
	})
}

// SafeStartOffset returns an offset usable against every region on the
// device: the maximum of all per-region minimum start offsets.
func (c *Cache) SafeStartOffset(device gem.Device) (uint64, error) {
	key := cacheKey{
		kind:   kindSafeStartOffset,
		device: device.HardwareID(),
	}
	return c.getOrCompute(key, func() (uint64, error) {
		catalog, err := memregion.Query(c.logger, device)
		if err != nil {
			return 0, err
		}

		var safe uint64
		for _, info := range catalog.Regions() {
			offset, err := c.MinStartOffset(device, info.Region)
			if err != nil {
				return 0, err
			}
			if offset > safe {
				safe = offset
			}
		}
		return safe, nil
	})
}

// SafeAlignment returns an alignment usable between any two regions on the
// device: the maximum of the minimum alignments of every ordered region
// pair. Devices exposing only system memory have no cross-region placement
// concern and report the page size without probing.
func (c *Cache) SafeAlignment(device gem.Device) (uint64, error) {
	key := cacheKey{
		kind:   kindSafeAlignment,
		device: device.HardwareID(),
	}
	return c.getOrCompute(key, func() (uint64, error) {
		catalog, err := memregion.Query(c.logger, device)
		if err != nil {
			return 0, err
		}
		if !catalog.HasDeviceLocal() {
			return gem.PageSize, nil
		}

		safe := gem.PageSize
		for _, first := range catalog.Regions() {
			for _, second := range catalog.Regions() {
				alignment, err := c.MinAlignment(device, first.Region, second.Region)
				if err != nil {
					return 0, err
				}
				if alignment > safe {
					safe = alignment
				}
			}
		}
		return safe, nil
	})
}

var (
	defaultCacheOnce sync.Once
	defaultCache     *Cache
)

// DefaultCache returns the process-wide cache, created on first use with a
// hardware prober. It lives for the remainder of the process; there is no
// teardown.
func DefaultCache() *Cache {
	defaultCacheOnce.Do(func() {
		logger := slog.Default()
		defaultCache = NewCache(logger, NewHardwareProber(logger))
	})
	return defaultCache
}

// MinStartOffset looks up or probes the region's minimum start offset
// through the process-wide cache.
func MinStartOffset(device gem.Device, region gem.RegionID) (uint64, error) {
	return DefaultCache().MinStartOffset(device, region)
}

// MinAlignment looks up or probes the pair's minimum alignment through the
// process-wide cache.
func MinAlignment(device gem.Device, region1, region2 gem.RegionID) (uint64, error) {
	return DefaultCache().MinAlignment(device, region1, region2)
}

// SafeStartOffset looks up or computes the device-wide safe start offset
// through the process-wide cache.
func SafeStartOffset(device gem.Device) (uint64, error) {
	return DefaultCache().SafeStartOffset(device)
}

// SafeAlignment looks up or computes the device-wide safe alignment
// through the process-wide cache.
func SafeAlignment(device gem.Device) (uint64, error) {
	return DefaultCache().SafeAlignment(device)
}
