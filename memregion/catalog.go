package memregion

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"

	"github.com/drmkit/gemkit/gem"
)

// Catalog is one normalized snapshot of a device's memory topology. A
// snapshot is immutable once built; re-query the device for a fresh view.
type Catalog struct {
	logger   *slog.Logger
	regions  []gem.RegionInfo
	degraded bool
}

// Query builds a Catalog from the device's topology query. Drivers that
// predate the query degrade to a single synthetic system-memory region of
// unknown size rather than failing, so callers never special-case driver
// age. Any other query failure is returned as an error.
func Query(logger *slog.Logger, device gem.Device) (*Catalog, error) {
	logger.Debug("memregion.Query")

	regions, err := device.QueryMemoryRegions()
	if err != nil {
		if !gem.IsNotSupported(err) {
			return nil, errors.Wrap(err, "error querying memory topology")
		}

		logger.Debug("memregion.Query: topology query not supported, using legacy system region",
			slog.String("error", err.Error()))
		return &Catalog{
			logger:   logger,
			regions:  []gem.RegionInfo{legacySystemRegion()},
			degraded: true,
		}, nil
	}

	regions = slices.Clone(regions)
	slices.SortFunc(regions, func(a, b gem.RegionInfo) bool {
		if a.Region.Class != b.Region.Class {
			return a.Region.Class < b.Region.Class
		}
		return a.Region.Instance < b.Region.Instance
	})

	return &Catalog{
		logger:  logger,
		regions: regions,
	}, nil
}

// ForEachRegion queries the device's topology and calls handler once per
// region, in (class, instance) order. Iteration stops at the first handler
// error, which is returned. Each call re-queries the device, so successive
// iterations observe topology changes; do not mutate the device's region
// set concurrently with one iteration.
func ForEachRegion(logger *slog.Logger, device gem.Device, handler func(info gem.RegionInfo) error) error {
	catalog, err := Query(logger, device)
	if err != nil {
		return err
	}

	for _, info := range catalog.regions {
		err = handler(info)
		if err != nil {
			return err
		}
	}

	return nil
}

func legacySystemRegion() gem.RegionInfo {
	return gem.RegionInfo{
		Region:          gem.RegionID{Class: gem.ClassSystem, Instance: 0},
		ProbedSize:      gem.UnknownSize,
		UnallocatedSize: gem.UnknownSize,
		CPUVisibleSize:  gem.UnknownSize,
	}
}

// Degraded returns true when this snapshot came from the legacy fallback
// rather than a real topology query.
func (c *Catalog) Degraded() bool {
	return c.degraded
}

// Regions returns a copy of the snapshot's region records.
func (c *Catalog) Regions() []gem.RegionInfo {
	return slices.Clone(c.regions)
}

// Count returns the number of regions of the given class in this snapshot.
func (c *Catalog) Count(class gem.MemoryClass) int {
	count := 0
	for _, info := range c.regions {
		if info.Region.Class == class {
			count++
		}
	}
	return count
}

// HasDeviceLocal returns true when the snapshot contains at least one
// device-local region.
func (c *Catalog) HasDeviceLocal() bool {
	return c.Count(gem.ClassDevice) > 0
}

// TotalSize sums the probed capacity of every region of the given class.
// If any contributing region's capacity is unknown, the total is
// gem.UnknownSize. A class with no regions sums to 0.
func (c *Catalog) TotalSize(class gem.MemoryClass) uint64 {
	var total uint64
	for _, info := range c.regions {
		if info.Region.Class != class {
			continue
		}
		if info.ProbedSize == gem.UnknownSize {
			return gem.UnknownSize
		}
		total += info.ProbedSize
	}
	return total
}

// TotalAvailable sums the unallocated capacity of every region of the
// given class, with the same unknown propagation as TotalSize.
func (c *Catalog) TotalAvailable(class gem.MemoryClass) uint64 {
	var total uint64
	for _, info := range c.regions {
		if info.Region.Class != class {
			continue
		}
		if info.UnallocatedSize == gem.UnknownSize {
			return gem.UnknownSize
		}
		total += info.UnallocatedSize
	}
	return total
}

// SizeOf returns the probed capacity of one region, which may be
// gem.UnknownSize. Regions absent from the snapshot report 0, not unknown.
func (c *Catalog) SizeOf(region gem.RegionID) uint64 {
	for _, info := range c.regions {
		if info.Region == region {
			return info.ProbedSize
		}
	}
	return 0
}

// AvailableOf returns the unallocated capacity of one region, which may be
// gem.UnknownSize. Regions absent from the snapshot report 0, not unknown.
func (c *Catalog) AvailableOf(region gem.RegionID) uint64 {
	for _, info := range c.regions {
		if info.Region == region {
			return info.UnallocatedSize
		}
	}
	return 0
}

// RegionsJSON writes the snapshot into an open JSON object, one child
// object per region plus the degraded flag. Diagnostic output only.
func (c *Catalog) RegionsJSON(json jwriter.ObjectState) {
	c.logger.Debug("Catalog::RegionsJSON")

	json.Name("Degraded").Bool(c.degraded)

	arrayState := json.Name("Regions").Array()
	defer arrayState.End()

	for _, info := range c.regions {
		obj := arrayState.Object()

		obj.Name("Region").String(info.Region.String())
		sizeJSON(obj, "ProbedSize", info.ProbedSize)
		sizeJSON(obj, "UnallocatedSize", info.UnallocatedSize)
		sizeJSON(obj, "CPUVisibleSize", info.CPUVisibleSize)

		obj.End()
	}
}

func sizeJSON(json jwriter.ObjectState, name string, size uint64) {
	if size == gem.UnknownSize {
		json.Name(name).String("unknown")
		return
	}
	json.Name(name).Int(int(size))
}
