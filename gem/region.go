package gem

import "fmt"

// MemoryClass distinguishes the broad kinds of memory pool a device
// exposes.
type MemoryClass uint16

const (
	// ClassSystem is host-visible system memory.
	ClassSystem MemoryClass = iota
	// ClassDevice is device-local memory, present only on discrete parts.
	ClassDevice
)

var memoryClassMapping = map[MemoryClass]string{
	ClassSystem: "system",
	ClassDevice: "device",
}

func (c MemoryClass) String() string {
	if name, ok := memoryClassMapping[c]; ok {
		return name
	}
	return fmt.Sprintf("class%d", uint16(c))
}

// RegionID identifies one memory region by class and instance index. The
// pair is unique within one topology snapshot and stable for the lifetime
// of a device session.
type RegionID struct {
	Class    MemoryClass
	Instance uint16
}

func (r RegionID) String() string {
	return fmt.Sprintf("%s%d", r.Class, r.Instance)
}

// UnknownSize is the sentinel a device reports for region capacities it
// does not disclose. It propagates through catalog aggregates rather than
// being approximated away.
const UnknownSize uint64 = ^uint64(0)

// RegionInfo is one raw row of the device's memory-topology query.
type RegionInfo struct {
	Region RegionID

	// ProbedSize is the region's total capacity, or UnknownSize.
	ProbedSize uint64

	// UnallocatedSize is the capacity not currently allocated, or
	// UnknownSize.
	UnallocatedSize uint64

	// CPUVisibleSize is the size of the CPU-mappable subset of the region.
	// Zero means the whole region is CPU-visible; UnknownSize means the
	// driver does not report it.
	CPUVisibleSize uint64
}
