package addrspace

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/drmkit/gemkit/gem"
)

// InvalidOffset is the sentinel Alloc returns when the address interval
// cannot fit a request. It is never a valid placement; callers must check
// for it explicitly.
const InvalidOffset uint64 = ^uint64(0)

// Strategy hints where in the interval an allocator should prefer to place
// new allocations. Backends may ignore the hint.
type Strategy uint32

const (
	StrategyNone Strategy = iota
	StrategyLowToHigh
	StrategyHighToLow
)

var strategyMapping = map[Strategy]string{
	StrategyNone:      "StrategyNone",
	StrategyLowToHigh: "StrategyLowToHigh",
	StrategyHighToLow: "StrategyHighToLow",
}

func (s Strategy) String() string {
	str, ok := strategyMapping[s]
	if !ok {
		return "unknown Strategy"
	}
	return str
}

// Backend selects an Allocator implementation.
type Backend uint32

const (
	// BackendReloc is the bump-with-wraparound allocator used by
	// relocation-style tests.
	BackendReloc Backend = iota
)

var backendMapping = map[Backend]string{
	BackendReloc: "BackendReloc",
}

func (b Backend) String() string {
	str, ok := backendMapping[b]
	if !ok {
		return "unknown Backend"
	}
	return str
}

// Statistics is a point-in-time summary of an allocator's interval and
// live records.
type Statistics struct {
	// Start and End bound the usable interval.
	Start uint64
	End   uint64
	// Cursor is the next unallocated offset backends that bump report;
	// backends without a cursor report Start.
	Cursor uint64

	AllocationCount int
	AllocationBytes uint64
	// ReservationCount is zero on backends without range reservation.
	ReservationCount int
}

// Allocator hands out offsets within a bounded GPU address interval. One
// instance is owned by a single logical context; instances are not
// internally synchronized, and sharing one across goroutines requires
// external synchronization.
type Allocator interface {
	// Backend identifies the implementation.
	Backend() Backend

	// GetRange returns the usable interval [start, end).
	GetRange() (start, end uint64)

	// Alloc returns a placement offset for handle, or InvalidOffset when
	// the interval cannot fit the request. Re-requesting a live handle
	// with the same size returns its existing offset unchanged;
	// re-requesting with a different size panics. A zero or sub-page
	// alignment is raised to the page size; alignment must be a power of
	// two. Backends may ignore the strategy hint.
	Alloc(handle gem.Handle, size, alignment uint64, strategy Strategy) uint64

	// Free drops handle's record, reporting whether one existed.
	Free(handle gem.Handle) bool

	// IsAllocated reports whether handle is live with exactly this size
	// and offset. The offset may be in canonical (sign-extended) form; it
	// is normalized before comparison.
	IsAllocated(handle gem.Handle, size, offset uint64) bool

	// Reserve excludes [start, end) from future allocation under handle.
	// Backends without reservation support return false.
	Reserve(handle gem.Handle, start, end uint64) bool

	// Unreserve releases a reservation made by Reserve. Backends without
	// reservation support return false.
	Unreserve(handle gem.Handle, start, end uint64) bool

	// IsReserved reports whether [start, end) is currently reserved.
	// Backends without reservation support return false.
	IsReserved(start, end uint64) bool

	// Statistics summarizes the interval and live records.
	Statistics() Statistics

	// IntrospectJSON writes a diagnostic dump into an open JSON object;
	// full mode includes every live record. No correctness contract.
	IntrospectJSON(json jwriter.ObjectState, full bool)

	// IsEmpty reports whether no records are live.
	IsEmpty() bool

	// Destroy drops all records. The allocator must not be used
	// afterwards.
	Destroy()
}
