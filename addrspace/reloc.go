package addrspace

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/drmkit/gemkit/gem"
	"github.com/drmkit/gemkit/memutils"
)

// relocBias is the floor below which no reloc allocator hands out
// offsets. The first 256 KiB of the address space stay out of circulation
// so offset 0 and its neighborhood remain usable as sentinel values by
// relocation tests; an interval that begins below the floor is clamped up
// to it.
const relocBias uint64 = 256 << 10

type allocationRecord struct {
	offset uint64
	size   uint64
}

// RelocAllocator hands out monotonically increasing offsets from a
// cursor, wrapping back to the interval start when a request would run
// past the end. Freed space is not reclaimed except by the cursor wrapping
// around into it; relocation-style tests allocate short-lived address
// spaces where that simplicity wins over a free list.
//
// A per-handle record map makes re-allocation of a live handle idempotent:
// the same offset comes back, and a size mismatch panics.
//
// RelocAllocator is not internally synchronized; see Allocator.
type RelocAllocator struct {
	logger *slog.Logger

	start  uint64
	end    uint64
	cursor uint64

	records        *swiss.Map[gem.Handle, *allocationRecord]
	allocatedBytes uint64
}

var _ Allocator = &RelocAllocator{}
var _ memutils.Validatable = &RelocAllocator{}

// NewRelocAllocator creates a RelocAllocator over [start, end), with the
// start clamped up to the fixed low reservation. It panics when no usable
// interval remains above the reservation.
func NewRelocAllocator(logger *slog.Logger, start, end uint64) *RelocAllocator {
	usableStart := start
	if usableStart < relocBias {
		usableStart = relocBias
	}
	if usableStart >= end {
		panic(fmt.Sprintf("reloc allocator interval [%#x, %#x) has no space above the %#x low reservation", start, end, relocBias))
	}

	return &RelocAllocator{
		logger:  logger,
		start:   usableStart,
		end:     end,
		cursor:  usableStart,
		records: swiss.NewMap[gem.Handle, *allocationRecord](16),
	}
}

// Backend returns BackendReloc.
func (a *RelocAllocator) Backend() Backend {
	return BackendReloc
}

// GetRange returns the usable interval, with the start already clamped
// to the low reservation.
func (a *RelocAllocator) GetRange() (start, end uint64) {
	return a.start, a.end
}

// Alloc implements Allocator.Alloc with a bump cursor: align the cursor up,
// wrap once if the request would run past the end, and report InvalidOffset
// when it still does not fit. The strategy hint is ignored.
func (a *RelocAllocator) Alloc(handle gem.Handle, size, alignment uint64, strategy Strategy) uint64 {
	a.logger.Debug("RelocAllocator::Alloc",
		slog.Uint64("handle", uint64(handle)),
		slog.Uint64("size", size),
		slog.Uint64("alignment", alignment),
		slog.String("strategy", strategy.String()))

	if record, ok := a.records.Get(handle); ok {
		if record.size != size {
			panic(fmt.Sprintf("handle %d re-allocated with size %#x but holds %#x", handle, size, record.size))
		}
		return record.offset
	}

	if alignment < gem.PageSize {
		alignment = gem.PageSize
	}
	memutils.DebugCheckPow2(alignment, "allocation alignment")

	offset := memutils.AlignUp(a.cursor, alignment)
	if !a.fits(offset, size) {
		offset = memutils.AlignUp(a.start, alignment)
		if !a.fits(offset, size) {
			return InvalidOffset
		}
	}

	a.records.Put(handle, &allocationRecord{offset: offset, size: size})
	a.allocatedBytes += size
	a.cursor = offset + size

	memutils.DebugValidate(a)
	return offset
}

func (a *RelocAllocator) fits(offset, size uint64) bool {
	return size <= a.end && offset <= a.end-size
}

// Free implements Allocator.Free. The cursor does not move; the freed
// range becomes reusable only when the cursor wraps back over it.
func (a *RelocAllocator) Free(handle gem.Handle) bool {
	record, ok := a.records.Get(handle)
	if !ok {
		return false
	}

	a.records.Delete(handle)
	a.allocatedBytes -= record.size

	memutils.DebugValidate(a)
	return true
}

// IsAllocated implements Allocator.IsAllocated. The offset is accepted in
// canonical or plain form.
func (a *RelocAllocator) IsAllocated(handle gem.Handle, size, offset uint64) bool {
	record, ok := a.records.Get(handle)
	if !ok {
		return false
	}
	return record.size == size && record.offset == Decanonical(offset)
}

// Reserve is unsupported on the reloc backend and always returns false.
func (a *RelocAllocator) Reserve(handle gem.Handle, start, end uint64) bool {
	return false
}

// Unreserve is unsupported on the reloc backend and always returns false.
func (a *RelocAllocator) Unreserve(handle gem.Handle, start, end uint64) bool {
	return false
}

// IsReserved is unsupported on the reloc backend and always returns false.
func (a *RelocAllocator) IsReserved(start, end uint64) bool {
	return false
}

// IsEmpty reports whether no allocation records are live.
func (a *RelocAllocator) IsEmpty() bool {
	return a.records.Count() == 0
}

// Statistics implements Allocator.Statistics.
func (a *RelocAllocator) Statistics() Statistics {
	return Statistics{
		Start:           a.start,
		End:             a.end,
		Cursor:          a.cursor,
		AllocationCount: a.records.Count(),
		AllocationBytes: a.allocatedBytes,
	}
}

// Validate performs internal consistency checks; it returns an error only
// when the allocator's bookkeeping has been corrupted.
func (a *RelocAllocator) Validate() error {
	if a.cursor < a.start || a.cursor > a.end {
		return errors.Errorf("the cursor %#x has left the interval [%#x, %#x)", a.cursor, a.start, a.end)
	}

	var liveBytes uint64
	var invalid error
	a.records.Iter(func(handle gem.Handle, record *allocationRecord) bool {
		if record.offset < a.start || record.offset > a.end-record.size {
			invalid = errors.Errorf("handle %d holds [%#x, %#x), outside the interval [%#x, %#x)",
				handle, record.offset, record.offset+record.size, a.start, a.end)
			return true
		}
		liveBytes += record.size
		return false
	})
	if invalid != nil {
		return invalid
	}

	if liveBytes != a.allocatedBytes {
		return errors.Errorf("live records hold %d bytes but the allocator accounts %d", liveBytes, a.allocatedBytes)
	}
	return nil
}

// Destroy implements Allocator.Destroy.
func (a *RelocAllocator) Destroy() {
	a.logger.Debug("RelocAllocator::Destroy")
	a.records = nil
}
