package addrspace

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slog"

	"github.com/drmkit/gemkit/gem"
)

type registryKey struct {
	device gem.Device
	ctx    gem.ContextID
}

type registryEntry struct {
	allocator Allocator
	backend   Backend
	start     uint64
	end       uint64
	refs      int
}

var (
	registryMutex sync.Mutex
	registry      = map[registryKey]*registryEntry{}
)

// Open returns the process-wide allocator for (device, ctx), creating it
// on the first open and handing the same instance back on every open
// until a matching number of Close calls releases it. Reopening must name
// the backend and interval the allocator was created with; a mismatch
// panics. logger is used only by the open that creates the instance.
//
// The registry shares instances without adding synchronization: an
// allocator is owned by one logical context, and callers sharing one
// across goroutines synchronize externally.
func Open(logger *slog.Logger, device gem.Device, ctx gem.ContextID, backend Backend, start, end uint64) Allocator {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	key := registryKey{device: device, ctx: ctx}
	entry, ok := registry[key]
	if ok {
		if entry.backend != backend || entry.start != start || entry.end != end {
			panic(fmt.Sprintf("allocator for context %d reopened as %s over [%#x, %#x) but holds %s over [%#x, %#x)",
				ctx, backend, start, end, entry.backend, entry.start, entry.end))
		}
		entry.refs++
		return entry.allocator
	}

	var allocator Allocator
	switch backend {
	case BackendReloc:
		allocator = NewRelocAllocator(logger, start, end)
	default:
		panic(fmt.Sprintf("cannot open allocator with %s", backend))
	}

	registry[key] = &registryEntry{
		allocator: allocator,
		backend:   backend,
		start:     start,
		end:       end,
		refs:      1,
	}
	return allocator
}

// Close releases one open of the (device, ctx) allocator. The last close
// destroys the instance and returns true; earlier closes, and closes of
// pairs never opened, return false.
func Close(device gem.Device, ctx gem.ContextID) bool {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	key := registryKey{device: device, ctx: ctx}
	entry, ok := registry[key]
	if !ok {
		return false
	}

	entry.refs--
	if entry.refs > 0 {
		return false
	}

	delete(registry, key)
	entry.allocator.Destroy()
	return true
}
