package gem

import (
	"golang.org/x/sys/unix"
)

// Handle identifies a buffer object within one device session. Handles are
// assigned by the device on creation and are only meaningful against the
// device that produced them.
type Handle uint32

// ContextID identifies an execution context within one device session.
// DefaultContext addresses the session's implicit context.
type ContextID uint32

// DefaultContext is the implicit execution context every device session
// starts with.
const DefaultContext ContextID = 0

const (
	// PageSize is the smallest unit of GPU address-space placement. Buffer
	// sizes and pinned offsets are multiples of it.
	PageSize uint64 = 4096

	// EndOfBatch is the command-stream token that terminates a batch
	// buffer. A one-page buffer whose first word is EndOfBatch forms the
	// smallest valid command stream a device will accept.
	EndOfBatch uint32 = 0xa << 23
)

// ExecFlags adjust how a single ExecObject participates in a submission.
type ExecFlags uint64

const (
	// ExecPinned demands the object be placed at exactly ExecObject.Offset.
	// Submissions that cannot honor the placement are rejected rather than
	// relocated.
	ExecPinned ExecFlags = 1 << iota
	// ExecSupports48B marks the object as addressable above the 32-bit
	// boundary. Without it, devices with extended addressing keep the
	// object in the low 4 GiB.
	ExecSupports48B
)

var execFlagsMapping = map[ExecFlags]string{
	ExecPinned:      "ExecPinned",
	ExecSupports48B: "ExecSupports48B",
}

func (f ExecFlags) String() string {
	out := ""
	for bit := ExecFlags(1); bit != 0; bit <<= 1 {
		if f&bit == 0 {
			continue
		}
		name, ok := execFlagsMapping[bit]
		if !ok {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += name
	}
	if out == "" {
		return "0"
	}
	return out
}

// ExecObject names one buffer object participating in a submission,
// together with its requested placement.
type ExecObject struct {
	Handle Handle
	Offset uint64
	Flags  ExecFlags
}

// BufferFlags adjust buffer-object creation. No flags are defined at
// present; callers pass zero, and devices reject creation requests
// carrying flags they do not recognize.
type BufferFlags uint64

// Protection selects the access mode of a CPU mapping. The values are the
// host mmap protection bits.
type Protection int

const (
	ProtRead  Protection = unix.PROT_READ
	ProtWrite Protection = unix.PROT_WRITE
)

// Device is the low-level driver control surface this module consumes. It
// is intentionally narrow: the conformance harness sitting above owns
// device discovery and lifecycle, and hands an open Device down.
//
// Implementations are expected to be safe for concurrent use; all methods
// may block on hardware for unbounded but practically short periods.
type Device interface {
	// HardwareID returns a stable identifier of the hardware/driver
	// revision behind this device. Two sessions against the same hardware
	// report the same value; it keys the process-wide constraint cache.
	HardwareID() uint32

	// QueryMemoryRegions reports the device's memory topology. It returns
	// an IsNotSupported error on drivers predating the topology query, and
	// any other error only for genuine failures.
	QueryMemoryRegions() ([]RegionInfo, error)

	// CreateBuffer creates a buffer object of the given size, placed in the
	// first of the listed regions with free capacity. A nil or empty region
	// list requests a plain allocation in the device's default memory.
	// Unrecognized flags are rejected. It returns an IsNotSupported error
	// when region placement is requested but the driver predates it.
	CreateBuffer(size uint64, regions []RegionID, flags BufferFlags) (Handle, error)

	// DestroyBuffer releases a buffer object.
	DestroyBuffer(handle Handle) error

	// MapCPU maps size bytes of the buffer at the given intra-buffer offset
	// for CPU access. The returned slice stays valid until Unmap.
	MapCPU(handle Handle, offset, size uint64, prot Protection) ([]byte, error)

	// Unmap releases a mapping obtained from MapCPU.
	Unmap(data []byte) error

	// CreateContext creates an isolated execution context with its own
	// address space. Fixed systems without per-context address spaces
	// return an IsNotSupported error; callers fall back to DefaultContext.
	CreateContext() (ContextID, error)

	// DestroyContext destroys a context created by CreateContext.
	DestroyContext(ctx ContextID) error

	// Submit executes a command buffer. objects[0] holds the command
	// stream; the remaining objects are referenced by it. A placement the
	// device cannot satisfy fails with an IsRejected error; any other
	// error indicates a broken submission environment rather than a
	// constraint to discover.
	Submit(objects []ExecObject, ctx ContextID) error
}
