package gemtest

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/drmkit/gemkit/gem"
)

// RegionPair keys a placement-alignment constraint between the region
// holding a command stream (First) and the region holding an object it
// references (Second). The pair is ordered.
type RegionPair struct {
	First  gem.RegionID
	Second gem.RegionID
}

// Options configures a SimDevice. The zero value yields a fixed system
// with a single 1 GiB system-memory region, context support, and no
// placement constraints beyond page alignment.
type Options struct {
	// HardwareID is reported from SimDevice.HardwareID.
	HardwareID uint32

	// Regions is the memory-topology table. Nil selects a single
	// system-memory region of 1 GiB with everything unallocated.
	Regions []gem.RegionInfo

	// TopologyUnsupported makes the topology query and region-placed
	// buffer creation fail the way drivers predating them do.
	TopologyUnsupported bool

	// ContextsUnsupported makes context creation fail the way fixed
	// systems without per-context address spaces do.
	ContextsUnsupported bool

	// MinStartOffsets plants the smallest pinned offset each region
	// accepts. Absent regions accept any page-aligned offset.
	MinStartOffsets map[gem.RegionID]uint64

	// MinAlignments plants the placement granularity required between a
	// command stream in pair.First and an object in pair.Second. Absent
	// pairs require page alignment only.
	MinAlignments map[RegionPair]uint64
}

type simBuffer struct {
	size   uint64
	region gem.RegionID
	data   []byte
}

// SimDevice is an in-memory implementation of gem.Device for harnesses
// running without hardware access. Placement constraints are scripted
// through Options, and submissions are validated against them with the
// same errno classes a real driver produces, so constraint probes discover
// exactly the planted values.
//
// SimDevice is safe for concurrent use.
type SimDevice struct {
	mu sync.Mutex

	hardwareID          uint32
	regions             []gem.RegionInfo
	topologyUnsupported bool
	contextsUnsupported bool
	minStartOffsets     map[gem.RegionID]uint64
	minAlignments       map[RegionPair]uint64

	nextHandle gem.Handle
	buffers    map[gem.Handle]*simBuffer
	nextCtx    gem.ContextID
	contexts   map[gem.ContextID]struct{}

	submitFault   error
	topologyFault error

	submitCalls   int
	createCalls   int
	contextCalls  int
	topologyCalls int
}

var _ gem.Device = &SimDevice{}

// NewSimDevice creates a SimDevice from opts.
func NewSimDevice(opts Options) *SimDevice {
	regions := opts.Regions
	if regions == nil && !opts.TopologyUnsupported {
		regions = []gem.RegionInfo{
			{
				Region:          gem.RegionID{Class: gem.ClassSystem, Instance: 0},
				ProbedSize:      1 << 30,
				UnallocatedSize: 1 << 30,
			},
		}
	}

	return &SimDevice{
		hardwareID:          opts.HardwareID,
		regions:             regions,
		topologyUnsupported: opts.TopologyUnsupported,
		contextsUnsupported: opts.ContextsUnsupported,
		minStartOffsets:     opts.MinStartOffsets,
		minAlignments:       opts.MinAlignments,
		buffers:             map[gem.Handle]*simBuffer{},
		contexts:            map[gem.ContextID]struct{}{},
	}
}

// HardwareID returns the configured hardware identifier.
func (d *SimDevice) HardwareID() uint32 {
	return d.hardwareID
}

// QueryMemoryRegions returns a copy of the configured region table.
func (d *SimDevice) QueryMemoryRegions() ([]gem.RegionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.topologyCalls++

	if d.topologyFault != nil {
		err := d.topologyFault
		d.topologyFault = nil
		return nil, err
	}
	if d.topologyUnsupported {
		return nil, unix.EOPNOTSUPP
	}

	out := make([]gem.RegionInfo, len(d.regions))
	copy(out, d.regions)
	return out, nil
}

// CreateBuffer creates a byte-slice-backed buffer object. No buffer
// flags are recognized.
func (d *SimDevice) CreateBuffer(size uint64, regions []gem.RegionID, flags gem.BufferFlags) (gem.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.createCalls++

	if size == 0 || size%gem.PageSize != 0 {
		return 0, errors.Wrapf(unix.EINVAL, "buffer size %#x", size)
	}
	if flags != 0 {
		return 0, errors.Wrapf(unix.EINVAL, "buffer flags %#x", flags)
	}

	placed := gem.RegionID{Class: gem.ClassSystem, Instance: 0}
	if len(regions) > 0 {
		if d.topologyUnsupported {
			return 0, unix.EOPNOTSUPP
		}
		found := false
		for _, want := range regions {
			for _, info := range d.regions {
				if info.Region == want {
					placed = want
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return 0, errors.Wrapf(unix.ENOENT, "no such region %s", regions[0])
		}
	}

	d.nextHandle++
	handle := d.nextHandle
	d.buffers[handle] = &simBuffer{
		size:   size,
		region: placed,
		data:   make([]byte, size),
	}
	return handle, nil
}

// DestroyBuffer releases a buffer object.
func (d *SimDevice) DestroyBuffer(handle gem.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.buffers[handle]; !ok {
		return errors.Wrapf(unix.ENOENT, "no such buffer %d", handle)
	}
	delete(d.buffers, handle)
	return nil
}

// MapCPU returns a window into the buffer's backing slice. Writes are
// visible to subsequent submissions.
func (d *SimDevice) MapCPU(handle gem.Handle, offset, size uint64, prot gem.Protection) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf, ok := d.buffers[handle]
	if !ok {
		return nil, errors.Wrapf(unix.ENOENT, "no such buffer %d", handle)
	}
	if offset+size > buf.size {
		return nil, errors.Wrapf(unix.EINVAL, "mapping %#x+%#x exceeds buffer size %#x", offset, size, buf.size)
	}
	return buf.data[offset : offset+size], nil
}

// Unmap releases a mapping. Backing slices have no mapping state, so this
// only mirrors the Device contract.
func (d *SimDevice) Unmap(data []byte) error {
	return nil
}

// CreateContext creates an isolated context, or reports not-supported when
// configured as a fixed system.
func (d *SimDevice) CreateContext() (gem.ContextID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.contextCalls++

	if d.contextsUnsupported {
		return 0, unix.ENODEV
	}

	d.nextCtx++
	ctx := d.nextCtx
	d.contexts[ctx] = struct{}{}
	return ctx, nil
}

// DestroyContext destroys a context created by CreateContext.
func (d *SimDevice) DestroyContext(ctx gem.ContextID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.contexts[ctx]; !ok {
		return errors.Wrapf(unix.ENOENT, "no such context %d", ctx)
	}
	delete(d.contexts, ctx)
	return nil
}

// Submit validates the placement of every pinned object against the
// scripted constraints. Violations fail with the rejection errno classes;
// malformed submissions fail with errnos outside the rejection class.
func (d *SimDevice) Submit(objects []gem.ExecObject, ctx gem.ContextID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.submitCalls++

	if d.submitFault != nil {
		err := d.submitFault
		d.submitFault = nil
		return err
	}

	if len(objects) == 0 {
		return errors.Wrap(unix.EINVAL, "empty submission")
	}
	if ctx != gem.DefaultContext {
		if _, ok := d.contexts[ctx]; !ok {
			return errors.Wrapf(unix.ENOENT, "no such context %d", ctx)
		}
	}

	bufs := make([]*simBuffer, len(objects))
	for i, obj := range objects {
		buf, ok := d.buffers[obj.Handle]
		if !ok {
			return errors.Wrapf(unix.ENOENT, "no such buffer %d", obj.Handle)
		}
		bufs[i] = buf
	}

	batchRegion := bufs[0].region
	for i, obj := range objects {
		if obj.Flags&gem.ExecPinned == 0 {
			continue
		}

		buf := bufs[i]
		if min := d.minStartOffsets[buf.region]; obj.Offset < min {
			return errors.Wrapf(unix.ENOSPC, "object %d pinned at %#x below region %s minimum %#x",
				i, obj.Offset, buf.region, min)
		}
		if obj.Offset+buf.size > 1<<32 && obj.Flags&gem.ExecSupports48B == 0 {
			return errors.Wrapf(unix.EINVAL, "object %d pinned at %#x without extended addressing",
				i, obj.Offset)
		}

		granularity := gem.PageSize
		if i > 0 {
			if required, ok := d.minAlignments[RegionPair{First: batchRegion, Second: buf.region}]; ok {
				granularity = required
			}
		}
		if obj.Offset%granularity != 0 {
			return errors.Wrapf(unix.ENOSPC, "object %d pinned at %#x, region pair requires %#x alignment",
				i, obj.Offset, granularity)
		}

		for j := 0; j < i; j++ {
			if objects[j].Flags&gem.ExecPinned == 0 {
				continue
			}
			if obj.Offset < objects[j].Offset+bufs[j].size && objects[j].Offset < obj.Offset+buf.size {
				return errors.Wrapf(unix.ENOSPC, "objects %d and %d overlap", j, i)
			}
		}
	}

	return nil
}

// FailNextSubmit arranges for the next Submit call to fail with err,
// regardless of placement. It models a broken submission environment.
func (d *SimDevice) FailNextSubmit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitFault = err
}

// FailNextTopologyQuery arranges for the next QueryMemoryRegions call to
// fail with err.
func (d *SimDevice) FailNextTopologyQuery(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topologyFault = err
}

// SubmitCalls returns the number of Submit invocations so far.
func (d *SimDevice) SubmitCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitCalls
}

// CreateCalls returns the number of CreateBuffer invocations so far.
func (d *SimDevice) CreateCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createCalls
}

// ContextCalls returns the number of CreateContext invocations so far.
func (d *SimDevice) ContextCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contextCalls
}

// TopologyCalls returns the number of QueryMemoryRegions invocations so
// far.
func (d *SimDevice) TopologyCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.topologyCalls
}

// OpenBuffers returns the number of live buffer objects. Probes are
// expected to leave none behind.
func (d *SimDevice) OpenBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// OpenContexts returns the number of live contexts. Probes are expected to
// leave none behind.
func (d *SimDevice) OpenContexts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contexts)
}
